package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/kiln/internal/unit"
)

// Cycle kinds reported by AnalyzeCycles.
const (
	// CycleLoad is a cycle through hard and soft dependencies. It forces
	// the build order to break the cycle at an arbitrary unit.
	CycleLoad = "load"
	// CycleBuild is a cycle through build dependencies. Incremental
	// verdicts inside it are settled by cycle resolution.
	CycleBuild = "build"
)

// CycleWarning represents a dependency cycle among declared units.
//
// Cycles are warnings, not errors: the scheduler tolerates both kinds.
// Strict ordering turns a load cycle among units to build into a plan error.
type CycleWarning struct {
	Kind    string   `json:"kind"`
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeCycles performs static cycle analysis on the declared units.
//
// The algorithm:
//  1. Build a load graph from hard and soft edges and a build graph from
//     build edges; generated units add an edge to their generator and to
//     their declared dependencies in the load graph
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
//
// Warnings are ordered by kind, then by the first unit of their path.
func AnalyzeCycles(m *Manifest) []CycleWarning {
	load := make(dependencyGraph)
	build := make(dependencyGraph)
	for _, d := range m.Units {
		load.addNode(d.Name)
		build.addNode(d.Name)
		for _, dep := range d.Hard {
			load.addEdge(d.Name, dep)
		}
		for _, dep := range d.Soft {
			load.addEdge(d.Name, dep)
		}
		for _, dep := range d.Build {
			build.addEdge(d.Name, dep)
		}
		for _, g := range d.Generates {
			name := unit.GeneratedName(d.Name, g.ID)
			load.addEdge(name, d.Name)
			for _, dep := range g.Dependencies {
				load.addEdge(name, dep)
			}
		}
	}

	warnings := []CycleWarning{}
	for _, pass := range []struct {
		kind  string
		graph dependencyGraph
	}{{CycleBuild, build}, {CycleLoad, load}} {
		for _, scc := range tarjanSCC(pass.graph) {
			if len(scc) > 1 || hasSelfLoop(scc[0], pass.graph) {
				warnings = append(warnings, cycleSCCToWarning(pass.kind, scc, pass.graph))
			}
		}
	}
	return warnings
}

// dependencyGraph maps a unit to its sorted, distinct dependencies.
type dependencyGraph map[string][]string

func (g dependencyGraph) addNode(name string) {
	if g[name] == nil {
		g[name] = []string{}
	}
}

func (g dependencyGraph) addEdge(from, to string) {
	g.addNode(from)
	g.addNode(to)
	deps := g[from]
	i := sort.SearchStrings(deps, to)
	if i < len(deps) && deps[i] == to {
		return
	}
	deps = append(deps, "")
	copy(deps[i+1:], deps[i:])
	deps[i] = to
	g[from] = deps
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order and each SCC is sorted, so the result
// is deterministic.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(kind string, scc []string, graph dependencyGraph) CycleWarning {
	var path []string
	if len(scc) == 1 {
		path = []string{scc[0], scc[0]}
	} else {
		path = reconstructCyclePath(scc, graph)
	}
	return CycleWarning{
		Kind:    kind,
		Path:    path,
		Message: fmt.Sprintf("%s dependency cycle: %s", kind, strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns to the start or runs out of unvisited members.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
