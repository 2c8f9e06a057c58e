package cluster

import (
	"container/heap"
	"log/slog"
	"sort"
)

// seqHeap is a min-heap of vertices ordered by visit sequence.
type seqHeap []*Vertex

func (h seqHeap) Len() int           { return len(h) }
func (h seqHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h seqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *seqHeap) Push(x any) {
	*h = append(*h, x.(*Vertex))
}

func (h *seqHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return v
}

// sortLeafFirst orders nodes so every unit comes after the units it depends
// on. Ties go to the earliest visited unit. A cycle is broken by emitting
// its earliest visited remaining member.
func sortLeafFirst(clusterID string, nodes []*Vertex, graph map[string]map[string]edgeKind) []*Vertex {
	byName := make(map[string]*Vertex, len(nodes))
	for _, v := range nodes {
		byName[v.Name()] = v
	}

	remaining := make(map[*Vertex]int, len(nodes))
	dependents := make(map[*Vertex][]*Vertex, len(nodes))
	for _, v := range nodes {
		remaining[v] = 0
		for dep := range graph[v.Name()] {
			dv, ok := byName[dep]
			if !ok || dv == v {
				continue
			}
			remaining[v]++
			dependents[dv] = append(dependents[dv], v)
		}
	}

	ready := &seqHeap{}
	for _, v := range nodes {
		if remaining[v] == 0 {
			heap.Push(ready, v)
		}
	}

	emitted := make(map[*Vertex]bool, len(nodes))
	out := make([]*Vertex, 0, len(nodes))
	emit := func(v *Vertex) {
		emitted[v] = true
		out = append(out, v)
		for _, d := range dependents[v] {
			if emitted[d] {
				continue
			}
			remaining[d]--
			if remaining[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}

	for len(out) < len(nodes) {
		if ready.Len() > 0 {
			v := heap.Pop(ready).(*Vertex)
			if !emitted[v] {
				emit(v)
			}
			continue
		}

		var next *Vertex
		for _, v := range nodes {
			if !emitted[v] && (next == nil || v.seq < next.seq) {
				next = v
			}
		}
		slog.Debug("breaking dependency cycle by visit order",
			"cluster", clusterID,
			"unit", next.Name(),
			"waiting_on", remaining[next])
		emit(next)
	}
	return out
}

// findCycles returns the strongly connected components of the graph that
// form cycles: more than one member, or a single member with a self edge.
// Members of each component are sorted, and components are sorted by their
// first member.
func findCycles(nodes []*Vertex, graph map[string]map[string]edgeKind) [][]string {
	names := make([]string, 0, len(nodes))
	present := make(map[string]bool, len(nodes))
	for _, v := range nodes {
		names = append(names, v.Name())
		present[v.Name()] = true
	}
	sort.Strings(names)

	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		cycles  [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range sortedKeys(graph[v]) {
			if !present[w] {
				continue
			}
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
			_, selfLoop := graph[v][v]
			if len(scc) > 1 || selfLoop {
				sort.Strings(scc)
				cycles = append(cycles, scc)
			}
		}
	}

	for _, name := range names {
		if _, visited := indices[name]; !visited {
			strongConnect(name)
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i][0] < cycles[j][0]
	})
	return cycles
}
