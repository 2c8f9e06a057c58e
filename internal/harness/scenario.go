package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a planning scenario: a manifest, the attachments a prior
// build left in the store, and a sequence of plans run against them.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifest is the CUE unit manifest.
	Manifest string `yaml:"manifest"`

	// Prior seeds the attachment store before the first run.
	Prior []PriorAttachment `yaml:"prior,omitempty"`

	// Runs are planned in order against the same store.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the combined trace and the final store.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// PriorAttachment is a stored build outcome.
type PriorAttachment struct {
	Unit     string `yaml:"unit"`
	Platform string `yaml:"platform"`

	// Matching uses the unit's current manifest content hash.
	Matching bool `yaml:"matching,omitempty"`

	// Hash is an explicit content hash. Ignored when Matching is set.
	Hash string `yaml:"hash,omitempty"`

	BuildDependencies   []string `yaml:"build_dependencies,omitempty"`
	RuntimeDependencies []string `yaml:"runtime_dependencies,omitempty"`

	// Status is "success" (default) or "failed".
	Status string `yaml:"status,omitempty"`
}

// RunStep is one plan.
type RunStep struct {
	// Name labels the run in the trace. Defaults to run-N.
	Name string `yaml:"name,omitempty"`

	// Requests are the units to build. Empty requests every declared unit.
	Requests []string `yaml:"requests,omitempty"`

	// Platforms replaces the session platforms for this run.
	Platforms []string `yaml:"platforms,omitempty"`

	// Incremental overrides the session setting when present.
	Incremental *bool `yaml:"incremental,omitempty"`

	StrictOrder bool `yaml:"strict_order,omitempty"`

	// Record stores an attachment for every built unit.
	Record bool `yaml:"record,omitempty"`

	// Sources replaces unit sources before this run. Edits carry over to
	// later runs.
	Sources map[string]string `yaml:"sources,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected plan.
type ExpectClause struct {
	// Build is the exact build order. Nil leaves it unchecked.
	Build []string `yaml:"build,omitempty"`

	// Skip maps every skipped unit to its reason name. Nil leaves it unchecked.
	Skip map[string]string `yaml:"skip,omitempty"`

	// Error is the expected runtime error code, e.g. LOAD_ORDER_CYCLE.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final store.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event for Unit (of Kind, in Run) exists
	// - "trace_order": Units appear in order among build events
	// - "trace_count": exactly Count events match Kind, Unit and Run
	// - "final_state": one attachments row matches Where and Expect
	Type string `yaml:"type"`

	// Run restricts trace assertions to one run.
	Run string `yaml:"run,omitempty"`

	// Kind is "build" or "skip". Empty matches both, except trace_order
	// which defaults to build.
	Kind string `yaml:"kind,omitempty"`

	Unit   string `yaml:"unit,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	Units []string `yaml:"units,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Where specifies attachment row filters (used by final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (used by final_state).
	// Subset match: only specified columns are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid, and
// fills in default run names.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	for i, p := range s.Prior {
		if p.Unit == "" {
			return fmt.Errorf("prior[%d]: unit is required", i)
		}
		if p.Platform == "" {
			return fmt.Errorf("prior[%d]: platform is required", i)
		}
		if !p.Matching && p.Hash == "" {
			return fmt.Errorf("prior[%d]: one of matching or hash is required", i)
		}
		switch p.Status {
		case "", "success", "failed":
		default:
			return fmt.Errorf("prior[%d]: unknown status %q", i, p.Status)
		}
	}

	seen := make(map[string]bool)
	for i := range s.Runs {
		run := &s.Runs[i]
		if run.Name == "" {
			run.Name = fmt.Sprintf("run-%d", i+1)
		}
		if seen[run.Name] {
			return fmt.Errorf("runs[%d]: duplicate run name %q", i, run.Name)
		}
		seen[run.Name] = true
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, seen); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Run != "" && !runs[a.Run] {
		return fmt.Errorf("assertions[%d]: unknown run %q", index, a.Run)
	}
	switch a.Kind {
	case "", EventBuild, EventSkip:
	default:
		return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Unit == "" {
			return fmt.Errorf("assertions[%d]: unit is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Units) == 0 {
			return fmt.Errorf("assertions[%d]: units list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
