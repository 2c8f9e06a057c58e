package harness

// Trace event kinds.
const (
	EventBuild = "build"
	EventSkip  = "skip"
)

// TraceEvent is one line of a plan's output: a unit to build or a unit
// skipped with its reason.
type TraceEvent struct {
	Run    string `json:"run"`
	Kind   string `json:"kind"`
	Unit   string `json:"unit"`
	Reason string `json:"reason,omitempty"`
	Seq    int64  `json:"seq"`
}

// RunResult summarizes one planned run of a scenario.
type RunResult struct {
	Name      string   `json:"name"`
	ClusterID string   `json:"cluster_id"`
	Build     []string `json:"build"`
	Recorded  int      `json:"recorded"`
	// Error is the runtime error code when the run failed.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace lists build and skip events across all runs in order.
	Trace []TraceEvent `json:"trace"`

	Runs []RunResult `json:"runs"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Runs:   []RunResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddBuildTrace appends a build event.
func (r *Result) AddBuildTrace(run, unit string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{Run: run, Kind: EventBuild, Unit: unit, Seq: seq})
}

// AddSkipTrace appends a skip event.
func (r *Result) AddSkipTrace(run, unit, reason string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{Run: run, Kind: EventSkip, Unit: unit, Reason: reason, Seq: seq})
}

// events returns the trace filtered to one run, or all of it when run is empty.
func (r *Result) events(run string) []TraceEvent {
	if run == "" {
		return r.Trace
	}
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Run == run {
			out = append(out, e)
		}
	}
	return out
}
