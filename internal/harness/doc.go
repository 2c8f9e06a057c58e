// Package harness provides scenario testing for build plans.
//
// A scenario compiles a unit manifest, seeds the attachment store with the
// outcome of a prior build, and plans one or more runs against it. Each run
// may edit unit sources first and may record what it built, so a scenario
// can walk a full edit-and-rebuild cycle.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: chain_edit
//	description: "Editing a leaf rebuilds its dependents"
//	manifest: |
//	  session: platforms: ["win64"]
//	  unit: "A": {type: "mesh", source: "a", hard: ["B"]}
//	  unit: "B": {type: "mesh", source: "b", hard: ["C"], build: ["C"]}
//	  unit: "C": {type: "texture", source: "c"}
//	prior:
//	  - unit: C
//	    platform: win64
//	    matching: true
//	runs:
//	  - name: edit
//	    sources: {C: "c2"}
//	    record: true
//	    expect:
//	      build: [C, B, A]
//	assertions:
//	  - type: trace_order
//	    units: [C, B]
//	  - type: final_state
//	    where: {name: C, platform: win64}
//	    expect: {recorded_by: chain_edit}
//
// # Assertion Types
//
//   - trace_contains: an event matching kind, unit and reason exists
//   - trace_order: units appear in the given order among build events
//   - trace_count: exactly count events match
//   - final_state: one attachments row matches where and expect
//
// # Deterministic Testing
//
// Every run uses cluster IDs derived from the scenario name and a
// deterministic logical clock, so the snapshot of a scenario is stable and
// can be compared against a golden file.
package harness
