// Package manifest loads a build session from CUE files.
//
// A manifest directory holds one CUE package with three top-level fields:
//
//	session: {
//		platforms:    ["win64", "ps5"]
//		incremental:  true
//		strict_order: false
//		never_build:  ["Dev/**"]
//		scope:        ["Game/**"]
//		allow_types:  []
//		deny_types:   ["editor_only"]
//	}
//
//	unit: "Game/Hero": {
//		type:   "mesh"
//		source: "hero-v3"
//		hard:   ["Game/Skeleton"]
//		soft:   ["Game/HeroVariant"]
//		build:  ["Game/Material"]
//		defines: ["LOD_BIAS=1"]
//	}
//
//	unit: "World/Main": {
//		type:   "world"
//		source: "main-v1"
//		generates: "cell_0_0": {deps: ["Game/Tree"], map_like: true, seed: "a"}
//	}
//
// A unit's content key is derived from its name, type, source string and build
// definitions, so editing source is how a manifest marks content as changed.
// Generated units inherit their generator's build definitions. Units declaring
// generates are generators; Splitters registers a splitter for their types
// that lists exactly the declared generated units.
//
// The loaded Manifest is the cluster's dependency-metadata source and the
// generation manager's lookup.
package manifest
