// Package pilot holds the pure compute core of the Stage 1 pilot sweep: the
// fixed target grid, training command construction, the ranking rule, and
// finalist selection. Nothing in this package performs I/O.
package pilot

// Target is one immutable architecture point in the fixed search grid,
// trading depth for branch width at constant effective size.
type Target struct {
	Label       string `json:"label"`
	Depth       int    `json:"depth"`
	NBranches   int    `json:"n_branches"`
	AspectRatio int    `json:"aspect_ratio"`
}

// BaselineConfig is the always-present reference configuration every other
// target is measured against.
const BaselineConfig = "12x1"

// DefaultTargets is the canonical seven-point pilot grid. The 12x1 baseline
// is always first.
var DefaultTargets = []Target{
	{Label: "12x1", Depth: 12, NBranches: 1, AspectRatio: 64},
	{Label: "6x2", Depth: 6, NBranches: 2, AspectRatio: 128},
	{Label: "4x3", Depth: 4, NBranches: 3, AspectRatio: 192},
	{Label: "3x4", Depth: 3, NBranches: 4, AspectRatio: 256},
	{Label: "2x5", Depth: 2, NBranches: 5, AspectRatio: 384},
	{Label: "2x6", Depth: 2, NBranches: 6, AspectRatio: 384},
	{Label: "1x10", Depth: 1, NBranches: 10, AspectRatio: 768},
}

// DefaultBenchTargets is the reduced trio used by the fixed-shape throughput
// benchmark.
var DefaultBenchTargets = []Target{
	{Label: "12x1", Depth: 12, NBranches: 1, AspectRatio: 64},
	{Label: "2x5", Depth: 2, NBranches: 5, AspectRatio: 384},
	{Label: "1x10", Depth: 1, NBranches: 10, AspectRatio: 768},
}
