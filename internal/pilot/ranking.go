package pilot

import (
	"fmt"
	"math"
	"sort"
)

// Default ranking thresholds.
const (
	DefaultSlowdownThresholdPct = 5.0
	DefaultClearBpbGain         = 0.02
	DefaultMaxFinalists         = 3
)

// Run is one configuration's measured outcome from a single pilot training
// invocation. Optional metrics are pointers so that absent values persist as
// JSON null rather than a misleading zero.
type Run struct {
	Config        string   `json:"config"`
	Depth         int      `json:"depth"`
	NBranches     int      `json:"n_branches"`
	AspectRatio   int      `json:"aspect_ratio"`
	NumIterations int64    `json:"num_iterations"`
	TokenBudget   *int64   `json:"token_budget"`
	Command       []string `json:"command,omitempty"`

	AvgTokPerSec      *int64   `json:"avg_tok_per_sec"`
	FinalTokPerSec    *int64   `json:"final_tok_per_sec"`
	SelectedTokPerSec float64  `json:"selected_tok_per_sec"`
	FinalMFU          *float64 `json:"final_mfu"`
	PeakMemoryMiB     *float64 `json:"peak_memory_mib"`
	FinalValBpb       *float64 `json:"final_val_bpb"`
	MinValBpb         *float64 `json:"min_val_bpb"`

	Unstable          bool `json:"unstable"`
	CommandFailed     bool `json:"command_failed"`
	FailureReturncode *int `json:"failure_returncode"`
}

// RankedRun is a Run enriched by the ranking rule. Records are never mutated
// after persistence; ranking always produces a new slice.
type RankedRun struct {
	Run
	SlowdownPct      float64 `json:"slowdown_pct"`
	Qualified        bool    `json:"qualified"`
	DisqualifyReason *string `json:"disqualify_reason"`
	Rank             *int    `json:"rank"`
}

// Disqualification reasons, in precedence order.
const (
	ReasonUnstable            = "unstable"
	ReasonTokenBudgetMismatch = "token-budget-mismatch"
)

// ApplyRankingRule computes relative slowdown against the 12x1 baseline,
// applies the disqualification rule, and returns the records in ranking
// order. Precedence: instability beats a token-budget mismatch beats being
// slow. A slower-than-threshold config still qualifies when its best
// validation bpb clearly beats the baseline's by at least clearBpbGain.
func ApplyRankingRule(runs []Run, slowdownThresholdPct, clearBpbGain float64) ([]RankedRun, error) {
	var baseline *Run
	for i := range runs {
		if runs[i].Config == BaselineConfig {
			if baseline != nil {
				return nil, fmt.Errorf("found more than one %s baseline run", BaselineConfig)
			}
			baseline = &runs[i]
		}
	}
	if baseline == nil {
		return nil, fmt.Errorf("no %s baseline run found", BaselineConfig)
	}
	baselineTok := baseline.SelectedTokPerSec
	if baselineTok <= 0 {
		return nil, fmt.Errorf("baseline selected_tok_per_sec must be > 0")
	}
	baselineBpb := baseline.MinValBpb
	baselineBudget := baseline.TokenBudget

	ranked := make([]RankedRun, 0, len(runs))
	for _, run := range runs {
		slowdownPct := 100.0 * (1.0 - run.SelectedTokPerSec/baselineTok)
		clearlyBetter := baselineBpb != nil && run.MinValBpb != nil &&
			*run.MinValBpb <= *baselineBpb-clearBpbGain

		var reason *string
		switch {
		case run.Unstable:
			reason = strPtr(ReasonUnstable)
		case baselineBudget != nil && (run.TokenBudget == nil || *run.TokenBudget != *baselineBudget):
			reason = strPtr(ReasonTokenBudgetMismatch)
		case slowdownPct > slowdownThresholdPct && !clearlyBetter:
			reason = strPtr(fmt.Sprintf("slow>%.1f%%", slowdownThresholdPct))
		}

		ranked = append(ranked, RankedRun{
			Run:              run,
			SlowdownPct:      slowdownPct,
			Qualified:        reason == nil,
			DisqualifyReason: reason,
		})
	}

	// Qualified rows first, then best (lowest) min val bpb with unknown
	// sorting last, then highest throughput.
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Qualified != b.Qualified {
			return a.Qualified
		}
		abpb, bbpb := bpbOrInf(a.MinValBpb), bpbOrInf(b.MinValBpb)
		if abpb != bbpb {
			return abpb < bbpb
		}
		return a.SelectedTokPerSec > b.SelectedTokPerSec
	})

	next := 1
	for i := range ranked {
		if ranked[i].Qualified {
			rank := next
			ranked[i].Rank = &rank
			next++
		}
	}
	return ranked, nil
}

// SelectFinalists returns the first maxFinalists qualified records in ranked
// order. It filters and truncates only; it never re-sorts.
func SelectFinalists(ranked []RankedRun, maxFinalists int) ([]RankedRun, error) {
	if maxFinalists <= 0 {
		return nil, fmt.Errorf("max_finalists must be > 0")
	}
	finalists := make([]RankedRun, 0, maxFinalists)
	for _, row := range ranked {
		if !row.Qualified {
			continue
		}
		finalists = append(finalists, row)
		if len(finalists) == maxFinalists {
			break
		}
	}
	return finalists, nil
}

func bpbOrInf(v *float64) float64 {
	if v == nil {
		return math.Inf(1)
	}
	return *v
}

func strPtr(s string) *string { return &s }
