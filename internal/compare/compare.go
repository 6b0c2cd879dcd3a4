// Package compare builds the Stage 2 long-run comparison report: per-budget
// winners and per-row deltas against a named baseline configuration.
package compare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/branchbench/branchbench/internal/artifact"
)

// LongRun is one Stage 2 long-run measurement.
type LongRun struct {
	Config            string  `json:"config"`
	TokenBudget       int64   `json:"token_budget"`
	FinalValBpb       float64 `json:"final_val_bpb"`
	MinValBpb         float64 `json:"min_val_bpb"`
	SelectedTokPerSec float64 `json:"selected_tok_per_sec"`
	Unstable          bool    `json:"unstable"`
}

// Winner is the best configuration within one token budget.
type Winner struct {
	TokenBudget         int64   `json:"token_budget"`
	BestConfig          string  `json:"best_config"`
	BaselineConfig      string  `json:"baseline_config"`
	BestFinalValBpb     float64 `json:"best_final_val_bpb"`
	BaselineFinalValBpb float64 `json:"baseline_final_val_bpb"`
	DeltaFinalValBpb    float64 `json:"delta_final_val_bpb"`
}

// Row is one run's comparison against its budget's baseline.
type Row struct {
	Config                   string  `json:"config"`
	TokenBudget              int64   `json:"token_budget"`
	Unstable                 bool    `json:"unstable"`
	FinalValBpb              float64 `json:"final_val_bpb"`
	MinValBpb                float64 `json:"min_val_bpb"`
	SelectedTokPerSec        float64 `json:"selected_tok_per_sec"`
	DeltaFinalValBpb         float64 `json:"delta_final_val_bpb_vs_baseline"`
	DeltaMinValBpb           float64 `json:"delta_min_val_bpb_vs_baseline"`
	DeltaTokPerSecPct        float64 `json:"delta_tok_per_sec_pct_vs_baseline"`
	BetterFinalThanBaseline  bool    `json:"better_final_than_baseline"`
}

// Report is the full comparison across every token budget.
type Report struct {
	BaselineConfig  string   `json:"baseline_config"`
	TokenBudgets    []int64  `json:"token_budgets"`
	Comparisons     []Row    `json:"comparisons"`
	WinnersByBudget []Winner `json:"winners_by_budget"`
	MaxTokenBudget  int64    `json:"max_token_budget"`
	TopAtMaxBudget  []Row    `json:"top_at_max_budget"`
}

// LoadRuns reads a long-run metrics artifact and validates every row with
// named errors. Indices in errors are 1-based, matching the emitted
// artifact's human-facing numbering.
func LoadRuns(path string) ([]LongRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input JSON must be an object")
	}
	rawRuns, ok := payload["runs"].([]any)
	if !ok || len(rawRuns) == 0 {
		return nil, fmt.Errorf("input JSON must include non-empty runs list")
	}

	runs := make([]LongRun, 0, len(rawRuns))
	for i, rawRow := range rawRuns {
		idx := i + 1
		row, ok := rawRow.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("runs[%d] must be an object", idx)
		}
		config, ok := row["config"].(string)
		if !ok || config == "" {
			return nil, fmt.Errorf("runs[%d].config must be non-empty string", idx)
		}
		budget, ok := artifact.AsInt(row["token_budget"])
		if !ok || budget <= 0 {
			return nil, fmt.Errorf("runs[%d].token_budget must be a positive integer", idx)
		}
		finalBpb, ok := artifact.AsFloat(row["final_val_bpb"])
		if !ok {
			return nil, fmt.Errorf("runs[%d].final_val_bpb must be numeric", idx)
		}
		minBpb, ok := artifact.AsFloat(row["min_val_bpb"])
		if !ok {
			return nil, fmt.Errorf("runs[%d].min_val_bpb must be numeric", idx)
		}
		tps, ok := artifact.AsFloat(row["selected_tok_per_sec"])
		if !ok {
			return nil, fmt.Errorf("runs[%d].selected_tok_per_sec must be numeric", idx)
		}
		unstable := false
		if v, present := row["unstable"]; present && v != nil {
			unstable, ok = v.(bool)
			if !ok {
				return nil, fmt.Errorf("runs[%d].unstable must be boolean when provided", idx)
			}
		}
		runs = append(runs, LongRun{
			Config:            config,
			TokenBudget:       budget,
			FinalValBpb:       finalBpb,
			MinValBpb:         minBpb,
			SelectedTokPerSec: tps,
			Unstable:          unstable,
		})
	}
	return runs, nil
}

// Build groups runs by token budget, requires exactly one baseline per
// budget, and computes winners and per-row deltas. Rows in each budget sort
// ascending by final_val_bpb; winner ties break by input order.
func Build(runs []LongRun, baselineConfig string) (*Report, error) {
	byBudget := map[int64][]LongRun{}
	for _, run := range runs {
		byBudget[run.TokenBudget] = append(byBudget[run.TokenBudget], run)
	}
	budgets := make([]int64, 0, len(byBudget))
	for budget := range byBudget {
		budgets = append(budgets, budget)
	}
	sort.Slice(budgets, func(i, j int) bool { return budgets[i] < budgets[j] })

	report := &Report{
		BaselineConfig: baselineConfig,
		TokenBudgets:   budgets,
	}

	for _, budget := range budgets {
		rows := byBudget[budget]

		var baseline *LongRun
		baselineCount := 0
		for i := range rows {
			if rows[i].Config == baselineConfig {
				baselineCount++
				baseline = &rows[i]
			}
		}
		if baselineCount != 1 {
			return nil, fmt.Errorf(
				"token_budget=%d must include exactly one baseline row for config '%s'",
				budget, baselineConfig)
		}

		best := rows[0]
		for _, row := range rows[1:] {
			if row.FinalValBpb < best.FinalValBpb {
				best = row
			}
		}
		report.WinnersByBudget = append(report.WinnersByBudget, Winner{
			TokenBudget:         budget,
			BestConfig:          best.Config,
			BaselineConfig:      baselineConfig,
			BestFinalValBpb:     best.FinalValBpb,
			BaselineFinalValBpb: baseline.FinalValBpb,
			DeltaFinalValBpb:    best.FinalValBpb - baseline.FinalValBpb,
		})

		sorted := make([]LongRun, len(rows))
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FinalValBpb < sorted[j].FinalValBpb })
		for _, row := range sorted {
			tpsDeltaPct := 0.0
			if baseline.SelectedTokPerSec > 0 {
				tpsDeltaPct = (row.SelectedTokPerSec/baseline.SelectedTokPerSec - 1.0) * 100.0
			}
			report.Comparisons = append(report.Comparisons, Row{
				Config:                  row.Config,
				TokenBudget:             budget,
				Unstable:                row.Unstable,
				FinalValBpb:             row.FinalValBpb,
				MinValBpb:               row.MinValBpb,
				SelectedTokPerSec:       row.SelectedTokPerSec,
				DeltaFinalValBpb:        row.FinalValBpb - baseline.FinalValBpb,
				DeltaMinValBpb:          row.MinValBpb - baseline.MinValBpb,
				DeltaTokPerSecPct:       tpsDeltaPct,
				BetterFinalThanBaseline: row.FinalValBpb < baseline.FinalValBpb,
			})
		}
	}

	report.MaxTokenBudget = budgets[len(budgets)-1]
	for _, row := range report.Comparisons {
		if row.TokenBudget == report.MaxTokenBudget {
			report.TopAtMaxBudget = append(report.TopAtMaxBudget, row)
		}
	}
	sort.SliceStable(report.TopAtMaxBudget, func(i, j int) bool {
		return report.TopAtMaxBudget[i].FinalValBpb < report.TopAtMaxBudget[j].FinalValBpb
	})
	return report, nil
}
