package compare

import (
	"fmt"
	"strings"

	"github.com/branchbench/branchbench/internal/artifact"
)

type reportDoc struct {
	Source string `json:"source"`
	*Report
}

// WriteJSON writes the comparison report JSON, recording the metrics
// artifact it was derived from.
func WriteJSON(path string, report *Report, source string) error {
	return artifact.WriteJSON(path, reportDoc{Source: source, Report: report})
}

// WriteMarkdown writes the two-table markdown rendering of the report.
func WriteMarkdown(path string, report *Report, source string) error {
	budgets := make([]string, len(report.TokenBudgets))
	for i, budget := range report.TokenBudgets {
		budgets[i] = fmt.Sprintf("%d", budget)
	}
	lines := []string{
		"# Stage 2 Baseline Comparison",
		"",
		fmt.Sprintf("- source: `%s`", source),
		fmt.Sprintf("- baseline_config: `%s`", report.BaselineConfig),
		fmt.Sprintf("- token_budgets: `%s`", strings.Join(budgets, ",")),
		"",
		"## Winners by token budget",
		"",
		"| token_budget | best_config | best_final_val_bpb | baseline_final_val_bpb | delta_final_val_bpb |",
		"|---:|---|---:|---:|---:|",
	}
	for _, w := range report.WinnersByBudget {
		lines = append(lines, fmt.Sprintf(
			"| %d | %s | %.6f | %.6f | %+.6f |",
			w.TokenBudget, w.BestConfig, w.BestFinalValBpb, w.BaselineFinalValBpb, w.DeltaFinalValBpb))
	}

	lines = append(lines,
		"",
		"## Per-run comparison",
		"",
		"| config | token_budget | unstable | final_val_bpb | delta_final_vs_baseline | tok_per_sec | delta_tok_per_sec_pct |",
		"|---|---:|---|---:|---:|---:|---:|",
	)
	for _, row := range report.Comparisons {
		lines = append(lines, fmt.Sprintf(
			"| %s | %d | %t | %.6f | %+.6f | %.1f | %+.2f%% |",
			row.Config, row.TokenBudget, row.Unstable, row.FinalValBpb,
			row.DeltaFinalValBpb, row.SelectedTokPerSec, row.DeltaTokPerSecPct))
	}
	lines = append(lines, "")
	return artifact.WriteText(path, strings.Join(lines, "\n"))
}
