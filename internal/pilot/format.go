package pilot

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatRatio renders a throughput ratio percentage with an explicit sign.
func FormatRatio(pct float64) string {
	sign := ""
	if pct >= 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.1f%%", sign, pct)
}

// FormatRankingTable renders the full ranking as a markdown table.
func FormatRankingTable(rows []RankedRun) (string, error) {
	baselineTok, err := baselineTokPerSec(rows)
	if err != nil {
		return "", err
	}
	lines := []string{
		"| Rank | Config | tok/sec | vs 12x1 | min val bpb | token budget | Status |",
		"| ---: | --- | ---: | ---: | ---: | ---: | --- |",
	}
	for _, row := range rows {
		status := "qualified"
		if !row.Qualified {
			reason := ""
			if row.DisqualifyReason != nil {
				reason = *row.DisqualifyReason
			}
			status = fmt.Sprintf("disqualified (%s)", reason)
		}
		rank := "-"
		if row.Rank != nil {
			rank = fmt.Sprintf("%d", *row.Rank)
		}
		minBpb := "n/a"
		if row.MinValBpb != nil {
			minBpb = fmt.Sprintf("%.4f", *row.MinValBpb)
		}
		budget := "n/a"
		if row.TokenBudget != nil {
			budget = humanize.Comma(*row.TokenBudget)
		}
		ratioPct := 100.0 * (row.SelectedTokPerSec/baselineTok - 1.0)
		lines = append(lines, "| "+strings.Join([]string{
			rank,
			row.Config,
			humanize.Comma(int64(row.SelectedTokPerSec)),
			FormatRatio(ratioPct),
			minBpb,
			budget,
			status,
		}, " | ")+" |")
	}
	return strings.Join(lines, "\n"), nil
}

// FormatFinalistsSummary renders a bullet list of the selected finalists.
func FormatFinalistsSummary(rows []RankedRun, maxFinalists int) (string, error) {
	finalists, err := SelectFinalists(rows, maxFinalists)
	if err != nil {
		return "", err
	}
	if len(finalists) == 0 {
		return "No qualified finalists were selected.", nil
	}
	baselineTok, err := baselineTokPerSec(rows)
	if err != nil {
		return "", err
	}
	lines := []string{"Selected finalists:"}
	for _, row := range finalists {
		ratioPct := 100.0 * (row.SelectedTokPerSec/baselineTok - 1.0)
		minBpb := "n/a"
		if row.MinValBpb != nil {
			minBpb = fmt.Sprintf("%.4f", *row.MinValBpb)
		}
		rank := "-"
		if row.Rank != nil {
			rank = fmt.Sprintf("%d", *row.Rank)
		}
		lines = append(lines, fmt.Sprintf(
			"- %s: rank=%s, tok/sec=%s (%s vs 12x1), min_val_bpb=%s",
			row.Config, rank, humanize.Comma(int64(row.SelectedTokPerSec)),
			FormatRatio(ratioPct), minBpb))
	}
	return strings.Join(lines, "\n"), nil
}

// FlagString is the exact depth/branch flag string recorded in finalists
// markdown and cross-checked by the provenance verifier.
func FlagString(depth, nBranches, aspectRatio int) string {
	return fmt.Sprintf("--depth %d --n-branches %d --aspect-ratio %d", depth, nBranches, aspectRatio)
}

func baselineTokPerSec(rows []RankedRun) (float64, error) {
	for _, row := range rows {
		if row.Config == BaselineConfig {
			return row.SelectedTokPerSec, nil
		}
	}
	return 0, fmt.Errorf("no %s baseline row found", BaselineConfig)
}
