package pilot

import (
	"strings"
	"testing"
)

func TestFormatRatio(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, "+0.0%"},
		{3.26, "+3.3%"},
		{-4.5, "-4.5%"},
		{12.04, "+12.0%"},
	}
	for _, tt := range tests {
		if got := FormatRatio(tt.pct); got != tt.want {
			t.Errorf("FormatRatio(%f) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func rankedFixture(t *testing.T) []RankedRun {
	t.Helper()
	unstable := makeRun("1x10", 900, nil, 100)
	unstable.Unstable = true
	runs := []Run{
		makeRun("12x1", 1000, f64(0.9500), 100),
		makeRun("2x5", 1100, f64(0.9400), 100),
		unstable,
	}
	ranked, err := ApplyRankingRule(runs, 5.0, 0.02)
	if err != nil {
		t.Fatalf("ApplyRankingRule: %v", err)
	}
	return ranked
}

func TestFormatRankingTable(t *testing.T) {
	table, err := FormatRankingTable(rankedFixture(t))
	if err != nil {
		t.Fatalf("FormatRankingTable: %v", err)
	}
	lines := strings.Split(table, "\n")
	if len(lines) != 5 {
		t.Fatalf("table has %d lines, want header + separator + 3 rows", len(lines))
	}
	if lines[0] != "| Rank | Config | tok/sec | vs 12x1 | min val bpb | token budget | Status |" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	for _, fragment := range []string{
		"| 1 | 2x5 | 1,100 | +10.0% | 0.9400 | 100 | qualified |",
		"| 2 | 12x1 | 1,000 | +0.0% | 0.9500 | 100 | qualified |",
		"| - | 1x10 | 900 | -10.0% | n/a | 100 | disqualified (unstable) |",
	} {
		if !strings.Contains(table, fragment) {
			t.Errorf("table missing row %q:\n%s", fragment, table)
		}
	}
}

func TestFormatFinalistsSummary(t *testing.T) {
	summary, err := FormatFinalistsSummary(rankedFixture(t), 3)
	if err != nil {
		t.Fatalf("FormatFinalistsSummary: %v", err)
	}
	if !strings.HasPrefix(summary, "Selected finalists:") {
		t.Errorf("summary missing lead line: %s", summary)
	}
	if !strings.Contains(summary, "- 2x5: rank=1, tok/sec=1,100 (+10.0% vs 12x1), min_val_bpb=0.9400") {
		t.Errorf("summary missing finalist bullet:\n%s", summary)
	}
}

func TestFormatFinalistsSummary_Empty(t *testing.T) {
	unstableBaseline := makeRun("12x1", 1000, f64(0.95), 100)
	unstableBaseline.Unstable = true
	ranked, err := ApplyRankingRule([]Run{unstableBaseline}, 5.0, 0.02)
	if err != nil {
		t.Fatalf("ApplyRankingRule: %v", err)
	}
	summary, err := FormatFinalistsSummary(ranked, 3)
	if err != nil {
		t.Fatalf("FormatFinalistsSummary: %v", err)
	}
	if summary != "No qualified finalists were selected." {
		t.Errorf("summary = %q", summary)
	}
}

func TestFlagString(t *testing.T) {
	got := FlagString(2, 5, 384)
	if got != "--depth 2 --n-branches 5 --aspect-ratio 384" {
		t.Errorf("FlagString = %q", got)
	}
}
