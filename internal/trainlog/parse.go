// Package trainlog extracts structured metrics from the free-text output of a
// training subprocess. Trainer stdout/stderr is noisy (progress lines, compile
// warnings, stack traces on divergence); extraction scans for the last
// occurrence of each known metric line rather than assuming clean output.
package trainlog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	avgTokPerSecRe   = regexp.MustCompile(`Average tok/sec \(post-warmup\): ([0-9,]+)`)
	finalTokPerSecRe = regexp.MustCompile(`tok/sec: ([0-9,]+)`)
	peakMemoryRe     = regexp.MustCompile(`Peak memory usage: ([0-9]+(?:\.[0-9]+)?)MiB`)
	finalMFURe       = regexp.MustCompile(`bf16_mfu: ([0-9]+(?:\.[0-9]+)?)`)
	valBpbRe         = regexp.MustCompile(`Validation bpb: ([0-9]+(?:\.[0-9]+)?)`)
	minValBpbRe      = regexp.MustCompile(`Minimum validation bpb: ([0-9]+(?:\.[0-9]+)?)`)
	nanInfRe         = regexp.MustCompile(`(?i)\b(?:nan|inf)\b`)
)

// ThroughputMetrics holds throughput figures parsed from one training run.
// SelectedTokPerSec is the figure used for ranking: the averaged post-warmup
// throughput when present, otherwise the final-step throughput.
type ThroughputMetrics struct {
	AvgTokPerSec      *int64   `json:"avg_tok_per_sec"`
	FinalTokPerSec    *int64   `json:"final_tok_per_sec"`
	SelectedTokPerSec float64  `json:"selected_tok_per_sec"`
	FinalMFU          *float64 `json:"final_mfu"`
	PeakMemoryMiB     *float64 `json:"peak_memory_mib"`
}

// PilotMetrics is the full per-run summary used by the pilot sweep. Unstable
// encodes both parse failure and numeric divergence; it is the designed
// success/failure channel so one bad run cannot abort a whole sweep.
type PilotMetrics struct {
	ThroughputMetrics
	FinalValBpb *float64 `json:"final_val_bpb"`
	MinValBpb   *float64 `json:"min_val_bpb"`
	Unstable    bool     `json:"unstable"`
}

func lastInt(re *regexp.Regexp, text string) *int64 {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	raw := strings.ReplaceAll(matches[len(matches)-1][1], ",", "")
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func lastFloat(re *regexp.Regexp, text string) *float64 {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseTrainOutput extracts throughput metrics from trainer output. It fails
// only when neither throughput pattern matched; every other field is optional.
func ParseTrainOutput(text string) (ThroughputMetrics, error) {
	m := ThroughputMetrics{
		AvgTokPerSec:   lastInt(avgTokPerSecRe, text),
		FinalTokPerSec: lastInt(finalTokPerSecRe, text),
		FinalMFU:       lastFloat(finalMFURe, text),
		PeakMemoryMiB:  lastFloat(peakMemoryRe, text),
	}
	switch {
	case m.AvgTokPerSec != nil:
		m.SelectedTokPerSec = float64(*m.AvgTokPerSec)
	case m.FinalTokPerSec != nil:
		m.SelectedTokPerSec = float64(*m.FinalTokPerSec)
	default:
		return ThroughputMetrics{}, fmt.Errorf("could not parse throughput metrics from trainer output")
	}
	return m, nil
}

// ExtractValBpbTrace returns every "Validation bpb:" value in file order.
// Callers derive final (last element) and min separately.
func ExtractValBpbTrace(text string) []float64 {
	matches := valBpbRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	trace := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		trace = append(trace, v)
	}
	return trace
}

// SummarizePilotOutput composes the throughput and validation extractors into
// one pilot run summary. A throughput parse failure is recovered into a
// zero-throughput unstable record rather than propagated; a standalone
// nan/inf token anywhere in the output also marks the run unstable.
func SummarizePilotOutput(text string) PilotMetrics {
	parseFailed := false
	throughput, err := ParseTrainOutput(text)
	if err != nil {
		parseFailed = true
		throughput = ThroughputMetrics{SelectedTokPerSec: 0}
	}

	summary := PilotMetrics{ThroughputMetrics: throughput}

	trace := ExtractValBpbTrace(text)
	if len(trace) > 0 {
		final := trace[len(trace)-1]
		min := trace[0]
		for _, v := range trace[1:] {
			if v < min {
				min = v
			}
		}
		summary.FinalValBpb = &final
		summary.MinValBpb = &min
	}

	// Some trainers only print a terminal summary line; recover the minimum
	// from it when no per-step validation lines were seen.
	if summary.MinValBpb == nil {
		summary.MinValBpb = lastFloat(minValBpbRe, text)
	}

	summary.Unstable = parseFailed || nanInfRe.MatchString(text)
	return summary
}
