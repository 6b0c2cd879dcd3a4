// Package provenance verifies the chain of custody across pilot artifacts:
// a finalists document must be provably derived from the exact ranked-runs
// document it names, and the rendered markdown must agree with both. Every
// failure here is fatal; integrity errors block promotion and are never
// recovered.
package provenance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/pilot"
)

// Options configures one pilot bundle check.
type Options struct {
	RankedJSON    string
	FinalistsJSON string
	FinalistsMD   string

	RequireRealInput  bool
	RequireGitTracked bool
	CheckIn           bool
	// AllowSampleInput relaxes the check-in real-input requirement for
	// local regression testing only.
	AllowSampleInput bool

	// BundleReceiptJSON optionally names a promotion bundle receipt to
	// cross-check against the validated artifacts.
	BundleReceiptJSON string
	// OutputCheckJSON optionally names a path for the machine-readable
	// check receipt.
	OutputCheckJSON string
	// CommandLine is recorded verbatim in the check receipt.
	CommandLine []string
}

// CheckPilotBundle validates a ranked/finalists artifact bundle and returns
// the verified finalist count. Check-in mode implies both the real-input
// and git-tracked gates unless sample input is explicitly allowed.
func CheckPilotBundle(opts Options) (int, error) {
	requireRealInput := opts.RequireRealInput || (opts.CheckIn && !opts.AllowSampleInput)
	requireGitTracked := opts.RequireGitTracked || opts.CheckIn

	paths := map[string]string{
		"ranked_json":    opts.RankedJSON,
		"finalists_json": opts.FinalistsJSON,
		"finalists_md":   opts.FinalistsMD,
	}
	for _, label := range []string{"ranked_json", "finalists_json", "finalists_md"} {
		if info, err := os.Stat(paths[label]); err != nil || info.IsDir() {
			return 0, fmt.Errorf("missing %s file: %s", label, paths[label])
		}
	}

	ranked, err := artifact.LoadRankedPayload(opts.RankedJSON, requireRealInput)
	if err != nil {
		return 0, err
	}

	if requireGitTracked {
		if err := assertGitTracked(paths); err != nil {
			return 0, err
		}
	}

	finalists, err := artifact.LoadFinalistsPayload(opts.FinalistsJSON)
	if err != nil {
		return 0, err
	}

	// Source binding: the declared source path and the path we were given
	// must resolve to the same location.
	if resolvePath(finalists.Source) != resolvePath(opts.RankedJSON) {
		return 0, fmt.Errorf(
			"finalists JSON source does not match ranked JSON: source=%s ranked_json=%s",
			finalists.Source, opts.RankedJSON)
	}

	// Hash binding: the embedded digest must equal the recomputed canonical
	// content hash of the source document.
	if finalists.SourceSHA256 != ranked.SourceSHA256 {
		return 0, fmt.Errorf(
			"finalists JSON source_sha256 does not match ranked JSON contents: source_sha256=%s ranked_sha256=%s",
			finalists.SourceSHA256, ranked.SourceSHA256)
	}

	// Recompute the selection from the source; the persisted list is
	// checked, never trusted.
	expected, err := artifact.SelectFinalistRows(ranked.Rows, finalists.MaxFinalists)
	if err != nil {
		return 0, fmt.Errorf("finalists JSON missing positive integer max_finalists: %s", opts.FinalistsJSON)
	}
	equal, err := artifact.RowsEqual(expected, finalists.SelectedRows)
	if err != nil {
		return 0, err
	}
	if !equal {
		return 0, fmt.Errorf(
			"selected_finalists does not match ranked_runs + max_finalists in %s", opts.FinalistsJSON)
	}

	if err := assertFinalistsMarkdown(opts.FinalistsMD, expected); err != nil {
		return 0, err
	}

	if opts.BundleReceiptJSON != "" {
		if err := verifyBundleReceipt(bundleReceiptInputs{
			receiptPath:        opts.BundleReceiptJSON,
			rankedJSON:         opts.RankedJSON,
			finalistsJSON:      opts.FinalistsJSON,
			finalistsMD:        opts.FinalistsMD,
			rankedSourceSHA256: ranked.SourceSHA256,
			finalistsCount:     len(expected),
			checkIn:            opts.CheckIn,
		}); err != nil {
			return 0, err
		}
	}

	if opts.OutputCheckJSON != "" {
		if err := writeCheckReceipt(opts, len(expected), requireRealInput, requireGitTracked); err != nil {
			return 0, err
		}
	}
	return len(expected), nil
}

// assertFinalistsMarkdown requires the structural headers plus one exact
// depth/branch flag string per expected finalist.
func assertFinalistsMarkdown(path string, expected []artifact.Row) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	markdown := string(data)
	for _, snippet := range []string{"## Stage 2 Finalists", "## Stage 2 depth/branch flags"} {
		if !strings.Contains(markdown, snippet) {
			return fmt.Errorf("finalists markdown missing snippet: %s", snippet)
		}
	}
	for _, row := range expected {
		depth, _ := artifact.AsInt(row["depth"])
		nBranches, _ := artifact.AsInt(row["n_branches"])
		aspectRatio, _ := artifact.AsInt(row["aspect_ratio"])
		flag := fmt.Sprintf("`%s`", pilot.FlagString(int(depth), int(nBranches), int(aspectRatio)))
		if !strings.Contains(markdown, flag) {
			return fmt.Errorf("finalists markdown missing depth/branch flag line for %v: %s", row["config"], path)
		}
	}
	return nil
}

// resolvePath normalizes a path for identity comparison, following
// symlinks when possible.
func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
