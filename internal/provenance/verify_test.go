package provenance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/branchbench/branchbench/internal/artifact"
)

// chdir changes the working directory for the duration of the test,
// matching the behavior of testing.T.Chdir (Go 1.24+) on older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})
}

func rankedRow(config string, depth, nBranches, aspectRatio int, tokPerSec float64, minBpb float64, qualified bool, rank any, reason any) map[string]any {
	return map[string]any{
		"config":               config,
		"depth":                depth,
		"n_branches":           nBranches,
		"aspect_ratio":         aspectRatio,
		"selected_tok_per_sec": tokPerSec,
		"min_val_bpb":          minBpb,
		"token_budget":         249561088,
		"qualified":            qualified,
		"rank":                 rank,
		"disqualify_reason":    reason,
	}
}

// writeTestBundle writes a coherent ranked/finalists/markdown trio and
// returns the three paths plus the ranked document's canonical digest.
func writeTestBundle(t *testing.T, dir string) (rankedJSON, finalistsJSON, finalistsMD, digest string) {
	t.Helper()
	rows := []map[string]any{
		rankedRow("2x5", 2, 5, 384, 1100, 0.94, true, 1, nil),
		rankedRow("12x1", 12, 1, 64, 1000, 0.95, true, 2, nil),
		rankedRow("1x10", 1, 10, 768, 900, 0.99, false, nil, "unstable"),
	}
	payload := map[string]any{
		"slowdown_threshold_pct": 5.0,
		"ranked_runs":            rows,
	}
	rankedJSON = filepath.Join(dir, artifact.RankedJSONName)
	if err := artifact.WriteJSON(rankedJSON, payload); err != nil {
		t.Fatalf("write ranked: %v", err)
	}
	doc, err := artifact.LoadRankedPayload(rankedJSON, false)
	if err != nil {
		t.Fatalf("load ranked fixture: %v", err)
	}
	digest = doc.SourceSHA256

	finalistsJSON = filepath.Join(dir, artifact.FinalistsJSONName)
	finalistsPayload := map[string]any{
		"source":             rankedJSON,
		"source_sha256":      digest,
		"max_finalists":      2,
		"selected_finalists": rows[:2],
	}
	if err := artifact.WriteJSON(finalistsJSON, finalistsPayload); err != nil {
		t.Fatalf("write finalists: %v", err)
	}

	finalistsMD = filepath.Join(dir, artifact.FinalistsMDName)
	md := "## Stage 2 Finalists\n\nSelected finalists:\n" +
		"- 2x5\n- 12x1\n\n## Stage 2 depth/branch flags\n\n" +
		"- `2x5`: `--depth 2 --n-branches 5 --aspect-ratio 384`\n" +
		"- `12x1`: `--depth 12 --n-branches 1 --aspect-ratio 64`\n"
	if err := artifact.WriteText(finalistsMD, md); err != nil {
		t.Fatalf("write markdown: %v", err)
	}
	return rankedJSON, finalistsJSON, finalistsMD, digest
}

func bundleOptions(rankedJSON, finalistsJSON, finalistsMD string) Options {
	return Options{
		RankedJSON:    rankedJSON,
		FinalistsJSON: finalistsJSON,
		FinalistsMD:   finalistsMD,
	}
}

func TestCheckPilotBundle_Valid(t *testing.T) {
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, t.TempDir())
	count, err := CheckPilotBundle(bundleOptions(rankedJSON, finalistsJSON, finalistsMD))
	if err != nil {
		t.Fatalf("CheckPilotBundle: %v", err)
	}
	if count != 2 {
		t.Errorf("finalists count = %d, want 2", count)
	}
}

func TestCheckPilotBundle_MissingFiles(t *testing.T) {
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, t.TempDir())
	if err := os.Remove(finalistsMD); err != nil {
		t.Fatal(err)
	}
	_, err := CheckPilotBundle(bundleOptions(rankedJSON, finalistsJSON, finalistsMD))
	if err == nil || !strings.HasPrefix(err.Error(), "missing finalists_md file:") {
		t.Errorf("error = %v, want missing finalists_md", err)
	}
}

func TestCheckPilotBundle_HashBinding(t *testing.T) {
	dir := t.TempDir()
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, dir)

	// Forged digest.
	doc, err := artifact.LoadFinalistsPayload(finalistsJSON)
	if err != nil {
		t.Fatal(err)
	}
	doc.Payload["source_sha256"] = strings.Repeat("0", 64)
	if err := artifact.WriteJSON(finalistsJSON, doc.Payload); err != nil {
		t.Fatal(err)
	}
	_, err = CheckPilotBundle(bundleOptions(rankedJSON, finalistsJSON, finalistsMD))
	if err == nil || !strings.Contains(err.Error(), "source_sha256 does not match ranked JSON contents") {
		t.Errorf("error = %v, want hash binding failure", err)
	}
}

func TestCheckPilotBundle_SourceMutatedAfterPromotion(t *testing.T) {
	dir := t.TempDir()
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, dir)

	// Edit one metric in the ranked document; the finalists digest now
	// points at content that no longer exists.
	doc, err := artifact.LoadRankedPayload(rankedJSON, false)
	if err != nil {
		t.Fatal(err)
	}
	doc.Rows[0]["selected_tok_per_sec"] = 9999
	if err := artifact.WriteJSON(rankedJSON, doc.Payload); err != nil {
		t.Fatal(err)
	}

	_, err = CheckPilotBundle(bundleOptions(rankedJSON, finalistsJSON, finalistsMD))
	if err == nil || !strings.Contains(err.Error(), "source_sha256 does not match ranked JSON contents") {
		t.Errorf("error = %v, want hash binding failure", err)
	}
}

func TestCheckPilotBundle_PathBinding(t *testing.T) {
	dir := t.TempDir()
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, dir)

	doc, err := artifact.LoadFinalistsPayload(finalistsJSON)
	if err != nil {
		t.Fatal(err)
	}
	doc.Payload["source"] = filepath.Join(dir, "other.json")
	if err := artifact.WriteJSON(finalistsJSON, doc.Payload); err != nil {
		t.Fatal(err)
	}
	_, err = CheckPilotBundle(bundleOptions(rankedJSON, finalistsJSON, finalistsMD))
	if err == nil || !strings.Contains(err.Error(), "finalists JSON source does not match ranked JSON:") {
		t.Errorf("error = %v, want path binding failure", err)
	}
}

func TestCheckPilotBundle_RecomputedSelectionMismatch(t *testing.T) {
	dir := t.TempDir()
	rankedJSON, finalistsJSON, finalistsMD, digest := writeTestBundle(t, dir)

	// Keep the digest honest but swap the persisted selection.
	doc, err := artifact.LoadFinalistsPayload(finalistsJSON)
	if err != nil {
		t.Fatal(err)
	}
	doc.Payload["source_sha256"] = digest
	doc.Payload["selected_finalists"] = []any{doc.SelectedRows[1], doc.SelectedRows[0]}
	if err := artifact.WriteJSON(finalistsJSON, doc.Payload); err != nil {
		t.Fatal(err)
	}
	_, err = CheckPilotBundle(bundleOptions(rankedJSON, finalistsJSON, finalistsMD))
	if err == nil || !strings.Contains(err.Error(), "selected_finalists does not match ranked_runs + max_finalists") {
		t.Errorf("error = %v, want recomputation failure", err)
	}
}

func TestCheckPilotBundle_MarkdownChecks(t *testing.T) {
	tests := []struct {
		name    string
		md      string
		wantErr string
	}{
		{
			"missing header",
			"Selected finalists:\n- `--depth 2 --n-branches 5 --aspect-ratio 384`\n- `--depth 12 --n-branches 1 --aspect-ratio 64`\n",
			"finalists markdown missing snippet: ## Stage 2 Finalists",
		},
		{
			"missing flag line",
			"## Stage 2 Finalists\n\n## Stage 2 depth/branch flags\n\n- `12x1`: `--depth 12 --n-branches 1 --aspect-ratio 64`\n",
			"finalists markdown missing depth/branch flag line",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, dir)
			if err := artifact.WriteText(finalistsMD, tt.md); err != nil {
				t.Fatal(err)
			}
			_, err := CheckPilotBundle(bundleOptions(rankedJSON, finalistsJSON, finalistsMD))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckPilotBundle_RequireRealInput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sample-bundle")
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, dir)

	opts := bundleOptions(rankedJSON, finalistsJSON, finalistsMD)
	opts.RequireRealInput = true
	_, err := CheckPilotBundle(opts)
	if err == nil || err.Error() != "require-real-input rejects sample/fixture ranked-run artifacts" {
		t.Errorf("error = %v, want sample rejection", err)
	}

	// Without the gate the same bundle passes.
	if _, err := CheckPilotBundle(bundleOptions(rankedJSON, finalistsJSON, finalistsMD)); err != nil {
		t.Errorf("ungated check failed: %v", err)
	}
}

func TestCheckPilotBundle_CheckInImpliesGates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sample-bundle")
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, dir)

	opts := bundleOptions(rankedJSON, finalistsJSON, finalistsMD)
	opts.CheckIn = true
	if _, err := CheckPilotBundle(opts); err == nil {
		t.Error("check-in mode must reject sample input")
	}
}

func TestCheckPilotBundle_GitTrackedGate(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, dir)

	original := gitLsFiles
	defer func() { gitLsFiles = original }()

	gitLsFiles = func(relPath string) error { return nil }
	opts := bundleOptions(rankedJSON, finalistsJSON, finalistsMD)
	opts.RequireGitTracked = true
	if _, err := CheckPilotBundle(opts); err != nil {
		t.Errorf("tracked bundle should pass: %v", err)
	}

	gitLsFiles = func(relPath string) error { return fmt.Errorf("untracked") }
	_, err := CheckPilotBundle(opts)
	if err == nil || !strings.HasPrefix(err.Error(), "artifact is not git-tracked:") {
		t.Errorf("error = %v, want untracked failure", err)
	}
}

func TestCheckPilotBundle_OutsideRepoRoot(t *testing.T) {
	bundleDir := t.TempDir()
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, bundleDir)
	chdir(t, t.TempDir())

	opts := bundleOptions(rankedJSON, finalistsJSON, finalistsMD)
	opts.RequireGitTracked = true
	_, err := CheckPilotBundle(opts)
	if err == nil || !strings.HasPrefix(err.Error(), "artifact path is outside repository root:") {
		t.Errorf("error = %v, want outside-root failure", err)
	}
}

func TestCheckPilotBundle_WritesReceipt(t *testing.T) {
	dir := t.TempDir()
	rankedJSON, finalistsJSON, finalistsMD, _ := writeTestBundle(t, dir)

	receiptPath := filepath.Join(dir, artifact.CheckReceiptName)
	opts := bundleOptions(rankedJSON, finalistsJSON, finalistsMD)
	opts.OutputCheckJSON = receiptPath
	opts.CommandLine = []string{"branchbench", "check"}
	if _, err := CheckPilotBundle(opts); err != nil {
		t.Fatalf("CheckPilotBundle: %v", err)
	}

	data, err := os.ReadFile(receiptPath)
	if err != nil {
		t.Fatalf("receipt not written: %v", err)
	}
	for _, fragment := range []string{
		`"status": "ok"`,
		`"finalists_count": 2`,
		`"ranked_json"`,
		`"artifact_sha256"`,
	} {
		if !strings.Contains(string(data), fragment) {
			t.Errorf("receipt missing %s:\n%s", fragment, data)
		}
	}
}

func TestCheckPilotBundle_BundleReceipt(t *testing.T) {
	dir := t.TempDir()
	rankedJSON, finalistsJSON, finalistsMD, digest := writeTestBundle(t, dir)

	finalistsDigest, err := artifact.FileSHA256(finalistsJSON)
	if err != nil {
		t.Fatal(err)
	}
	mdDigest, err := artifact.FileSHA256(finalistsMD)
	if err != nil {
		t.Fatal(err)
	}
	receipt := map[string]any{
		"status":          "ok",
		"run_check_in":    false,
		"source_sha256":   digest,
		"input_json":      rankedJSON,
		"finalists_json":  finalistsJSON,
		"finalists_md":    finalistsMD,
		"finalists_count": 2,
		"artifact_sha256": map[string]any{
			"finalists_json": finalistsDigest,
			"finalists_md":   mdDigest,
		},
	}
	receiptPath := filepath.Join(dir, artifact.BundleReceiptName)
	if err := artifact.WriteJSON(receiptPath, receipt); err != nil {
		t.Fatal(err)
	}

	opts := bundleOptions(rankedJSON, finalistsJSON, finalistsMD)
	opts.BundleReceiptJSON = receiptPath
	if _, err := CheckPilotBundle(opts); err != nil {
		t.Fatalf("coherent bundle receipt should pass: %v", err)
	}

	receipt["finalists_count"] = 5
	if err := artifact.WriteJSON(receiptPath, receipt); err != nil {
		t.Fatal(err)
	}
	_, err = CheckPilotBundle(opts)
	if err == nil || !strings.Contains(err.Error(), "finalists_count does not match validated finalists") {
		t.Errorf("error = %v, want finalists_count mismatch", err)
	}

	receipt["finalists_count"] = 2
	receipt["status"] = "failed"
	if err := artifact.WriteJSON(receiptPath, receipt); err != nil {
		t.Fatal(err)
	}
	_, err = CheckPilotBundle(opts)
	if err == nil || !strings.Contains(err.Error(), "bundle receipt status must be 'ok'") {
		t.Errorf("error = %v, want status failure", err)
	}
}
