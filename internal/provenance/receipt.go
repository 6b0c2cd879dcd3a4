package provenance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/branchbench/branchbench/internal/artifact"
)

// CheckReceipt is the machine-readable record of a passed bundle check,
// including the policy flags that were actually in effect.
type CheckReceipt struct {
	Status            string            `json:"status"`
	ReceiptID         string            `json:"receipt_id"`
	Command           []string          `json:"command"`
	RankedJSON        string            `json:"ranked_json"`
	FinalistsJSON     string            `json:"finalists_json"`
	FinalistsMD       string            `json:"finalists_md"`
	FinalistsCount    int               `json:"finalists_count"`
	RequireRealInput  bool              `json:"require_real_input"`
	RequireGitTracked bool              `json:"require_git_tracked"`
	CheckIn           bool              `json:"check_in"`
	ArtifactSHA256    map[string]string `json:"artifact_sha256"`
}

func writeCheckReceipt(opts Options, finalistsCount int, requireRealInput, requireGitTracked bool) error {
	digests := map[string]string{}
	for label, path := range map[string]string{
		"ranked_json":    opts.RankedJSON,
		"finalists_json": opts.FinalistsJSON,
		"finalists_md":   opts.FinalistsMD,
	} {
		digest, err := artifact.FileSHA256(path)
		if err != nil {
			return err
		}
		digests[label] = digest
	}
	receipt := CheckReceipt{
		Status:            "ok",
		ReceiptID:         uuid.NewString(),
		Command:           opts.CommandLine,
		RankedJSON:        opts.RankedJSON,
		FinalistsJSON:     opts.FinalistsJSON,
		FinalistsMD:       opts.FinalistsMD,
		FinalistsCount:    finalistsCount,
		RequireRealInput:  requireRealInput,
		RequireGitTracked: requireGitTracked,
		CheckIn:           opts.CheckIn,
		ArtifactSHA256:    digests,
	}
	return artifact.WriteJSON(opts.OutputCheckJSON, receipt)
}

type bundleReceiptInputs struct {
	receiptPath        string
	rankedJSON         string
	finalistsJSON      string
	finalistsMD        string
	rankedSourceSHA256 string
	finalistsCount     int
	checkIn            bool
}

// verifyBundleReceipt cross-checks a promotion bundle receipt against the
// artifacts that were just validated: same source hash, same resolved
// paths, same finalist count, and byte-exact digests for every artifact the
// receipt covers.
func verifyBundleReceipt(in bundleReceiptInputs) error {
	data, err := os.ReadFile(in.receiptPath)
	if err != nil {
		return fmt.Errorf("missing bundle_json file: %s", in.receiptPath)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("bundle receipt JSON must be an object: %s", in.receiptPath)
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("bundle receipt JSON must be an object: %s", in.receiptPath)
	}

	if payload["status"] != "ok" {
		return fmt.Errorf("bundle receipt status must be 'ok': %s", in.receiptPath)
	}
	runCheckIn, ok := payload["run_check_in"].(bool)
	if !ok {
		return fmt.Errorf("bundle receipt run_check_in must be boolean: %s", in.receiptPath)
	}
	if in.checkIn && !runCheckIn {
		return fmt.Errorf("bundle receipt must record run_check_in=true in check-in mode: %s", in.receiptPath)
	}

	if payload["source_sha256"] != in.rankedSourceSHA256 {
		return fmt.Errorf(
			"bundle receipt source_sha256 does not match ranked JSON contents: bundle=%v ranked_sha256=%s",
			payload["source_sha256"], in.rankedSourceSHA256)
	}

	expectedPaths := []struct {
		key  string
		path string
	}{
		{"input_json", in.rankedJSON},
		{"finalists_json", in.finalistsJSON},
		{"finalists_md", in.finalistsMD},
	}
	for _, expected := range expectedPaths {
		value, ok := payload[expected.key].(string)
		if !ok || value == "" {
			return fmt.Errorf("bundle receipt missing non-empty %s: %s", expected.key, in.receiptPath)
		}
		if resolvePath(value) != resolvePath(expected.path) {
			return fmt.Errorf(
				"bundle receipt %s does not match supplied artifacts: bundle=%s expected=%s",
				expected.key, value, expected.path)
		}
	}

	count, ok := artifact.AsInt(payload["finalists_count"])
	if !ok {
		return fmt.Errorf("bundle receipt finalists_count must be an integer: %s", in.receiptPath)
	}
	if int(count) != in.finalistsCount {
		return fmt.Errorf(
			"bundle receipt finalists_count does not match validated finalists: bundle=%d validated=%d",
			count, in.finalistsCount)
	}

	digests, ok := payload["artifact_sha256"].(map[string]any)
	if !ok {
		return fmt.Errorf("bundle receipt artifact_sha256 must be an object: %s", in.receiptPath)
	}
	for _, entry := range []struct {
		key  string
		path string
	}{
		{"finalists_json", in.finalistsJSON},
		{"finalists_md", in.finalistsMD},
	} {
		expectedDigest, err := artifact.FileSHA256(entry.path)
		if err != nil {
			return err
		}
		if digests[entry.key] != expectedDigest {
			return fmt.Errorf(
				"bundle receipt artifact_sha256.%s does not match file contents: bundle=%v expected=%s",
				entry.key, digests[entry.key], expectedDigest)
		}
	}

	if runCheckIn {
		checkJSON, ok := payload["check_json"].(string)
		if !ok || checkJSON == "" {
			return fmt.Errorf("bundle receipt missing check_json for run_check_in=true: %s", in.receiptPath)
		}
		checkDigest, ok := payload["artifact_sha256"].(map[string]any)["check_json"].(string)
		if !ok || checkDigest == "" {
			return fmt.Errorf("bundle receipt missing artifact_sha256.check_json: %s", in.receiptPath)
		}
		if _, err := os.Stat(checkJSON); err != nil {
			return fmt.Errorf("bundle receipt check_json file does not exist: %s", checkJSON)
		}
		expectedDigest, err := artifact.FileSHA256(checkJSON)
		if err != nil {
			return err
		}
		if checkDigest != expectedDigest {
			return fmt.Errorf(
				"bundle receipt artifact_sha256.check_json does not match file contents: bundle=%s expected=%s",
				checkDigest, expectedDigest)
		}
	}
	return nil
}
