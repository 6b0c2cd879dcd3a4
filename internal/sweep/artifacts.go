package sweep

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/pilot"
)

var labelSanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// sanitizeLabel makes a grid label safe for use in a filename.
func sanitizeLabel(label string) string {
	slug := labelSanitizeRe.ReplaceAllString(label, "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return "run"
	}
	return slug
}

// runArtifactPaths returns the per-config log and metrics paths for a run,
// keyed by its one-based grid index.
func runArtifactPaths(dir string, index int, label string) (logPath, metricsPath string) {
	base := fmt.Sprintf("%02d-%s", index, sanitizeLabel(label))
	return filepath.Join(dir, base+".log"), filepath.Join(dir, base+".json")
}

func writeRunArtifacts(dir string, index int, run pilot.Run, output string) error {
	logPath, metricsPath := runArtifactPaths(dir, index, run.Config)
	if err := artifact.WriteText(logPath, output); err != nil {
		return err
	}
	return artifact.WriteJSON(metricsPath, run)
}

// loadExistingRunArtifact loads the per-config metrics JSON for a resumed
// run if it exists. The planned run supplies identity and command; persisted
// fields overwrite the rest.
func loadExistingRunArtifact(dir string, index int, label string, planned pilot.Run) (*pilot.Run, bool, error) {
	_, metricsPath := runArtifactPaths(dir, index, label)
	raw, err := os.ReadFile(metricsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false, fmt.Errorf("malformed run artifact %s: %w", metricsPath, err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("artifact metrics must be a JSON object: %s", metricsPath)
	}
	config, _ := obj["config"].(string)
	if config != label {
		return nil, false, fmt.Errorf("artifact config mismatch for run %d: expected %s, got %q", index, label, config)
	}

	run := planned
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, false, fmt.Errorf("malformed run artifact %s: %w", metricsPath, err)
	}
	return &run, true, nil
}

// validateResumeRunArtifact checks that a resumed artifact is complete
// enough to rank and was produced under the same token budget.
func validateResumeRunArtifact(dir string, index int, label string, run *pilot.Run, expectedBudget int64) error {
	logPath, metricsPath := runArtifactPaths(dir, index, label)
	if _, err := os.Stat(logPath); err != nil {
		return fmt.Errorf("resume artifact is incomplete; expected log file for %s: %s", label, logPath)
	}
	if err := requireResumeFields(metricsPath, label); err != nil {
		return err
	}
	if run.TokenBudget == nil {
		return fmt.Errorf("resume artifact missing numeric token_budget for %s: %s", label, metricsPath)
	}
	if *run.TokenBudget != expectedBudget {
		return fmt.Errorf("resume artifact token_budget mismatch for %s: expected %d, got %d",
			label, expectedBudget, *run.TokenBudget)
	}
	return nil
}

// requireResumeFields re-reads the raw artifact to verify field types that
// a typed unmarshal would silently default: selected_tok_per_sec must be
// present and numeric, unstable present and boolean.
func requireResumeFields(metricsPath, label string) error {
	raw, err := os.ReadFile(metricsPath)
	if err != nil {
		return err
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("malformed run artifact %s: %w", metricsPath, err)
	}
	switch obj["selected_tok_per_sec"].(type) {
	case float64:
	default:
		return fmt.Errorf("resume artifact missing numeric selected_tok_per_sec for %s: %s", label, metricsPath)
	}
	switch obj["unstable"].(type) {
	case bool:
	default:
		return fmt.Errorf("resume artifact missing boolean unstable for %s: %s", label, metricsPath)
	}
	switch obj["token_budget"].(type) {
	case float64:
	default:
		return fmt.Errorf("resume artifact missing numeric token_budget for %s: %s", label, metricsPath)
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func joinSorted(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}
