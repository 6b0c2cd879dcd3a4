package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Default artifact filenames shared across the sweep, checker, and bundle
// discovery.
const (
	RankedJSONName      = "pilot_ranked_runs.json"
	RankingMDName       = "pilot_ranking.md"
	FinalistsJSONName   = "stage2_finalists.json"
	FinalistsMDName     = "stage2_finalists.md"
	CheckReceiptName    = "pilot_bundle_check.json"
	BundleReceiptName   = "stage2_promotion_bundle.json"
	LongRunMetricsName  = "stage2_long_runs_metrics.json"
	ComparisonJSONName  = "stage2_baseline_comparison.json"
	ComparisonMDName    = "stage2_baseline_comparison.md"
	DefaultArtifactRoot = "artifacts/pilot"
)

// RankedDoc is a loaded and validated ranked-runs document together with its
// canonical content hash, which downstream artifacts bind to.
type RankedDoc struct {
	Payload      map[string]any
	Rows         []Row
	SourceSHA256 string
}

// FinalistsDoc is a loaded and structurally validated finalists document.
type FinalistsDoc struct {
	Payload      map[string]any
	Source       string
	SourceSHA256 string
	MaxFinalists int
	SelectedRows []Row
}

func decodeJSONFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// LoadRankedPayload reads a ranked-runs JSON artifact, validates its shape
// and every row, and computes its canonical content hash. With
// requireRealInput set, sample/fixture artifacts are rejected: any path
// component containing "sample", or an explicit is_sample flag in the
// payload.
func LoadRankedPayload(path string, requireRealInput bool) (*RankedDoc, error) {
	raw, err := decodeJSONFile(path)
	if err != nil {
		return nil, err
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input JSON must be a JSON object")
	}

	if requireRealInput && (IsSamplePath(path) || payload["is_sample"] == true) {
		return nil, fmt.Errorf("require-real-input rejects sample/fixture ranked-run artifacts")
	}

	rawRows, ok := payload["ranked_runs"].([]any)
	if !ok {
		return nil, fmt.Errorf("input JSON must include a ranked_runs list")
	}
	if len(rawRows) == 0 {
		return nil, fmt.Errorf("ranked_runs must not be empty")
	}
	rows := make([]Row, 0, len(rawRows))
	for index, rawRow := range rawRows {
		row, ok := rawRow.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ranked_runs[%d] must be a JSON object", index)
		}
		if err := ValidateRankedRow(row, index); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	digest, err := CanonicalSHA256(payload)
	if err != nil {
		return nil, err
	}
	return &RankedDoc{Payload: payload, Rows: rows, SourceSHA256: digest}, nil
}

// LoadFinalistsPayload reads a finalists JSON artifact and validates its
// provenance fields and row shapes. Content checks against the upstream
// ranking are the provenance verifier's job.
func LoadFinalistsPayload(path string) (*FinalistsDoc, error) {
	raw, err := decodeJSONFile(path)
	if err != nil {
		return nil, err
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("finalists JSON must be an object: %s", path)
	}

	source, ok := payload["source"].(string)
	if !ok || source == "" {
		return nil, fmt.Errorf("finalists JSON missing non-empty source path: %s", path)
	}
	digest, ok := payload["source_sha256"].(string)
	if !ok || len(digest) != 64 {
		return nil, fmt.Errorf("finalists JSON missing source_sha256 digest: %s", path)
	}
	for _, ch := range digest {
		if !(ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f') {
			return nil, fmt.Errorf("finalists JSON source_sha256 must be lowercase hex: %s", path)
		}
	}
	maxFinalists, ok := asInt(payload["max_finalists"])
	if !ok || maxFinalists <= 0 {
		return nil, fmt.Errorf("finalists JSON missing positive integer max_finalists: %s", path)
	}
	rawRows, ok := payload["selected_finalists"].([]any)
	if !ok {
		return nil, fmt.Errorf("finalists JSON missing selected_finalists list: %s", path)
	}
	rows := make([]Row, 0, len(rawRows))
	for index, rawRow := range rawRows {
		row, ok := rawRow.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("selected_finalists[%d] must be an object: %s", index, path)
		}
		rows = append(rows, row)
	}

	return &FinalistsDoc{
		Payload:      payload,
		Source:       source,
		SourceSHA256: digest,
		MaxFinalists: int(maxFinalists),
		SelectedRows: rows,
	}, nil
}
