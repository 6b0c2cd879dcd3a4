package artifact

import (
	"bytes"
	"encoding/json"
	"testing"
)

func decodeRow(t *testing.T, raw string) Row {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var row Row
	if err := dec.Decode(&row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	return row
}

const qualifiedRowJSON = `{
	"config": "2x5", "depth": 2, "n_branches": 5, "aspect_ratio": 384,
	"selected_tok_per_sec": 1100.0, "min_val_bpb": 0.94, "token_budget": 249561088,
	"qualified": true, "rank": 1, "disqualify_reason": null
}`

const disqualifiedRowJSON = `{
	"config": "1x10", "depth": 1, "n_branches": 10, "aspect_ratio": 768,
	"selected_tok_per_sec": 900.0, "min_val_bpb": 0.99, "token_budget": 249561088,
	"qualified": false, "rank": null, "disqualify_reason": "unstable"
}`

func TestValidateRankedRow_Valid(t *testing.T) {
	for name, raw := range map[string]string{
		"qualified":    qualifiedRowJSON,
		"disqualified": disqualifiedRowJSON,
	} {
		if err := ValidateRankedRow(decodeRow(t, raw), 0); err != nil {
			t.Errorf("%s row should validate: %v", name, err)
		}
	}
}

func TestValidateRankedRow_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(Row)
		wantErr string
	}{
		{
			"empty config",
			func(r Row) { r["config"] = "" },
			"ranked_runs[3] missing non-empty string field: config",
		},
		{
			"missing depth",
			func(r Row) { delete(r, "depth") },
			"ranked_runs[3] missing positive integer field: depth",
		},
		{
			"fractional depth",
			func(r Row) { r["depth"] = json.Number("2.5") },
			"ranked_runs[3] missing positive integer field: depth",
		},
		{
			"boolean token budget",
			func(r Row) { r["token_budget"] = true },
			"ranked_runs[3] missing positive integer field: token_budget",
		},
		{
			"missing qualified",
			func(r Row) { delete(r, "qualified") },
			"ranked_runs[3] missing boolean field: qualified",
		},
		{
			"missing min val bpb",
			func(r Row) { r["min_val_bpb"] = nil },
			"ranked_runs[3] missing numeric field: min_val_bpb",
		},
		{
			"negative throughput",
			func(r Row) { r["selected_tok_per_sec"] = json.Number("-1") },
			"ranked_runs[3] field must be >= 0: selected_tok_per_sec",
		},
		{
			"zero rank",
			func(r Row) { r["rank"] = json.Number("0") },
			"ranked_runs[3] field must be null or a positive integer: rank",
		},
		{
			"qualified without rank",
			func(r Row) { r["rank"] = nil },
			"ranked_runs[3] qualified row must include a positive integer rank",
		},
		{
			"qualified with reason",
			func(r Row) { r["disqualify_reason"] = "unstable" },
			"ranked_runs[3] qualified row must set disqualify_reason to null",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := decodeRow(t, qualifiedRowJSON)
			tt.mutate(row)
			err := ValidateRankedRow(row, 3)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateRankedRow_DisqualifiedCoherence(t *testing.T) {
	row := decodeRow(t, disqualifiedRowJSON)
	row["rank"] = json.Number("2")
	if err := ValidateRankedRow(row, 0); err == nil ||
		err.Error() != "ranked_runs[0] disqualified row must set rank to null" {
		t.Errorf("error = %v, want disqualified-rank error", err)
	}

	row = decodeRow(t, disqualifiedRowJSON)
	row["disqualify_reason"] = nil
	if err := ValidateRankedRow(row, 0); err == nil ||
		err.Error() != "ranked_runs[0] disqualified row must include non-empty disqualify_reason" {
		t.Errorf("error = %v, want missing-reason error", err)
	}
}

func TestSelectFinalistRows(t *testing.T) {
	rows := []Row{
		decodeRow(t, qualifiedRowJSON),
		decodeRow(t, disqualifiedRowJSON),
		decodeRow(t, qualifiedRowJSON),
		decodeRow(t, qualifiedRowJSON),
	}
	finalists, err := SelectFinalistRows(rows, 2)
	if err != nil {
		t.Fatalf("SelectFinalistRows: %v", err)
	}
	if len(finalists) != 2 {
		t.Fatalf("finalists = %d, want 2", len(finalists))
	}
	if _, err := SelectFinalistRows(rows, 0); err == nil {
		t.Error("expected error for max_finalists = 0")
	}
}

func TestRowsEqual(t *testing.T) {
	a := []Row{decodeRow(t, qualifiedRowJSON)}
	b := []Row{decodeRow(t, qualifiedRowJSON)}
	equal, err := RowsEqual(a, b)
	if err != nil {
		t.Fatalf("RowsEqual: %v", err)
	}
	if !equal {
		t.Error("identical rows should compare equal")
	}

	b[0]["min_val_bpb"] = json.Number("0.95")
	equal, err = RowsEqual(a, b)
	if err != nil {
		t.Fatalf("RowsEqual: %v", err)
	}
	if equal {
		t.Error("mutated rows should not compare equal")
	}
}

func TestIsSamplePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"artifacts/pilot/pilot_ranked_runs.json", false},
		{"artifacts/sample/pilot_ranked_runs.json", true},
		{"testdata/SAMPLE_bundle/x.json", true},
		{"artifacts/samples-2026/x.json", true},
		{"artifacts\\sample\\x.json", true},
		{"resampled/x.json", true},
		{"artifacts/pilot-real/x.json", false},
	}
	for _, tt := range tests {
		if got := IsSamplePath(tt.path); got != tt.want {
			t.Errorf("IsSamplePath(%q) = %t, want %t", tt.path, got, tt.want)
		}
	}
}
