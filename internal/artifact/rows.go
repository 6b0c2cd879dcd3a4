package artifact

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one ranked-run record at the deserialization boundary. Validation
// works on the generic decoded form so that unknown fields survive the
// round trip into downstream artifacts byte-for-byte.
type Row = map[string]any

// ValidateRankedRow checks one ranked_runs entry's required fields and the
// coherence of its qualified/rank/disqualify_reason triple. Errors name the
// offending row index and field.
func ValidateRankedRow(row Row, index int) error {
	if err := requireString(row, "config", index); err != nil {
		return err
	}
	for _, key := range []string{"depth", "n_branches", "aspect_ratio"} {
		if err := requirePositiveInt(row, key, index); err != nil {
			return err
		}
	}
	if err := requireNonNegativeNumber(row, "selected_tok_per_sec", index); err != nil {
		return err
	}
	if err := requireNumber(row, "min_val_bpb", index); err != nil {
		return err
	}
	if err := requirePositiveInt(row, "token_budget", index); err != nil {
		return err
	}

	qualified, err := requireBool(row, "qualified", index)
	if err != nil {
		return err
	}
	rank, err := optionalPositiveInt(row, "rank", index)
	if err != nil {
		return err
	}
	if qualified && rank == nil {
		return fmt.Errorf("ranked_runs[%d] qualified row must include a positive integer rank", index)
	}
	if !qualified && rank != nil {
		return fmt.Errorf("ranked_runs[%d] disqualified row must set rank to null", index)
	}

	reason := row["disqualify_reason"]
	if qualified {
		if reason != nil {
			return fmt.Errorf("ranked_runs[%d] qualified row must set disqualify_reason to null", index)
		}
	} else {
		s, ok := reason.(string)
		if !ok || s == "" {
			return fmt.Errorf("ranked_runs[%d] disqualified row must include non-empty disqualify_reason", index)
		}
	}
	return nil
}

// SelectFinalistRows is the generic-row mirror of pilot.SelectFinalists,
// used when recomputing a finalists list from a persisted ranking. It
// preserves order and every field of the selected rows.
func SelectFinalistRows(rows []Row, maxFinalists int) ([]Row, error) {
	if maxFinalists <= 0 {
		return nil, fmt.Errorf("max_finalists must be > 0")
	}
	finalists := make([]Row, 0, maxFinalists)
	for _, row := range rows {
		if q, ok := row["qualified"].(bool); !ok || !q {
			continue
		}
		finalists = append(finalists, row)
		if len(finalists) == maxFinalists {
			break
		}
	}
	return finalists, nil
}

// RowsEqual reports structural equality of two row lists via their
// canonical serializations.
func RowsEqual(a, b []Row) (bool, error) {
	ca, err := CanonicalJSON(a)
	if err != nil {
		return false, err
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		return false, err
	}
	return string(ca) == string(cb), nil
}

func requireString(row Row, key string, index int) error {
	if s, ok := row[key].(string); !ok || s == "" {
		return fmt.Errorf("ranked_runs[%d] missing non-empty string field: %s", index, key)
	}
	return nil
}

func requireBool(row Row, key string, index int) (bool, error) {
	b, ok := row[key].(bool)
	if !ok {
		return false, fmt.Errorf("ranked_runs[%d] missing boolean field: %s", index, key)
	}
	return b, nil
}

func requirePositiveInt(row Row, key string, index int) error {
	v, ok := asInt(row[key])
	if !ok || v <= 0 {
		return fmt.Errorf("ranked_runs[%d] missing positive integer field: %s", index, key)
	}
	return nil
}

func requireNumber(row Row, key string, index int) error {
	if _, ok := asFloat(row[key]); !ok {
		return fmt.Errorf("ranked_runs[%d] missing numeric field: %s", index, key)
	}
	return nil
}

func requireNonNegativeNumber(row Row, key string, index int) error {
	v, ok := asFloat(row[key])
	if !ok {
		return fmt.Errorf("ranked_runs[%d] missing numeric field: %s", index, key)
	}
	if v < 0 {
		return fmt.Errorf("ranked_runs[%d] field must be >= 0: %s", index, key)
	}
	return nil
}

func optionalPositiveInt(row Row, key string, index int) (*int64, error) {
	value, present := row[key]
	if !present || value == nil {
		return nil, nil
	}
	v, ok := asInt(value)
	if !ok || v <= 0 {
		return nil, fmt.Errorf("ranked_runs[%d] field must be null or a positive integer: %s", index, key)
	}
	return &v, nil
}

// asInt accepts decoded JSON numbers with integral literals only; booleans
// and fractional values are never integers.
func asInt(value any) (int64, bool) {
	switch n := value.(type) {
	case json.Number:
		v, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return v, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case json.Number:
		v, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return v, true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// AsInt exposes integer coercion for callers interpreting validated rows.
func AsInt(value any) (int64, bool) { return asInt(value) }

// AsFloat exposes numeric coercion for callers interpreting validated rows.
func AsFloat(value any) (float64, bool) { return asFloat(value) }

// IsSamplePath reports whether any path component contains "sample",
// case-insensitively. Such paths mark fixture inputs that must never pass a
// strict check-in.
func IsSamplePath(path string) bool {
	for _, part := range strings.Split(strings.ToLower(strings.ReplaceAll(path, "\\", "/")), "/") {
		if strings.Contains(part, "sample") {
			return true
		}
	}
	return false
}
