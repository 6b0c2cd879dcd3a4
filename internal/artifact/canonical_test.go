package artifact

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestCanonicalJSON_KeyOrderIndependence(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "nested": map[string]any{"z": true, "y": false}}
	b := map[string]any{"nested": map[string]any{"y": false, "z": true}, "a": 2, "b": 1}
	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalJSON_PreservesNumberLiterals(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"budget": int64(249_561_088), "bpb": 0.9514})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if want := `{"bpb":0.9514,"budget":249561088}`; string(got) != want {
		t.Errorf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalSHA256_Stability(t *testing.T) {
	payload := map[string]any{"ranked_runs": []any{map[string]any{"config": "12x1", "rank": 1}}}
	first, err := CanonicalSHA256(payload)
	if err != nil {
		t.Fatalf("CanonicalSHA256: %v", err)
	}
	second, err := CanonicalSHA256(payload)
	if err != nil {
		t.Fatalf("CanonicalSHA256: %v", err)
	}
	if first != second {
		t.Errorf("digest not stable: %s vs %s", first, second)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(first) {
		t.Errorf("digest is not lowercase hex sha256: %s", first)
	}
}

func TestCanonicalSHA256_DetectsMutation(t *testing.T) {
	base := map[string]any{"config": "12x1", "selected_tok_per_sec": 1000.0}
	mutated := map[string]any{"config": "12x1", "selected_tok_per_sec": 1001.0}
	a, err := CanonicalSHA256(base)
	if err != nil {
		t.Fatalf("CanonicalSHA256: %v", err)
	}
	b, err := CanonicalSHA256(mutated)
	if err != nil {
		t.Fatalf("CanonicalSHA256: %v", err)
	}
	if a == b {
		t.Error("digest must change when a field changes")
	}
}

func TestWriteJSON_CreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep", "nested", "out.json")
	if err := WriteJSON(path, map[string]any{"ok": true}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"ok": true`) {
		t.Errorf("unexpected file contents: %s", data)
	}
}

func TestFileSHA256_MatchesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.json")
	if err := WriteText(path, "{}"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	// sha256("{}")
	want := "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"
	got, err := FileSHA256(path)
	if err != nil {
		t.Fatalf("FileSHA256: %v", err)
	}
	if got != want {
		t.Errorf("digest = %s, want %s", got, want)
	}
}
