// Package artifact defines the persisted JSON artifact contracts of the
// pipeline: content-addressed ranked-runs documents, finalists documents,
// and the canonical hashing that chains them together. Artifacts are
// immutable once written; every transformation produces a new file.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CanonicalJSON serializes v in canonical form: compact, stable key order,
// number literals preserved. Two logically identical payloads canonicalize
// to the same bytes regardless of field order or incidental whitespace.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return json.Marshal(generic)
}

// CanonicalSHA256 is the content address of a JSON payload: SHA-256 over its
// canonical serialization, as a lowercase hex digest.
func CanonicalSHA256(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// FileSHA256 hashes the raw bytes of a file. Used for receipts, which bind
// to exact file contents rather than canonical JSON content.
func FileSHA256(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// WriteJSON writes v as indented JSON, creating parent directories as
// needed. Writes are whole-file; single-writer discipline per path is
// assumed throughout the pipeline.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// WriteText writes a text artifact, creating parent directories as needed.
func WriteText(path, text string) error {
	return writeFile(path, []byte(text))
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
