// Package bundle discovers artifact bundle directories under a search root
// and classifies each candidate as real or rejected with a specific reason.
// Discovery is the front door of the strict checker's --artifacts-dir auto
// mode: it must never pick a fixture bundle and must explain every
// rejection.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/branchbench/branchbench/internal/artifact"
)

// maxRejectionExamples bounds how many rejected candidates a discovery
// failure enumerates before truncating.
const maxRejectionExamples = 5

// Requirements names the files a directory must carry to count as a
// coherent bundle. RankedJSON is the discovery anchor; Siblings must exist
// next to it.
type Requirements struct {
	RankedJSON string
	Siblings   []string
}

// PilotRequirements is the standard pilot bundle shape.
func PilotRequirements() Requirements {
	return Requirements{
		RankedJSON: artifact.RankedJSONName,
		Siblings:   []string{artifact.FinalistsJSONName, artifact.FinalistsMDName},
	}
}

// Rejection records why one candidate directory was not a real bundle.
type Rejection struct {
	Dir    string
	Reason string
}

// Discover walks root for candidate bundle directories, classifies each,
// and returns the accepted directory whose ranked file was modified most
// recently. Timestamp ties break by lexicographic path order. When nothing
// is accepted the error enumerates the rejections.
func Discover(root string, req Requirements) (string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf(
			"artifacts root does not exist: %s; pass an explicit artifacts dir or emit pilot artifacts first", root)
	}

	seen := map[string]bool{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		// Runbook files also mark a directory as an intended bundle home,
		// so an incomplete emission is reported instead of ignored.
		if name == req.RankedJSON || (strings.Contains(name, "runbook") && strings.HasSuffix(name, ".md")) {
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var (
		bestDir   string
		bestMtime time.Time
		rejected  []Rejection
	)
	for _, dir := range dirs {
		if reason := classify(dir, req); reason != "" {
			rejected = append(rejected, Rejection{Dir: dir, Reason: reason})
			continue
		}
		stat, err := os.Stat(filepath.Join(dir, req.RankedJSON))
		if err != nil {
			rejected = append(rejected, Rejection{Dir: dir, Reason: fmt.Sprintf("missing files: %s", req.RankedJSON)})
			continue
		}
		if bestDir == "" || stat.ModTime().After(bestMtime) {
			bestDir = dir
			bestMtime = stat.ModTime()
		}
	}

	if bestDir == "" {
		return "", noRealBundleError(root, req.RankedJSON, rejected)
	}
	return bestDir, nil
}

// classify returns the rejection reason for dir, or "" when the bundle is
// real. Checks run in a fixed order so rejection reasons are deterministic.
func classify(dir string, req Requirements) string {
	if artifact.IsSamplePath(dir) {
		return "sample path segment"
	}

	var missing []string
	for _, name := range append([]string{req.RankedJSON}, req.Siblings...) {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.IsDir() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("missing files: %s", strings.Join(missing, ", "))
	}

	data, err := os.ReadFile(filepath.Join(dir, req.RankedJSON))
	if err != nil {
		return fmt.Sprintf("malformed ranked JSON (%v)", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return fmt.Sprintf("malformed ranked JSON (%v)", err)
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return "ranked JSON payload must be an object"
	}
	if obj["is_sample"] == true {
		return "ranked JSON payload marks is_sample=true"
	}
	if _, ok := obj["ranked_runs"].([]any); !ok {
		return "ranked JSON missing ranked_runs list"
	}
	return ""
}

func noRealBundleError(root, rankedName string, rejected []Rejection) error {
	lines := []string{
		fmt.Sprintf("no real pilot artifact bundle found under %s; run the pilot sweep on target GPU(s) first", root),
		fmt.Sprintf("discovery searched for '%s' files and rejected %d candidate bundle(s)", rankedName, len(rejected)),
	}
	for i, r := range rejected {
		if i == maxRejectionExamples {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", r.Dir, r.Reason))
	}
	if len(rejected) > maxRejectionExamples {
		lines = append(lines, fmt.Sprintf("- ... %d more candidate bundle(s) omitted", len(rejected)-maxRejectionExamples))
	}
	return fmt.Errorf("%s", strings.Join(lines, "\n"))
}
