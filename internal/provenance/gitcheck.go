package provenance

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// gitLsFiles is the version-control tracking oracle. Swappable for tests.
var gitLsFiles = func(relPath string) error {
	cmd := exec.Command("git", "ls-files", "--error-unmatch", relPath)
	return cmd.Run()
}

// assertGitTracked requires every artifact path to resolve under the
// current working tree and to be tracked by git. Paths are checked in a
// stable order so the first failure is deterministic.
func assertGitTracked(paths map[string]string) error {
	repoRoot, err := os.Getwd()
	if err != nil {
		return err
	}
	repoRoot = resolvePath(repoRoot)

	labels := make([]string, 0, len(paths))
	for label := range paths {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		path := paths[label]
		resolved := resolvePath(path)
		rel, err := filepath.Rel(repoRoot, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("artifact path is outside repository root: %s", path)
		}
		if err := gitLsFiles(rel); err != nil {
			return fmt.Errorf("artifact is not git-tracked: %s", path)
		}
	}
	return nil
}
