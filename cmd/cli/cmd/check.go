package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/bundle"
	"github.com/branchbench/branchbench/internal/provenance"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify a pilot artifact bundle's provenance chain",
	Long: `Verify that the finalists artifacts were derived from the exact
ranked-runs artifact they name: path binding, content-hash binding,
recomputed finalist selection, and markdown cross-checks.

Examples:
  branchbench check --artifacts-dir artifacts/pilot
  branchbench check --input artifacts/pilot/pilot_ranked_runs.json --require-git-tracked`,
	RunE: runCheck,
}

var (
	checkInput             string
	checkArtifactsDir      string
	checkRequireRealInput  bool
	checkRequireGitTracked bool
	checkBundleReceipt     string
	checkOutputJSON        string
	checkDryRun            bool
)

func init() {
	checkCmd.Flags().StringVar(&checkInput, "input", "", "Ranked-runs JSON artifact (discovered under --artifacts-dir when omitted)")
	checkCmd.Flags().StringVar(&checkArtifactsDir, "artifacts-dir", artifact.DefaultArtifactRoot, "Artifacts root searched when --input is omitted")
	checkCmd.Flags().BoolVar(&checkRequireRealInput, "require-real-input", false, "Reject sample/fixture ranked artifacts")
	checkCmd.Flags().BoolVar(&checkRequireGitTracked, "require-git-tracked", false, "Require all bundle files to be git-tracked")
	checkCmd.Flags().StringVar(&checkBundleReceipt, "bundle-receipt-json", "", "Promotion bundle receipt to cross-check")
	checkCmd.Flags().StringVar(&checkOutputJSON, "output-check-json", "", "Path for the machine-readable check receipt")
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "Resolve bundle paths without verifying")
	RootCmd.AddCommand(checkCmd)
}

// resolveBundlePaths locates the ranked/finalists trio either from an
// explicit ranked-runs path or by bundle discovery under the root.
func resolveBundlePaths(input, artifactsDir string) (rankedJSON, finalistsJSON, finalistsMD string, err error) {
	rankedJSON = input
	if rankedJSON == "" {
		dir, err := bundle.Discover(artifactsDir, bundle.PilotRequirements())
		if err != nil {
			return "", "", "", err
		}
		rankedJSON = filepath.Join(dir, artifact.RankedJSONName)
	}
	dir := filepath.Dir(rankedJSON)
	return rankedJSON,
		filepath.Join(dir, artifact.FinalistsJSONName),
		filepath.Join(dir, artifact.FinalistsMDName),
		nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	rankedJSON, finalistsJSON, finalistsMD, err := resolveBundlePaths(checkInput, checkArtifactsDir)
	if err != nil {
		return err
	}
	if checkDryRun {
		fmt.Printf("pilot_bundle_check_dry_run_ok ranked_json=%s finalists_json=%s finalists_md=%s\n",
			rankedJSON, finalistsJSON, finalistsMD)
		return nil
	}

	count, err := provenance.CheckPilotBundle(provenance.Options{
		RankedJSON:        rankedJSON,
		FinalistsJSON:     finalistsJSON,
		FinalistsMD:       finalistsMD,
		RequireRealInput:  checkRequireRealInput,
		RequireGitTracked: checkRequireGitTracked,
		BundleReceiptJSON: checkBundleReceipt,
		OutputCheckJSON:   checkOutputJSON,
		CommandLine:       os.Args,
	})
	if err != nil {
		return err
	}
	fmt.Printf("pilot_bundle_check_ok finalists=%d ranked_json=%s\n", count, rankedJSON)
	return nil
}
