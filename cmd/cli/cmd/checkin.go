package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/provenance"
)

var checkInCmd = &cobra.Command{
	Use:   "check-in",
	Short: "Run the strict pre-commit verification of a pilot bundle",
	Long: `Verify a pilot artifact bundle in check-in mode: real input and
git-tracked artifacts are both required, and a check receipt is written
into the bundle directory.

Example:
  branchbench check-in --artifacts-dir artifacts/pilot`,
	RunE: runCheckIn,
}

var (
	checkInInput         string
	checkInArtifactsDir  string
	checkInAllowSample   bool
	checkInBundleReceipt string
	checkInOutputJSON    string
)

func init() {
	checkInCmd.Flags().StringVar(&checkInInput, "input", "", "Ranked-runs JSON artifact (discovered under --artifacts-dir when omitted)")
	checkInCmd.Flags().StringVar(&checkInArtifactsDir, "artifacts-dir", artifact.DefaultArtifactRoot, "Artifacts root searched when --input is omitted")
	checkInCmd.Flags().BoolVar(&checkInAllowSample, "allow-sample-input", false, "Permit sample/fixture bundles (testing only)")
	checkInCmd.Flags().StringVar(&checkInBundleReceipt, "bundle-receipt-json", "", "Promotion bundle receipt to cross-check")
	checkInCmd.Flags().StringVar(&checkInOutputJSON, "output-check-json", "", "Check receipt path (defaults into the bundle directory)")
	RootCmd.AddCommand(checkInCmd)
}

func runCheckIn(cmd *cobra.Command, args []string) error {
	rankedJSON, finalistsJSON, finalistsMD, err := resolveBundlePaths(checkInInput, checkInArtifactsDir)
	if err != nil {
		return err
	}
	outputJSON := checkInOutputJSON
	if outputJSON == "" {
		outputJSON = filepath.Join(filepath.Dir(rankedJSON), artifact.CheckReceiptName)
	}

	count, err := provenance.CheckPilotBundle(provenance.Options{
		RankedJSON:        rankedJSON,
		FinalistsJSON:     finalistsJSON,
		FinalistsMD:       finalistsMD,
		CheckIn:           true,
		AllowSampleInput:  checkInAllowSample,
		BundleReceiptJSON: checkInBundleReceipt,
		OutputCheckJSON:   outputJSON,
		CommandLine:       os.Args,
	})
	if err != nil {
		return err
	}
	fmt.Printf("pilot_check_in_ok finalists=%d artifacts_dir=%s check_json=%s\n",
		count, filepath.Dir(rankedJSON), outputJSON)
	return nil
}
