package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/compare"
	"github.com/branchbench/branchbench/internal/pilot"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare Stage 2 long-run metrics against the baseline",
	Long: `Read the Stage 2 long-run metrics JSON and write a per-budget
comparison of every config against the 12x1 baseline.

Examples:
  branchbench compare --input artifacts/pilot/stage2_long_runs_metrics.json
  branchbench compare --input metrics.json --preflight`,
	RunE: runCompare,
}

var (
	compareInput      string
	compareBaseline   string
	compareOutputJSON string
	compareOutputMD   string
	comparePreflight  bool
	compareDryRun     bool
)

func init() {
	compareCmd.Flags().StringVar(&compareInput, "input", "", "Long-run metrics JSON (required)")
	compareCmd.Flags().StringVar(&compareBaseline, "baseline-config", pilot.BaselineConfig, "Baseline config label")
	compareCmd.Flags().StringVar(&compareOutputJSON, "output-json", "", "Comparison JSON path (defaults next to the input)")
	compareCmd.Flags().StringVar(&compareOutputMD, "output-md", "", "Comparison markdown path (defaults next to the input)")
	compareCmd.Flags().BoolVar(&comparePreflight, "preflight", false, "Validate the input without writing outputs")
	compareCmd.Flags().BoolVar(&compareDryRun, "dry-run", false, "Resolve paths without reading or writing anything")
	_ = compareCmd.MarkFlagRequired("input")
	RootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	outputJSON := compareOutputJSON
	if outputJSON == "" {
		outputJSON = filepath.Join(filepath.Dir(compareInput), artifact.ComparisonJSONName)
	}
	outputMD := compareOutputMD
	if outputMD == "" {
		outputMD = filepath.Join(filepath.Dir(compareInput), artifact.ComparisonMDName)
	}

	if compareDryRun {
		fmt.Printf("stage2_compare_dry_run_ok input=%s output_json=%s output_md=%s\n",
			compareInput, outputJSON, outputMD)
		return nil
	}

	runs, err := compare.LoadRuns(compareInput)
	if err != nil {
		return err
	}
	report, err := compare.Build(runs, compareBaseline)
	if err != nil {
		return err
	}

	if comparePreflight {
		fmt.Printf("stage2_compare_preflight_ok runs=%d token_budgets=%d input=%s\n",
			len(runs), len(report.TokenBudgets), compareInput)
		return nil
	}

	if err := compare.WriteJSON(outputJSON, report, compareInput); err != nil {
		return err
	}
	if err := compare.WriteMarkdown(outputMD, report, compareInput); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "stage2_compare_ok runs=%d token_budgets=%d output_json=%s output_md=%s\n",
		len(runs), len(report.TokenBudgets), outputJSON, outputMD)
	return nil
}
