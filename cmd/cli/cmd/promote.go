package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/branchbench/branchbench/cmd/cli/format"
	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/bundle"
	"github.com/branchbench/branchbench/internal/pilot"
	"github.com/branchbench/branchbench/internal/sweep"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Select Stage 2 finalists from a ranked-runs artifact",
	Long: `Read a ranked pilot-runs JSON artifact, select the top qualified
finalists, and write the Stage 2 finalists JSON and markdown bound to the
source ranking by content hash.

Examples:
  branchbench promote --artifacts-dir artifacts/pilot
  branchbench promote --input artifacts/pilot/pilot_ranked_runs.json --max-finalists 3`,
	RunE: runPromote,
}

var (
	promoteInput        string
	promoteArtifactsDir string
	promoteMaxFinalists int
	promoteMinFinalists int
	promoteAllowSample  bool
	promoteOutputJSON   string
	promoteOutputMD     string
)

func init() {
	promoteCmd.Flags().StringVar(&promoteInput, "input", "", "Ranked-runs JSON artifact (discovered under --artifacts-dir when omitted)")
	promoteCmd.Flags().StringVar(&promoteArtifactsDir, "artifacts-dir", artifact.DefaultArtifactRoot, "Artifacts root searched when --input is omitted")
	promoteCmd.Flags().IntVar(&promoteMaxFinalists, "max-finalists", pilot.DefaultMaxFinalists, "Maximum finalists to select")
	promoteCmd.Flags().IntVar(&promoteMinFinalists, "min-finalists", 2, "Minimum qualified finalists required to promote")
	promoteCmd.Flags().BoolVar(&promoteAllowSample, "allow-sample-input", false, "Permit sample/fixture ranked artifacts (testing only)")
	promoteCmd.Flags().StringVar(&promoteOutputJSON, "output-json", "", "Finalists JSON path (defaults next to the input)")
	promoteCmd.Flags().StringVar(&promoteOutputMD, "output-md", "", "Finalists markdown path (defaults next to the input)")
	RootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	if promoteMinFinalists < 1 {
		return fmt.Errorf("--min-finalists must be >= 1")
	}
	if promoteMaxFinalists < 1 {
		return fmt.Errorf("--max-finalists must be >= 1")
	}
	if promoteMinFinalists > promoteMaxFinalists {
		return fmt.Errorf("--min-finalists cannot exceed --max-finalists")
	}

	inputPath := promoteInput
	if inputPath == "" {
		dir, err := bundle.Discover(promoteArtifactsDir, bundle.PilotRequirements())
		if err != nil {
			return err
		}
		inputPath = filepath.Join(dir, artifact.RankedJSONName)
	}

	doc, err := artifact.LoadRankedPayload(inputPath, !promoteAllowSample)
	if err != nil {
		return err
	}
	for i, row := range doc.Rows {
		if err := artifact.ValidateRankedRow(row, i); err != nil {
			return err
		}
	}
	finalists, err := artifact.SelectFinalistRows(doc.Rows, promoteMaxFinalists)
	if err != nil {
		return err
	}
	if len(finalists) < promoteMinFinalists {
		return fmt.Errorf("expected at least %d qualified finalists, found %d", promoteMinFinalists, len(finalists))
	}
	if len(finalists) > promoteMaxFinalists {
		return fmt.Errorf("expected at most %d qualified finalists, found %d", promoteMaxFinalists, len(finalists))
	}

	outputJSON := promoteOutputJSON
	if outputJSON == "" {
		outputJSON = filepath.Join(filepath.Dir(inputPath), artifact.FinalistsJSONName)
	}
	outputMD := promoteOutputMD
	if outputMD == "" {
		outputMD = filepath.Join(filepath.Dir(inputPath), artifact.FinalistsMDName)
	}

	// Persist the original rows untouched so verification can recompute
	// the selection from the ranked document byte-for-byte.
	payload := map[string]any{
		"source":             inputPath,
		"source_sha256":      doc.SourceSHA256,
		"max_finalists":      promoteMaxFinalists,
		"selected_finalists": finalists,
	}
	if err := artifact.WriteJSON(outputJSON, payload); err != nil {
		return err
	}

	ranked, err := decodeRankedRuns(doc.Rows)
	if err != nil {
		return err
	}
	selected, err := decodeRankedRuns(finalists)
	if err != nil {
		return err
	}
	summary, err := pilot.FormatFinalistsSummary(ranked, promoteMaxFinalists)
	if err != nil {
		return err
	}
	if err := artifact.WriteText(outputMD, sweep.RenderFinalistsMarkdown(summary, selected)); err != nil {
		return err
	}

	switch getFormat() {
	case format.FormatJSON:
		if err := format.JSON(map[string]any{
			"finalists":   len(selected),
			"source":      inputPath,
			"output_json": outputJSON,
			"output_md":   outputMD,
		}); err != nil {
			return err
		}
	case format.FormatCSV:
		if err := format.CSV(os.Stdout, finalistHeaders(), finalistRows(selected)); err != nil {
			return err
		}
	default:
		format.Table(finalistHeaders(), finalistRows(selected))
	}
	fmt.Printf("stage2_promote_ok finalists=%d output_json=%s output_md=%s\n", len(selected), outputJSON, outputMD)
	return nil
}

func finalistHeaders() []string {
	return []string{"RANK", "CONFIG", "TOK/SEC", "MIN VAL BPB", "TOKEN BUDGET"}
}

func finalistRows(selected []pilot.RankedRun) [][]string {
	rows := make([][]string, 0, len(selected))
	for _, run := range selected {
		rank := "-"
		if run.Rank != nil {
			rank = strconv.Itoa(*run.Rank)
		}
		budget := "-"
		if run.TokenBudget != nil {
			budget = strconv.FormatInt(*run.TokenBudget, 10)
		}
		rows = append(rows, []string{
			rank,
			run.Config,
			strconv.FormatInt(int64(run.SelectedTokPerSec), 10),
			format.PtrF64(run.MinValBpb, 4),
			budget,
		})
	}
	return rows
}

// decodeRankedRuns converts generic ranked rows into typed records for
// display and markdown rendering.
func decodeRankedRuns(rows []artifact.Row) ([]pilot.RankedRun, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var decoded []pilot.RankedRun
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("ranked rows do not decode as ranked runs: %w", err)
	}
	return decoded, nil
}
