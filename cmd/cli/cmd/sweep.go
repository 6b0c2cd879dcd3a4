package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/branchbench/branchbench/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the pilot sweep over the branching-config grid",
	Long: `Run short pilot training runs over the fixed depth/branch grid, rank
them against the 12x1 baseline, and emit ranked/finalist artifacts.

Examples:
  branchbench sweep --total-batch-size 524288 --device-batch-size 32 --artifacts-dir artifacts/pilot \
    --output-json artifacts/pilot/pilot_ranked_runs.json \
    --output-finalists-json artifacts/pilot/stage2_finalists.json \
    --output-finalists-md artifacts/pilot/stage2_finalists.md
  branchbench sweep --config sweep.yaml --artifacts-dir artifacts/pilot --preflight
  branchbench sweep --total-batch-size 524288 --device-batch-size 32 --target 2x5 --artifacts-dir artifacts/pilot`,
	RunE: runSweep,
}

var (
	sweepConfigFile     string
	sweepDeviceType     string
	sweepMaxSeqLen      int
	sweepTotalBatch     int64
	sweepDeviceBatch    int
	sweepPilotTokens    int64
	sweepEvalEvery      int
	sweepEvalTokens     int64
	sweepSlowdownPct    float64
	sweepClearBpbGain   float64
	sweepMaxFinalists   int
	sweepPythonExe      string
	sweepExtraArgs      []string
	sweepTargets        []string
	sweepArtifactsDir   string
	sweepOutputJSON     string
	sweepOutputMD       string
	sweepFinalistsJSON  string
	sweepFinalistsMD    string
	sweepRunbookMD      string
	sweepPreflightJSON  string
	sweepLaunchManifest string
	sweepLaunchScript   string
	sweepBlockedMD      string
	sweepResume         bool
	sweepPreflight      bool
	sweepDryRun         bool
)

func init() {
	defaults := sweep.DefaultParams()
	sweepCmd.Flags().StringVar(&sweepConfigFile, "config", "", "YAML sweep profile; explicit flags override it")
	sweepCmd.Flags().StringVar(&sweepDeviceType, "device-type", defaults.DeviceType, "Device type forwarded to the trainer")
	sweepCmd.Flags().IntVar(&sweepMaxSeqLen, "max-seq-len", defaults.MaxSeqLen, "Max sequence length")
	sweepCmd.Flags().Int64Var(&sweepTotalBatch, "total-batch-size", 0, "Total batch size in tokens (required)")
	sweepCmd.Flags().IntVar(&sweepDeviceBatch, "device-batch-size", 0, "Per-device batch size (required)")
	sweepCmd.Flags().Int64Var(&sweepPilotTokens, "pilot-tokens", defaults.PilotTokens, "Training token budget per pilot run")
	sweepCmd.Flags().IntVar(&sweepEvalEvery, "eval-every", defaults.EvalEvery, "In-training validation interval (iterations)")
	sweepCmd.Flags().Int64Var(&sweepEvalTokens, "eval-tokens", defaults.EvalTokens, "Tokens per in-training validation pass")
	sweepCmd.Flags().Float64Var(&sweepSlowdownPct, "slowdown-threshold-pct", defaults.SlowdownThresholdPct, "Disqualify runs slower than this vs 12x1")
	sweepCmd.Flags().Float64Var(&sweepClearBpbGain, "clear-bpb-gain", defaults.ClearBpbGain, "min val bpb margin that overrides the slowdown gate")
	sweepCmd.Flags().IntVar(&sweepMaxFinalists, "max-finalists", defaults.MaxFinalists, "Max finalists to select")
	sweepCmd.Flags().StringVar(&sweepPythonExe, "python-exe", defaults.PythonExe, "Python interpreter for the trainer")
	sweepCmd.Flags().StringSliceVar(&sweepExtraArgs, "extra-arg", nil, "Extra trainer argument (repeatable)")
	sweepCmd.Flags().StringSliceVar(&sweepTargets, "target", nil, "Restrict to grid label(s); partial runs skip ranking")
	sweepCmd.Flags().StringVar(&sweepArtifactsDir, "artifacts-dir", "", "Directory for per-run logs and metrics")
	sweepCmd.Flags().StringVar(&sweepOutputJSON, "output-json", "", "Path for the ranked-runs JSON artifact")
	sweepCmd.Flags().StringVar(&sweepOutputMD, "output-md", "", "Path for the ranking markdown artifact")
	sweepCmd.Flags().StringVar(&sweepFinalistsJSON, "output-finalists-json", "", "Path for the finalists JSON artifact")
	sweepCmd.Flags().StringVar(&sweepFinalistsMD, "output-finalists-md", "", "Path for the finalists markdown artifact")
	sweepCmd.Flags().StringVar(&sweepRunbookMD, "output-runbook-md", "", "Path for the operator runbook")
	sweepCmd.Flags().StringVar(&sweepPreflightJSON, "output-preflight-json", "", "Path for the preflight receipt (requires --preflight)")
	sweepCmd.Flags().StringVar(&sweepLaunchManifest, "output-launch-manifest-json", "", "Path for the launch manifest")
	sweepCmd.Flags().StringVar(&sweepLaunchScript, "output-launch-script-sh", "", "Path for the per-target launch script")
	sweepCmd.Flags().StringVar(&sweepBlockedMD, "output-blocked-md", "", "Path for a blocker note if the sweep cannot proceed")
	sweepCmd.Flags().BoolVar(&sweepResume, "resume-from-artifacts", false, "Reuse completed per-run artifacts instead of re-running")
	sweepCmd.Flags().BoolVar(&sweepPreflight, "preflight", false, "Validate all run commands without launching anything")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Print the planned commands without launching anything")
	RootCmd.AddCommand(sweepCmd)
}

// sweepParams merges the optional YAML profile with explicit flags. Flags
// the user set always win; profile values fill the rest.
func sweepParams(cmd *cobra.Command) (sweep.Params, error) {
	params := sweep.Params{
		DeviceType:           sweepDeviceType,
		MaxSeqLen:            sweepMaxSeqLen,
		TotalBatchSize:       sweepTotalBatch,
		DeviceBatchSize:      sweepDeviceBatch,
		PilotTokens:          sweepPilotTokens,
		EvalEvery:            sweepEvalEvery,
		EvalTokens:           sweepEvalTokens,
		SlowdownThresholdPct: sweepSlowdownPct,
		ClearBpbGain:         sweepClearBpbGain,
		MaxFinalists:         sweepMaxFinalists,
		PythonExe:            sweepPythonExe,
		ExtraArgs:            sweepExtraArgs,
	}
	if sweepConfigFile == "" {
		return params, nil
	}

	data, err := os.ReadFile(sweepConfigFile)
	if err != nil {
		return params, fmt.Errorf("could not read sweep config: %w", err)
	}
	profile := sweep.DefaultParams()
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return params, fmt.Errorf("malformed sweep config %s: %w", sweepConfigFile, err)
	}

	merged := profile
	flags := cmd.Flags()
	if flags.Changed("device-type") {
		merged.DeviceType = params.DeviceType
	}
	if flags.Changed("max-seq-len") {
		merged.MaxSeqLen = params.MaxSeqLen
	}
	if flags.Changed("total-batch-size") {
		merged.TotalBatchSize = params.TotalBatchSize
	}
	if flags.Changed("device-batch-size") {
		merged.DeviceBatchSize = params.DeviceBatchSize
	}
	if flags.Changed("pilot-tokens") {
		merged.PilotTokens = params.PilotTokens
	}
	if flags.Changed("eval-every") {
		merged.EvalEvery = params.EvalEvery
	}
	if flags.Changed("eval-tokens") {
		merged.EvalTokens = params.EvalTokens
	}
	if flags.Changed("slowdown-threshold-pct") {
		merged.SlowdownThresholdPct = params.SlowdownThresholdPct
	}
	if flags.Changed("clear-bpb-gain") {
		merged.ClearBpbGain = params.ClearBpbGain
	}
	if flags.Changed("max-finalists") {
		merged.MaxFinalists = params.MaxFinalists
	}
	if flags.Changed("python-exe") {
		merged.PythonExe = params.PythonExe
	}
	if flags.Changed("extra-arg") {
		merged.ExtraArgs = params.ExtraArgs
	}
	return merged, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	params, err := sweepParams(cmd)
	if err != nil {
		return err
	}
	driver := sweep.New()
	return driver.Run(cmd.Context(), sweep.Options{
		Params:                   params,
		Targets:                  sweepTargets,
		ArtifactsDir:             sweepArtifactsDir,
		OutputJSON:               sweepOutputJSON,
		OutputMD:                 sweepOutputMD,
		OutputFinalistsJSON:      sweepFinalistsJSON,
		OutputFinalistsMD:        sweepFinalistsMD,
		OutputRunbookMD:          sweepRunbookMD,
		OutputPreflightJSON:      sweepPreflightJSON,
		OutputLaunchManifestJSON: sweepLaunchManifest,
		OutputLaunchScriptSH:     sweepLaunchScript,
		OutputBlockedMD:          sweepBlockedMD,
		ResumeFromArtifacts:      sweepResume,
		Preflight:                sweepPreflight,
		DryRun:                   sweepDryRun,
		CommandLine:              os.Args,
	})
}
