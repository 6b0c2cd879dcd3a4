// Package sweep drives the Stage 1 pilot sweep: sequential training runs
// over the fixed target grid, per-config artifact emission, ranking, and
// finalist artifact generation. One training subprocess runs to completion
// before the next command is constructed.
package sweep

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/pilot"
	"github.com/branchbench/branchbench/internal/runner"
)

// Params are the sweep-wide training and ranking parameters. YAML tags
// support loading a sweep profile from a config file.
type Params struct {
	DeviceType           string   `yaml:"device_type"`
	MaxSeqLen            int      `yaml:"max_seq_len"`
	TotalBatchSize       int64    `yaml:"total_batch_size"`
	DeviceBatchSize      int      `yaml:"device_batch_size"`
	PilotTokens          int64    `yaml:"pilot_tokens"`
	EvalEvery            int      `yaml:"eval_every"`
	EvalTokens           int64    `yaml:"eval_tokens"`
	SlowdownThresholdPct float64  `yaml:"slowdown_threshold_pct"`
	ClearBpbGain         float64  `yaml:"clear_bpb_gain"`
	MaxFinalists         int      `yaml:"max_finalists"`
	PythonExe            string   `yaml:"python_exe"`
	ExtraArgs            []string `yaml:"extra_args"`
}

// DefaultParams returns the canonical pilot sweep defaults. Batch sizes
// have no sane default and must be supplied.
func DefaultParams() Params {
	return Params{
		MaxSeqLen:            2048,
		PilotTokens:          250_000_000,
		EvalEvery:            75,
		EvalTokens:           1_048_576,
		SlowdownThresholdPct: pilot.DefaultSlowdownThresholdPct,
		ClearBpbGain:         pilot.DefaultClearBpbGain,
		MaxFinalists:         pilot.DefaultMaxFinalists,
		PythonExe:            "python3",
	}
}

func (p Params) commandParams() pilot.CommandParams {
	return pilot.CommandParams{
		PythonExe:       p.PythonExe,
		MaxSeqLen:       p.MaxSeqLen,
		TotalBatchSize:  p.TotalBatchSize,
		DeviceBatchSize: p.DeviceBatchSize,
		PilotTokens:     p.PilotTokens,
		EvalEvery:       p.EvalEvery,
		EvalTokens:      p.EvalTokens,
		DeviceType:      p.DeviceType,
		ExtraArgs:       p.ExtraArgs,
	}
}

// Options configures one sweep invocation.
type Options struct {
	Params Params

	// Targets optionally restricts the sweep to a subset of grid labels.
	// Partial runs emit per-config artifacts only, never ranking output.
	Targets []string

	ArtifactsDir        string
	OutputJSON          string
	OutputMD            string
	OutputFinalistsJSON string
	OutputFinalistsMD   string

	OutputRunbookMD          string
	OutputPreflightJSON      string
	OutputLaunchManifestJSON string
	OutputLaunchScriptSH     string
	OutputBlockedMD          string

	ResumeFromArtifacts bool
	Preflight           bool
	DryRun              bool

	// CommandLine is recorded in blocker diagnostics.
	CommandLine []string
}

// Driver executes sweeps. RunPilot is swappable so tests can substitute a
// fake trainer.
type Driver struct {
	RunPilot func(ctx context.Context, command []string) (string, runner.PilotResult)
	Stdout   io.Writer
}

// New returns a Driver wired to the real subprocess runner.
func New() *Driver {
	return &Driver{RunPilot: runner.RunPilot, Stdout: os.Stdout}
}

// RankedPayload is the persisted ranking document: the sweep parameters the
// ranking was computed under plus the ranked records. Its canonical SHA-256
// is the content address downstream artifacts bind to.
type RankedPayload struct {
	MaxSeqLen            int               `json:"max_seq_len"`
	TotalBatchSize       int64             `json:"total_batch_size"`
	DeviceBatchSize      int               `json:"device_batch_size"`
	PilotTokens          int64             `json:"pilot_tokens"`
	EvalEvery            int               `json:"eval_every"`
	EvalTokens           int64             `json:"eval_tokens"`
	SlowdownThresholdPct float64           `json:"slowdown_threshold_pct"`
	ClearBpbGain         float64           `json:"clear_bpb_gain"`
	RankedRuns           []pilot.RankedRun `json:"ranked_runs"`
}

// FinalistsPayload is the persisted finalists document, bound to its source
// ranking by path and canonical content hash.
type FinalistsPayload struct {
	Source            string            `json:"source"`
	SourceSHA256      string            `json:"source_sha256"`
	MaxFinalists      int               `json:"max_finalists"`
	SelectedFinalists []pilot.RankedRun `json:"selected_finalists"`
}

type indexedTarget struct {
	index  int
	target pilot.Target
}

// Run executes the sweep. On failure it writes the blocker markdown when
// requested, then propagates the error.
func (d *Driver) Run(ctx context.Context, opts Options) error {
	err := d.run(ctx, opts)
	if err != nil && opts.OutputBlockedMD != "" {
		mode := "run"
		if opts.Preflight {
			mode = "preflight"
		}
		if writeErr := writeBlockedMarkdown(opts, mode, err.Error()); writeErr != nil {
			log.Printf("warning: could not write blocked markdown: %v", writeErr)
		}
	}
	return err
}

func (d *Driver) run(ctx context.Context, opts Options) error {
	if opts.ResumeFromArtifacts && opts.ArtifactsDir == "" {
		return fmt.Errorf("--resume-from-artifacts requires --artifacts-dir")
	}
	if opts.OutputRunbookMD != "" && opts.ArtifactsDir == "" {
		return fmt.Errorf("--output-runbook-md requires --artifacts-dir")
	}
	if opts.OutputPreflightJSON != "" && !opts.Preflight {
		return fmt.Errorf("--output-preflight-json requires --preflight")
	}
	if opts.OutputLaunchScriptSH != "" && opts.ArtifactsDir == "" {
		return fmt.Errorf("--output-launch-script-sh requires --artifacts-dir")
	}

	selected, err := resolveSelectedTargets(opts.Targets)
	if err != nil {
		return err
	}
	isFullGrid := len(selected) == len(pilot.DefaultTargets)

	if !isFullGrid &&
		(opts.OutputJSON != "" || opts.OutputMD != "" || opts.OutputFinalistsJSON != "" || opts.OutputFinalistsMD != "") {
		return fmt.Errorf(
			"partial --target runs cannot emit ranking/finalist artifacts; run full grid or omit artifact outputs")
	}

	if opts.OutputLaunchManifestJSON != "" {
		manifest, err := buildLaunchManifest(opts, selected, isFullGrid)
		if err != nil {
			return err
		}
		if err := artifact.WriteJSON(opts.OutputLaunchManifestJSON, manifest); err != nil {
			return err
		}
	}

	if opts.OutputLaunchScriptSH != "" {
		if err := artifact.WriteText(opts.OutputLaunchScriptSH, renderLaunchScript(opts, selected)); err != nil {
			return err
		}
	}

	rankedJSONPath := opts.OutputJSON
	if rankedJSONPath == "" {
		rankedJSONPath = filepath.Join(opts.ArtifactsDir, artifact.RankedJSONName)
	}
	rankingMDPath := opts.OutputMD
	if rankingMDPath == "" {
		rankingMDPath = filepath.Join(opts.ArtifactsDir, artifact.RankingMDName)
	}
	finalistsJSONPath := opts.OutputFinalistsJSON
	if finalistsJSONPath == "" {
		finalistsJSONPath = filepath.Join(opts.ArtifactsDir, artifact.FinalistsJSONName)
	}
	finalistsMDPath := opts.OutputFinalistsMD
	if finalistsMDPath == "" {
		finalistsMDPath = filepath.Join(opts.ArtifactsDir, artifact.FinalistsMDName)
	}

	if opts.Preflight {
		receipt := runPreflight(opts, selected, isFullGrid)
		if opts.OutputPreflightJSON != "" {
			if err := artifact.WriteJSON(opts.OutputPreflightJSON, receipt); err != nil {
				return err
			}
		}
		status := "ok"
		if !receipt.OK {
			status = "fail"
		}
		fmt.Fprintf(d.Stdout, "pilot_sweep_preflight: %s\n", status)
		if !receipt.OK {
			failures := ""
			for _, msg := range receipt.Errors {
				failures += "\n- " + msg
			}
			return fmt.Errorf("pilot sweep preflight failed:%s", failures)
		}
		return nil
	}

	var runs []pilot.Run
	for _, entry := range selected {
		command, numIterations, err := pilot.BuildCommand(entry.target, opts.Params.commandParams())
		if err != nil {
			return fmt.Errorf("%s: %w", entry.target.Label, err)
		}
		tokenBudget := numIterations * opts.Params.TotalBatchSize
		run := pilot.Run{
			Config:        entry.target.Label,
			Depth:         entry.target.Depth,
			NBranches:     entry.target.NBranches,
			AspectRatio:   entry.target.AspectRatio,
			NumIterations: numIterations,
			TokenBudget:   &tokenBudget,
			Command:       command,
		}

		if opts.ResumeFromArtifacts {
			// Snapshot the planned budget: unmarshaling the stored artifact
			// writes through run.TokenBudget, which aliases tokenBudget.
			expectedBudget := tokenBudget
			loaded, found, err := loadExistingRunArtifact(opts.ArtifactsDir, entry.index, entry.target.Label, run)
			if err != nil {
				return err
			}
			if found {
				if err := validateResumeRunArtifact(opts.ArtifactsDir, entry.index, entry.target.Label, loaded, expectedBudget); err != nil {
					return err
				}
				runs = append(runs, *loaded)
				log.Printf("resume: using existing artifacts for %s", entry.target.Label)
				continue
			}
		}

		if opts.DryRun {
			runs = append(runs, run)
			fmt.Fprintln(d.Stdout, shellJoin(command))
			continue
		}

		log.Printf("[%s] launching pilot run (%d iterations)", entry.target.Label, numIterations)
		output, result := d.RunPilot(ctx, command)
		applyResult(&run, result)
		if result.CommandFailed {
			log.Printf("warning: pilot run %s exited non-zero and was marked unstable", entry.target.Label)
		}

		if opts.ArtifactsDir != "" {
			if err := writeRunArtifacts(opts.ArtifactsDir, entry.index, run, output); err != nil {
				return err
			}
		}
		runs = append(runs, run)
	}

	if opts.DryRun {
		if opts.OutputRunbookMD != "" {
			runbook := renderRunbook(opts, rankedJSONPath, rankingMDPath, finalistsJSONPath, finalistsMDPath)
			if err := artifact.WriteText(opts.OutputRunbookMD, runbook); err != nil {
				return err
			}
		}
		return nil
	}

	if !isFullGrid {
		log.Printf("partial sweep complete: skipping ranking/finalist generation for target subset run")
		return nil
	}

	ranked, err := pilot.ApplyRankingRule(runs, opts.Params.SlowdownThresholdPct, opts.Params.ClearBpbGain)
	if err != nil {
		return err
	}
	finalists, err := pilot.SelectFinalists(ranked, opts.Params.MaxFinalists)
	if err != nil {
		return err
	}
	table, err := pilot.FormatRankingTable(ranked)
	if err != nil {
		return err
	}
	summary, err := pilot.FormatFinalistsSummary(ranked, opts.Params.MaxFinalists)
	if err != nil {
		return err
	}
	fmt.Fprintln(d.Stdout, table)
	fmt.Fprintln(d.Stdout)
	fmt.Fprintln(d.Stdout, summary)

	payload := RankedPayload{
		MaxSeqLen:            opts.Params.MaxSeqLen,
		TotalBatchSize:       opts.Params.TotalBatchSize,
		DeviceBatchSize:      opts.Params.DeviceBatchSize,
		PilotTokens:          opts.Params.PilotTokens,
		EvalEvery:            opts.Params.EvalEvery,
		EvalTokens:           opts.Params.EvalTokens,
		SlowdownThresholdPct: opts.Params.SlowdownThresholdPct,
		ClearBpbGain:         opts.Params.ClearBpbGain,
		RankedRuns:           ranked,
	}
	sourceSHA256, err := artifact.CanonicalSHA256(payload)
	if err != nil {
		return err
	}

	if opts.OutputJSON != "" {
		if err := artifact.WriteJSON(opts.OutputJSON, payload); err != nil {
			return err
		}
	}
	if opts.OutputMD != "" {
		if err := artifact.WriteText(opts.OutputMD, renderRankingMarkdown(table, summary)); err != nil {
			return err
		}
	}
	if opts.OutputFinalistsJSON != "" {
		finalistsPayload := FinalistsPayload{
			Source:            rankedJSONPath,
			SourceSHA256:      sourceSHA256,
			MaxFinalists:      opts.Params.MaxFinalists,
			SelectedFinalists: finalists,
		}
		if err := artifact.WriteJSON(opts.OutputFinalistsJSON, finalistsPayload); err != nil {
			return err
		}
	}
	if opts.OutputFinalistsMD != "" {
		if err := artifact.WriteText(opts.OutputFinalistsMD, RenderFinalistsMarkdown(summary, finalists)); err != nil {
			return err
		}
	}
	if opts.OutputRunbookMD != "" {
		runbook := renderRunbook(opts, rankedJSONPath, rankingMDPath, finalistsJSONPath, finalistsMDPath)
		if err := artifact.WriteText(opts.OutputRunbookMD, runbook); err != nil {
			return err
		}
	}
	return nil
}

func applyResult(run *pilot.Run, result runner.PilotResult) {
	run.AvgTokPerSec = result.AvgTokPerSec
	run.FinalTokPerSec = result.FinalTokPerSec
	run.SelectedTokPerSec = result.SelectedTokPerSec
	run.FinalMFU = result.FinalMFU
	run.PeakMemoryMiB = result.PeakMemoryMiB
	run.FinalValBpb = result.FinalValBpb
	run.MinValBpb = result.MinValBpb
	run.Unstable = result.Unstable
	run.CommandFailed = result.CommandFailed
	run.FailureReturncode = result.FailureReturncode
}

// resolveSelectedTargets maps requested labels onto the fixed grid,
// preserving grid order and one-based run indices. No labels selects the
// full grid.
func resolveSelectedTargets(labels []string) ([]indexedTarget, error) {
	all := make([]indexedTarget, len(pilot.DefaultTargets))
	for i, target := range pilot.DefaultTargets {
		all[i] = indexedTarget{index: i + 1, target: target}
	}
	if len(labels) == 0 {
		return all, nil
	}

	known := map[string]bool{}
	for _, target := range pilot.DefaultTargets {
		known[target.Label] = true
	}
	var unknown []string
	counts := map[string]int{}
	for _, label := range labels {
		counts[label]++
		if !known[label] && !contains(unknown, label) {
			unknown = append(unknown, label)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown --target labels: %s", joinSorted(unknown))
	}
	var duplicates []string
	for label, count := range counts {
		if count > 1 {
			duplicates = append(duplicates, label)
		}
	}
	if len(duplicates) > 0 {
		return nil, fmt.Errorf("duplicate --target labels are not allowed: %s", joinSorted(duplicates))
	}

	var selected []indexedTarget
	for _, entry := range all {
		if counts[entry.target.Label] > 0 {
			selected = append(selected, entry)
		}
	}
	return selected, nil
}
