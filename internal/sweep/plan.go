package sweep

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/branchbench/branchbench/internal/pilot"
)

// TargetReceipt records one target's preflight outcome.
type TargetReceipt struct {
	Index               int      `json:"index"`
	Config              string   `json:"config"`
	Depth               int      `json:"depth"`
	NBranches           int      `json:"n_branches"`
	AspectRatio         int      `json:"aspect_ratio"`
	OK                  bool     `json:"ok"`
	Error               string   `json:"error,omitempty"`
	NumIterations       int64    `json:"num_iterations,omitempty"`
	TokenBudget         int64    `json:"token_budget,omitempty"`
	Command             []string `json:"command,omitempty"`
	ResumeArtifactFound *bool    `json:"resume_artifact_found,omitempty"`
}

// PreflightReceipt is the machine-readable preflight result: every target's
// planned command, or the validation errors that block the sweep.
type PreflightReceipt struct {
	OK                  bool            `json:"ok"`
	IsFullGrid          bool            `json:"is_full_grid"`
	ResumeFromArtifacts bool            `json:"resume_from_artifacts"`
	Targets             []TargetReceipt `json:"targets"`
	Errors              []string        `json:"errors"`
}

// runPreflight validates every selected target's command construction
// without launching anything.
func runPreflight(opts Options, selected []indexedTarget, isFullGrid bool) PreflightReceipt {
	receipt := PreflightReceipt{
		OK:                  true,
		IsFullGrid:          isFullGrid,
		ResumeFromArtifacts: opts.ResumeFromArtifacts,
		Errors:              []string{},
	}
	for _, entry := range selected {
		tr := TargetReceipt{
			Index:       entry.index,
			Config:      entry.target.Label,
			Depth:       entry.target.Depth,
			NBranches:   entry.target.NBranches,
			AspectRatio: entry.target.AspectRatio,
		}
		command, numIterations, err := pilot.BuildCommand(entry.target, opts.Params.commandParams())
		if err != nil {
			tr.OK = false
			tr.Error = err.Error()
			receipt.OK = false
			receipt.Errors = append(receipt.Errors, fmt.Sprintf("%s: %s", entry.target.Label, err))
		} else {
			tr.OK = true
			tr.NumIterations = numIterations
			tr.TokenBudget = numIterations * opts.Params.TotalBatchSize
			tr.Command = command
		}
		if opts.ResumeFromArtifacts {
			_, metricsPath := runArtifactPaths(opts.ArtifactsDir, entry.index, entry.target.Label)
			_, statErr := os.Stat(metricsPath)
			found := statErr == nil
			tr.ResumeArtifactFound = &found
		}
		receipt.Targets = append(receipt.Targets, tr)
	}
	return receipt
}

// ManifestTarget is one planned run in the launch manifest.
type ManifestTarget struct {
	Index         int      `json:"index"`
	Config        string   `json:"config"`
	Depth         int      `json:"depth"`
	NBranches     int      `json:"n_branches"`
	AspectRatio   int      `json:"aspect_ratio"`
	NumIterations int64    `json:"num_iterations"`
	TokenBudget   int64    `json:"token_budget"`
	Command       []string `json:"command"`
	CommandShell  string   `json:"command_shell"`
	LogPath       string   `json:"log_path,omitempty"`
	MetricsPath   string   `json:"metrics_path,omitempty"`
}

// LaunchManifest describes a planned sweep so an operator (or scheduler)
// can launch the runs out of band and resume from the artifacts later.
type LaunchManifest struct {
	GeneratedAtUTC      string           `json:"generated_at_utc"`
	SweepID             string           `json:"sweep_id"`
	IsFullGrid          bool             `json:"is_full_grid"`
	ResumeFromArtifacts bool             `json:"resume_from_artifacts"`
	Preflight           bool             `json:"preflight"`
	DryRun              bool             `json:"dry_run"`
	ArtifactsDir        string           `json:"artifacts_dir"`
	Targets             []ManifestTarget `json:"targets"`
}

func buildLaunchManifest(opts Options, selected []indexedTarget, isFullGrid bool) (LaunchManifest, error) {
	manifest := LaunchManifest{
		GeneratedAtUTC:      nowUTC(),
		SweepID:             uuid.NewString(),
		IsFullGrid:          isFullGrid,
		ResumeFromArtifacts: opts.ResumeFromArtifacts,
		Preflight:           opts.Preflight,
		DryRun:              opts.DryRun,
		ArtifactsDir:        opts.ArtifactsDir,
	}
	for _, entry := range selected {
		command, numIterations, err := pilot.BuildCommand(entry.target, opts.Params.commandParams())
		if err != nil {
			return LaunchManifest{}, fmt.Errorf("%s: %w", entry.target.Label, err)
		}
		mt := ManifestTarget{
			Index:         entry.index,
			Config:        entry.target.Label,
			Depth:         entry.target.Depth,
			NBranches:     entry.target.NBranches,
			AspectRatio:   entry.target.AspectRatio,
			NumIterations: numIterations,
			TokenBudget:   numIterations * opts.Params.TotalBatchSize,
			Command:       command,
			CommandShell:  shellJoin(command),
		}
		if opts.ArtifactsDir != "" {
			mt.LogPath, mt.MetricsPath = runArtifactPaths(opts.ArtifactsDir, entry.index, entry.target.Label)
		}
		manifest.Targets = append(manifest.Targets, mt)
	}
	return manifest, nil
}

// renderLaunchScript emits a shell script that runs each selected target as
// its own single-target sweep invocation, then resumes the full grid to
// produce ranking artifacts.
func renderLaunchScript(opts Options, selected []indexedTarget) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated pilot sweep launch plan. Each target runs as an\n")
	b.WriteString("# independent invocation so a failed run can be retried alone.\n")
	b.WriteString("set -eu\n\n")
	for _, entry := range selected {
		args := []string{"branchbench", "sweep"}
		args = append(args, sweepParamArgs(opts.Params)...)
		args = append(args, "--artifacts-dir", opts.ArtifactsDir, "--target", entry.target.Label)
		b.WriteString(shellJoin(args))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	resume := []string{"branchbench", "sweep"}
	resume = append(resume, sweepParamArgs(opts.Params)...)
	resume = append(resume, "--artifacts-dir", opts.ArtifactsDir, "--resume-from-artifacts")
	resume = append(resume, defaultArtifactOutputArgs(opts.ArtifactsDir)...)
	b.WriteString(shellJoin(resume))
	b.WriteString("\n")
	return b.String()
}

func sweepParamArgs(p Params) []string {
	args := []string{
		"--total-batch-size", strconv.FormatInt(p.TotalBatchSize, 10),
		"--device-batch-size", strconv.Itoa(p.DeviceBatchSize),
		"--pilot-tokens", strconv.FormatInt(p.PilotTokens, 10),
		"--eval-every", strconv.Itoa(p.EvalEvery),
		"--eval-tokens", strconv.FormatInt(p.EvalTokens, 10),
		"--max-seq-len", strconv.Itoa(p.MaxSeqLen),
	}
	if p.DeviceType != "" {
		args = append(args, "--device-type", p.DeviceType)
	}
	return args
}

func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

var shellSafeRe = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

// shellJoin renders an argv for display or scripts, quoting arguments that
// need it. Execution always uses the argv form, never this string.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg != "" && shellSafeRe.MatchString(arg) {
			quoted[i] = arg
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
	}
	return strings.Join(quoted, " ")
}
