package sweep

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/pilot"
)

func renderRankingMarkdown(table, summary string) string {
	var b strings.Builder
	b.WriteString("## Pilot Sweep Ranking\n\n")
	b.WriteString(table)
	b.WriteString("\n\n## Finalists\n\n")
	b.WriteString(summary)
	b.WriteString("\n")
	return b.String()
}

// RenderFinalistsMarkdown renders the human-readable finalists note. The
// depth/branch flag section carries one exact flag string per finalist so
// Stage 2 launch commands can be copied verbatim.
func RenderFinalistsMarkdown(summary string, finalists []pilot.RankedRun) string {
	var b strings.Builder
	b.WriteString("## Stage 2 Finalists\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n## Stage 2 depth/branch flags\n\n")
	if len(finalists) == 0 {
		b.WriteString("(none)\n")
		return b.String()
	}
	for _, run := range finalists {
		b.WriteString(fmt.Sprintf("- `%s`: `%s`\n",
			run.Config, pilot.FlagString(run.Depth, run.NBranches, run.AspectRatio)))
	}
	return b.String()
}

func defaultArtifactOutputArgs(dir string) []string {
	return []string{
		"--output-json", joinDir(dir, artifact.RankedJSONName),
		"--output-md", joinDir(dir, artifact.RankingMDName),
		"--output-finalists-json", joinDir(dir, artifact.FinalistsJSONName),
		"--output-finalists-md", joinDir(dir, artifact.FinalistsMDName),
	}
}

func joinDir(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// renderRunbook emits the operator runbook: what the sweep writes where,
// and the exact commands for the initial run, the resume pass, and the
// promotion check-in.
func renderRunbook(opts Options, rankedJSON, rankingMD, finalistsJSON, finalistsMD string) string {
	initial := []string{"branchbench", "sweep"}
	initial = append(initial, sweepParamArgs(opts.Params)...)
	initial = append(initial, "--artifacts-dir", opts.ArtifactsDir)
	initial = append(initial,
		"--output-json", rankedJSON,
		"--output-md", rankingMD,
		"--output-finalists-json", finalistsJSON,
		"--output-finalists-md", finalistsMD,
	)

	resume := []string{"branchbench", "sweep"}
	resume = append(resume, sweepParamArgs(opts.Params)...)
	resume = append(resume, "--artifacts-dir", opts.ArtifactsDir, "--resume-from-artifacts")
	resume = append(resume,
		"--output-json", rankedJSON,
		"--output-md", rankingMD,
		"--output-finalists-json", finalistsJSON,
		"--output-finalists-md", finalistsMD,
	)

	checkIn := []string{"branchbench", "check-in", "--artifacts-dir", opts.ArtifactsDir}

	var b strings.Builder
	b.WriteString("## Pilot Sweep Runbook\n\n")
	b.WriteString("### Artifacts\n\n")
	b.WriteString(fmt.Sprintf("- per-run logs and metrics: `%s/NN-<config>.log` / `.json`\n", opts.ArtifactsDir))
	b.WriteString(fmt.Sprintf("- ranked runs: `%s`\n", rankedJSON))
	b.WriteString(fmt.Sprintf("- ranking table: `%s`\n", rankingMD))
	b.WriteString(fmt.Sprintf("- finalists: `%s`\n", finalistsJSON))
	b.WriteString(fmt.Sprintf("- finalists note: `%s`\n", finalistsMD))
	b.WriteString("\n### Initial run\n\n```sh\n")
	b.WriteString(shellJoin(initial))
	b.WriteString("\n```\n")
	b.WriteString("\n### Resume from artifacts\n\n```sh\n")
	b.WriteString(shellJoin(resume))
	b.WriteString("\n```\n")
	b.WriteString("\n### Promotion check-in\n\n```sh\n")
	b.WriteString(shellJoin(checkIn))
	b.WriteString("\n```\n")
	return b.String()
}

// writeBlockedMarkdown records why a sweep could not proceed, with enough
// context to reproduce the invocation.
func writeBlockedMarkdown(opts Options, mode, reason string) error {
	commandJSON, err := json.Marshal(opts.CommandLine)
	if err != nil {
		return err
	}
	deviceType := opts.Params.DeviceType
	if deviceType == "" {
		deviceType = "<auto>"
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = "<none>"
	}
	preflightJSON := opts.OutputPreflightJSON
	if preflightJSON == "" {
		preflightJSON = "<none>"
	}

	var b strings.Builder
	b.WriteString("# Pilot Sweep Blocked\n\n")
	b.WriteString("## Receipt\n\n")
	b.WriteString(fmt.Sprintf("- generated_at_utc: `%s`\n", nowUTC()))
	b.WriteString(fmt.Sprintf("- mode: `%s`\n", mode))
	b.WriteString(fmt.Sprintf("- preflight: `%t`\n", opts.Preflight))
	b.WriteString(fmt.Sprintf("- dry_run: `%t`\n", opts.DryRun))
	b.WriteString(fmt.Sprintf("- device_type: `%s`\n", deviceType))
	b.WriteString(fmt.Sprintf("- artifacts_dir: `%s`\n", artifactsDir))
	b.WriteString(fmt.Sprintf("- output_preflight_json: `%s`\n", preflightJSON))
	b.WriteString(fmt.Sprintf("- command: `%s`\n", commandJSON))
	b.WriteString("\n## Blocker\n\n```text\n")
	b.WriteString(reason)
	b.WriteString("\n```\n")
	return artifact.WriteText(opts.OutputBlockedMD, b.String())
}
