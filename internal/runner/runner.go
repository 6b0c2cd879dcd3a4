// Package runner executes training subprocesses and maps their outcomes onto
// the sweep's stability model. Execution is strictly sequential: each call
// blocks until the child process exits, and no timeout is enforced here.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/branchbench/branchbench/internal/trainlog"
)

// failureTailLines bounds how much captured output a strict benchmark
// failure carries in its error.
const failureTailLines = 60

// PilotResult is the summarized outcome of one pilot training invocation.
// A nonzero exit never surfaces as an error; it is recorded here instead.
type PilotResult struct {
	trainlog.PilotMetrics
	CommandFailed     bool `json:"command_failed"`
	FailureReturncode *int `json:"failure_returncode"`
}

func capture(ctx context.Context, command []string) (string, int) {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	output := stdout.String() + stderr.String()
	if err == nil {
		return output, 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return output, exitErr.ExitCode()
	}
	// Start failure (missing executable and the like); there is no exit
	// code to report, so reserve -1.
	return output + err.Error(), -1
}

// RunPilot runs one pilot training command to completion, capturing stdout
// then stderr, and summarizes the output. A failed or unparseable run is
// marked unstable rather than aborting the sweep.
func RunPilot(ctx context.Context, command []string) (string, PilotResult) {
	output, code := capture(ctx, command)
	result := PilotResult{PilotMetrics: trainlog.SummarizePilotOutput(output)}
	if code != 0 {
		result.Unstable = true
		result.CommandFailed = true
		result.FailureReturncode = &code
	}
	return output, result
}

// RunBenchmark is the strict variant used for pure-throughput benchmarking:
// a nonzero exit or a throughput parse failure aborts the whole benchmark.
// The error carries the tail of the captured output for diagnosis.
func RunBenchmark(ctx context.Context, command []string) (string, trainlog.ThroughputMetrics, error) {
	output, code := capture(ctx, command)
	if code != 0 {
		return output, trainlog.ThroughputMetrics{}, fmt.Errorf(
			"benchmark command failed (%d): %s\n%s",
			code, strings.Join(command, " "), outputTail(output, failureTailLines))
	}
	metrics, err := trainlog.ParseTrainOutput(output)
	if err != nil {
		return output, trainlog.ThroughputMetrics{}, err
	}
	return output, metrics, nil
}

func outputTail(output string, n int) string {
	lines := strings.Split(output, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
