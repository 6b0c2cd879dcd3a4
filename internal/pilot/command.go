package pilot

import (
	"fmt"
	"strconv"
)

// Bounds on the in-training validation cadence. Pilot ranking compares
// validation checkpoints across configs with different iteration counts,
// which only stays fair when the cadence sits inside this window.
const (
	MinRecommendedEvalEvery = 50
	MaxRecommendedEvalEvery = 100
)

// CommandParams are the sweep-wide training parameters shared by every pilot
// target.
type CommandParams struct {
	PythonExe       string
	MaxSeqLen       int
	TotalBatchSize  int64
	DeviceBatchSize int
	PilotTokens     int64
	EvalEvery       int
	EvalTokens      int64
	DeviceType      string
	ExtraArgs       []string
}

// BuildCommand constructs the exact training argv for one pilot target and
// returns it with the derived iteration count. All validation happens up
// front; no partial command is ever returned.
func BuildCommand(target Target, p CommandParams) ([]string, int64, error) {
	if p.TotalBatchSize <= 0 {
		return nil, 0, fmt.Errorf("total_batch_size must be > 0")
	}
	if p.PilotTokens < p.TotalBatchSize {
		return nil, 0, fmt.Errorf("pilot_tokens must be >= total_batch_size")
	}
	if p.EvalEvery <= 0 {
		return nil, 0, fmt.Errorf("eval_every must be > 0")
	}
	if p.EvalEvery < MinRecommendedEvalEvery || p.EvalEvery > MaxRecommendedEvalEvery {
		return nil, 0, fmt.Errorf(
			"eval_every must be between %d and %d to keep pilot ranking comparable",
			MinRecommendedEvalEvery, MaxRecommendedEvalEvery)
	}
	if p.EvalTokens <= 0 {
		return nil, 0, fmt.Errorf("eval_tokens must be > 0")
	}

	numIterations := p.PilotTokens / p.TotalBatchSize
	if numIterations < int64(p.EvalEvery) {
		return nil, 0, fmt.Errorf(
			"pilot_tokens budget is too small for eval_every; need at least one in-training validation point")
	}

	command := trainArgv(target, p.PythonExe, trainArgvParams{
		maxSeqLen:       p.MaxSeqLen,
		totalBatchSize:  p.TotalBatchSize,
		deviceBatchSize: p.DeviceBatchSize,
		numIterations:   numIterations,
		evalEvery:       int64(p.EvalEvery),
		evalTokens:      p.EvalTokens,
		modelTag:        fmt.Sprintf("pilot_d%db%d", target.Depth, target.NBranches),
		deviceType:      p.DeviceType,
		extraArgs:       p.ExtraArgs,
	})
	return command, numIterations, nil
}

// BenchCommandParams are the parameters for the fixed-shape throughput
// benchmark, which takes an explicit iteration count and runs without
// in-training evaluation.
type BenchCommandParams struct {
	PythonExe       string
	MaxSeqLen       int
	TotalBatchSize  int64
	DeviceBatchSize int
	NumIterations   int64
	DeviceType      string
	ExtraArgs       []string
}

// BuildBenchCommand constructs the training argv for one throughput
// benchmark target.
func BuildBenchCommand(target Target, p BenchCommandParams) []string {
	return trainArgv(target, p.PythonExe, trainArgvParams{
		maxSeqLen:       p.MaxSeqLen,
		totalBatchSize:  p.TotalBatchSize,
		deviceBatchSize: p.DeviceBatchSize,
		numIterations:   p.NumIterations,
		evalEvery:       -1,
		evalTokens:      0,
		modelTag:        fmt.Sprintf("throughput_d%db%d", target.Depth, target.NBranches),
		deviceType:      p.DeviceType,
		extraArgs:       p.ExtraArgs,
	})
}

type trainArgvParams struct {
	maxSeqLen       int
	totalBatchSize  int64
	deviceBatchSize int
	numIterations   int64
	evalEvery       int64
	evalTokens      int64
	modelTag        string
	deviceType      string
	extraArgs       []string
}

func trainArgv(target Target, pythonExe string, p trainArgvParams) []string {
	command := []string{
		pythonExe,
		"-m",
		"scripts.base_train",
		"--run", "dummy",
		"--depth", strconv.Itoa(target.Depth),
		"--n-branches", strconv.Itoa(target.NBranches),
		"--aspect-ratio", strconv.Itoa(target.AspectRatio),
		"--max-seq-len", strconv.Itoa(p.maxSeqLen),
		"--total-batch-size", strconv.FormatInt(p.totalBatchSize, 10),
		"--device-batch-size", strconv.Itoa(p.deviceBatchSize),
		"--num-iterations", strconv.FormatInt(p.numIterations, 10),
		"--target-param-data-ratio", "-1",
		"--eval-every", strconv.FormatInt(p.evalEvery, 10),
	}
	if p.evalTokens > 0 {
		command = append(command, "--eval-tokens", strconv.FormatInt(p.evalTokens, 10))
	}
	command = append(command,
		"--core-metric-every", "-1",
		"--sample-every", "-1",
		"--save-every", "-1",
		"--model-tag", p.modelTag,
		"--window-pattern", "L",
	)
	if p.deviceType != "" {
		command = append(command, "--device-type", p.deviceType)
	}
	command = append(command, p.extraArgs...)
	return command
}
