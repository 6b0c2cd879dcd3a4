// Package bench runs the post-promotion throughput benchmark over the
// fixed baseline/middle/extreme trio. Unlike the pilot sweep, every run
// must succeed: a benchmark with a failed leg has no comparative value.
package bench

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/branchbench/branchbench/internal/artifact"
	"github.com/branchbench/branchbench/internal/pilot"
	"github.com/branchbench/branchbench/internal/runner"
	"github.com/branchbench/branchbench/internal/trainlog"
)

// Options configures one benchmark invocation.
type Options struct {
	PythonExe       string
	MaxSeqLen       int
	TotalBatchSize  int64
	DeviceBatchSize int
	NumIterations   int
	DeviceType      string
	ExtraArgs       []string

	OutputJSON string
	OutputMD   string
}

// Result is one benchmark leg.
type Result struct {
	Config      string `json:"config"`
	Depth       int    `json:"depth"`
	NBranches   int    `json:"n_branches"`
	AspectRatio int    `json:"aspect_ratio"`
	trainlog.ThroughputMetrics
}

// Payload is the persisted benchmark document.
type Payload struct {
	MaxSeqLen       int      `json:"max_seq_len"`
	TotalBatchSize  int64    `json:"total_batch_size"`
	DeviceBatchSize int      `json:"device_batch_size"`
	NumIterations   int      `json:"num_iterations"`
	Runs            []Result `json:"runs"`
}

// Driver runs benchmarks. RunBenchmark is swappable for tests.
type Driver struct {
	RunBenchmark func(ctx context.Context, command []string) (string, trainlog.ThroughputMetrics, error)
	Stdout       io.Writer
}

// New returns a Driver wired to the real subprocess runner.
func New() *Driver {
	return &Driver{RunBenchmark: runner.RunBenchmark, Stdout: os.Stdout}
}

// Run benchmarks the trio sequentially and writes the requested artifacts.
// The first failed leg aborts the whole benchmark.
func (d *Driver) Run(ctx context.Context, opts Options) error {
	if opts.TotalBatchSize <= 0 {
		return fmt.Errorf("total_batch_size must be > 0")
	}
	if opts.NumIterations <= 0 {
		return fmt.Errorf("num_iterations must be > 0")
	}

	params := pilot.BenchCommandParams{
		PythonExe:       opts.PythonExe,
		MaxSeqLen:       opts.MaxSeqLen,
		TotalBatchSize:  opts.TotalBatchSize,
		DeviceBatchSize: opts.DeviceBatchSize,
		NumIterations:   int64(opts.NumIterations),
		DeviceType:      opts.DeviceType,
		ExtraArgs:       opts.ExtraArgs,
	}

	var results []Result
	for _, target := range pilot.DefaultBenchTargets {
		command := pilot.BuildBenchCommand(target, params)
		log.Printf("[%s] launching benchmark run (%d iterations)", target.Label, opts.NumIterations)
		_, metrics, err := d.RunBenchmark(ctx, command)
		if err != nil {
			return fmt.Errorf("%s: %w", target.Label, err)
		}
		results = append(results, Result{
			Config:            target.Label,
			Depth:             target.Depth,
			NBranches:         target.NBranches,
			AspectRatio:       target.AspectRatio,
			ThroughputMetrics: metrics,
		})
	}

	table := FormatTable(results)
	fmt.Fprintln(d.Stdout, table)

	if opts.OutputJSON != "" {
		payload := Payload{
			MaxSeqLen:       opts.MaxSeqLen,
			TotalBatchSize:  opts.TotalBatchSize,
			DeviceBatchSize: opts.DeviceBatchSize,
			NumIterations:   opts.NumIterations,
			Runs:            results,
		}
		if err := artifact.WriteJSON(opts.OutputJSON, payload); err != nil {
			return err
		}
	}
	if opts.OutputMD != "" {
		md := "## Branching Throughput Benchmark\n\n" + table + "\n"
		if err := artifact.WriteText(opts.OutputMD, md); err != nil {
			return err
		}
	}
	return nil
}

// FormatTable renders the benchmark comparison as a markdown table with
// the baseline pinned as the reference row.
func FormatTable(results []Result) string {
	var baselineTok float64
	for _, r := range results {
		if r.Config == pilot.BaselineConfig {
			baselineTok = r.SelectedTokPerSec
		}
	}

	var b strings.Builder
	b.WriteString("| Config | tok/sec | vs " + pilot.BaselineConfig + " | MFU | Peak mem (MiB) |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range results {
		vs := "n/a"
		if baselineTok > 0 {
			vs = pilot.FormatRatio(100 * (r.SelectedTokPerSec/baselineTok - 1))
		}
		mfu := "-"
		if r.FinalMFU != nil {
			mfu = fmt.Sprintf("%.2f", *r.FinalMFU)
		}
		mem := "-"
		if r.PeakMemoryMiB != nil {
			mem = fmt.Sprintf("%.0f", *r.PeakMemoryMiB)
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			r.Config, humanize.Comma(int64(r.SelectedTokPerSec)), vs, mfu, mem))
	}
	return strings.TrimRight(b.String(), "\n")
}
