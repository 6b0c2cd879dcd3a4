package cmd

import (
	"github.com/spf13/cobra"

	"github.com/branchbench/branchbench/internal/bench"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark raw throughput for the baseline/middle/extreme trio",
	Long: `Run fixed-iteration throughput benchmarks for 12x1, 2x5 and 1x10 and
print the comparison table. Every run must succeed.

Example:
  branchbench bench --total-batch-size 524288 --device-batch-size 32 --num-iterations 60`,
	RunE: runBench,
}

var (
	benchPythonExe   string
	benchMaxSeqLen   int
	benchTotalBatch  int64
	benchDeviceBatch int
	benchIterations  int
	benchDeviceType  string
	benchExtraArgs   []string
	benchOutputJSON  string
	benchOutputMD    string
)

func init() {
	benchCmd.Flags().StringVar(&benchPythonExe, "python-exe", "python3", "Python interpreter for the trainer")
	benchCmd.Flags().IntVar(&benchMaxSeqLen, "max-seq-len", 2048, "Max sequence length")
	benchCmd.Flags().Int64Var(&benchTotalBatch, "total-batch-size", 0, "Total batch size in tokens (required)")
	benchCmd.Flags().IntVar(&benchDeviceBatch, "device-batch-size", 0, "Per-device batch size (required)")
	benchCmd.Flags().IntVar(&benchIterations, "num-iterations", 50, "Training iterations per benchmark run")
	benchCmd.Flags().StringVar(&benchDeviceType, "device-type", "", "Device type forwarded to the trainer")
	benchCmd.Flags().StringSliceVar(&benchExtraArgs, "extra-arg", nil, "Extra trainer argument (repeatable)")
	benchCmd.Flags().StringVar(&benchOutputJSON, "output-json", "", "Path for the benchmark JSON artifact")
	benchCmd.Flags().StringVar(&benchOutputMD, "output-md", "", "Path for the benchmark markdown artifact")
	RootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	driver := bench.New()
	return driver.Run(cmd.Context(), bench.Options{
		PythonExe:       benchPythonExe,
		MaxSeqLen:       benchMaxSeqLen,
		TotalBatchSize:  benchTotalBatch,
		DeviceBatchSize: benchDeviceBatch,
		NumIterations:   benchIterations,
		DeviceType:      benchDeviceType,
		ExtraArgs:       benchExtraArgs,
		OutputJSON:      benchOutputJSON,
		OutputMD:        benchOutputMD,
	})
}
