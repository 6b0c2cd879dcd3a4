package cmd

import (
	"github.com/spf13/cobra"

	"github.com/branchbench/branchbench/cmd/cli/format"
)

var outputFormat string

// RootCmd is the top-level CLI command.
var RootCmd = &cobra.Command{
	Use:   "branchbench",
	Short: "Pilot sweeps and promotion checks for branching transformer configs",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, csv")
}

func getFormat() format.OutputFormat {
	switch outputFormat {
	case "json":
		return format.FormatJSON
	case "csv":
		return format.FormatCSV
	default:
		return format.FormatTable
	}
}
