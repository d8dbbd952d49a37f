package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/execution-tracer/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of execution-tracer.",
	Long:  `Prints the version of execution-tracer.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Full())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
