// Package cli implements the jvmscope command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/jvmscope/jvmscope/pkg/version"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "jvmscope",
		Short: "jvmscope - adaptive profiling analysis for JVM agents",
		Long: `jvmscope analyzes the thread dumps and call flows uploaded by JVM agents.

Each analysis cycle turns the newest window of samples into a flow summary,
decides which methods the agent should instrument next and how long its next
snapshot should last, and sends both decisions back as commands.

Two deployments share the same analysis:
- start:  samples are stored in DuckDB and analyzed on a schedule
- stream: samples arrive on Kafka and are analyzed from in-memory windows`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.addFlags(rootCmd)

	rootCmd.AddCommand(newStartCmd(opts))
	rootCmd.AddCommand(newStreamCmd(opts))
	rootCmd.AddCommand(newStepCmd(opts))
	rootCmd.AddCommand(newStateCmd(opts))
	rootCmd.AddCommand(newSummaryCmd(opts))
	rootCmd.AddCommand(newBlacklistCmd(opts))
	rootCmd.AddCommand(newCommandsCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("jvmscope version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
