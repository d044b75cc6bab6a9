// Package cmd provides the command-line interface for desim.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// NewRootCommand creates the desim command with all its subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "desim",
		Short: "desim runs discrete-event simulations of cooperative processes.",
		Long: `desim runs discrete-event simulations of cooperative processes. ` +
			`It ships a few example systems that can be run with a live ` +
			`monitor and with decision tracing.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newDecisionsCommand())

	return rootCmd
}

// Execute runs the command line and exits through atexit so that recorders
// registered there are flushed.
func Execute() {
	err := NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
