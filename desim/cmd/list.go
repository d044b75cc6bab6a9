package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the examples that can be run.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, n := range exampleNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", n, examples[n].short)
			}
		},
	}
}
