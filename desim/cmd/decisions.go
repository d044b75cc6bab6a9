package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/desim/datarecording"
	"github.com/sarchlab/desim/tracing"
)

func newDecisionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decisions <sqlite-file>",
		Short: "Print a decision log recorded with --trace-db.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := datarecording.NewReader(args[0])
			if err != nil {
				return err
			}

			decisions, err := tracing.ReadDecisions(cmd.Context(), reader)
			if err != nil {
				return err
			}

			for _, d := range decisions {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}

			return nil
		},
	}
}
