package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryFailedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Return every failed item to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Store.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d failed items requeued\n", n)
			return nil
		},
	}
}
