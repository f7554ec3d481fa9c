package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/citefetch/internal/models"
)

func newStatusCommand() *cobra.Command {
	var (
		list  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts, optionally listing items in one status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.QueueStatus(list)
			if list != "" && !status.Valid() {
				return fmt.Errorf("unknown status %q", list)
			}

			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			counts, err := app.Store.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			t := newTable(out)
			t.AppendHeader(table.Row{"Status", "Count"})
			total := 0
			for _, st := range models.AllQueueStatuses {
				t.AppendRow(table.Row{st, counts[st]})
				total += counts[st]
			}
			t.AppendFooter(table.Row{"total", total})
			t.Render()

			if list == "" {
				return nil
			}
			items, err := app.Store.ListByStatus(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			it := newTable(out)
			it.AppendHeader(table.Row{"ID", "Priority", "Retries", "URL", "Last error"})
			for _, item := range items {
				lastError := ""
				if item.LastError != nil {
					lastError = *item.LastError
				}
				it.AppendRow(table.Row{item.ID, item.Priority, item.RetryCount, item.URL, lastError})
			}
			it.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&list, "list", "", "list items with this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum items to list; 0 for all")
	return cmd
}
