package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/util"
)

func newHistoryCommand() *cobra.Command {
	var (
		status  string
		project string
		since   string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent download attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.AttemptFilter{
				Status:  models.AttemptStatus(status),
				Project: project,
				Limit:   limit,
			}
			if since != "" {
				t, err := util.ParseSince(since, time.Now())
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				filter.Since = &t
			}

			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			records, err := app.Store.QueryDownloadAttempts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Started", "Status", "Retries", "URL", "File / Error"})
			for _, rec := range records {
				detail := rec.FilePath
				if rec.Status != models.AttemptSuccess {
					detail = fmt.Sprintf("%s: %s", rec.ErrorType, rec.ErrorMessage)
				}
				t.AppendRow(table.Row{
					rec.StartedAt.Local().Format(time.DateTime),
					rec.Status,
					rec.RetryCount,
					rec.URL,
					detail,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only attempts with this status (success, failed, skipped)")
	cmd.Flags().StringVar(&project, "project", "", "only attempts tagged with this project")
	cmd.Flags().StringVar(&since, "since", "", "only attempts after this time or within this duration (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows; 0 for all")
	return cmd
}
