// Package cmd implements the citefetch command-line interface.
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/citefetch/internal/core"
)

// cfgFile holds the path to the configuration file.
var cfgFile string

// Execute runs the root command.
func Execute() error {
	return newRootCommand().ExecuteContext(context.Background())
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "citefetch",
		Short:        "A durable download queue for academic papers",
		Long:         `citefetch resolves DOIs, arXiv ids and direct links to PDFs and downloads them politely.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yml)")

	rootCmd.AddCommand(newAddCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newRetryFailedCommand())
	rootCmd.AddCommand(newServeCommand())
	return rootCmd
}

// openApp builds the application from the --config flag.
func openApp() (*core.App, error) {
	app, err := core.New(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to set up citefetch: %w", err)
	}
	return app, nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	return t
}
