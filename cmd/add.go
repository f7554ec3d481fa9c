package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/citefetch/internal/intake"
)

func newAddCommand() *cobra.Command {
	var (
		file     string
		priority int
	)
	cmd := &cobra.Command{
		Use:   "add [inputs...]",
		Short: "Resolve DOIs, arXiv ids or URLs and add them to the queue",
		Long: `Each input is handed to the first resolver that accepts it. Inputs that
cannot be resolved are recorded as skipped. Use --file - to read stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := append([]string{}, args...)
			if file != "" {
				fromFile, err := readInputFile(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				inputs = append(inputs, fromFile...)
			}
			if len(inputs) == 0 {
				return errors.New("nothing to add: pass inputs as arguments or with --file")
			}

			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			results, err := app.Intake().Add(cmd.Context(), inputs, priority)
			printAddResults(cmd.OutOrStdout(), results)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read inputs from a file, one per line")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "queue priority; higher runs first")
	return cmd
}

func readInputFile(path string, stdin io.Reader) ([]string, error) {
	if path == "-" {
		return intake.ReadInputs(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()
	return intake.ReadInputs(f)
}

func printAddResults(out io.Writer, results []intake.Result) {
	if len(results) == 0 {
		return
	}
	t := newTable(out)
	t.AppendHeader(table.Row{"Input", "Outcome", "ID", "Resolver", "Detail"})
	counts := map[intake.Outcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
		detail := r.URL
		if r.Outcome == intake.Skipped {
			detail = r.Error
		}
		t.AppendRow(table.Row{r.Input, r.Outcome, r.QueueID, r.Resolver, detail})
	}
	t.Render()
	fmt.Fprintf(out, "%d queued, %d already queued, %d skipped\n",
		counts[intake.Queued], counts[intake.Duplicate], counts[intake.Skipped])
}
