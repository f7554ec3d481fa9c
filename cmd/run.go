package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/downloader"
)

func newRunCommand() *cobra.Command {
	var (
		concurrency int
		abandon     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download everything pending in the queue",
		Long: `Drains the queue once. The first Ctrl-C stops claiming new items and lets
in-flight downloads finish; a second Ctrl-C aborts them and returns their
items to the queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			interrupted := downloader.NewInterruptFlag()

			sigs := make(chan os.Signal, 2)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go watchSignals(ctx, sigs, interrupted, cancel, app.Log)

			recovered, err := app.RecoverQueue(ctx)
			if err != nil {
				return fmt.Errorf("recover queue: %w", err)
			}
			if recovered > 0 {
				app.Log.Info("Returned orphaned claims to the queue", zap.Int64("count", recovered))
			}

			stats, err := app.RunQueue(ctx, interrupted, func(o *downloader.Options) {
				if cmd.Flags().Changed("concurrency") {
					o.Concurrency = concurrency
				}
				o.AbandonRetriesOnInterrupt = abandon
			})
			if stats != nil {
				printStats(cmd.OutOrStdout(), stats)
			}
			if errors.Is(err, context.Canceled) {
				return errors.New("run aborted")
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "parallel downloads (default from config)")
	cmd.Flags().BoolVar(&abandon, "abandon-retries", false, "on the first Ctrl-C, give up on items waiting to retry")
	return cmd
}

// watchSignals sets the interrupt flag on the first signal and cancels the
// run on the second.
func watchSignals(ctx context.Context, sigs <-chan os.Signal, flag *downloader.InterruptFlag, cancel context.CancelFunc, log *zap.Logger) {
	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			count++
			if count == 1 {
				log.Warn("Interrupt received; finishing in-flight downloads. Press Ctrl-C again to abort.",
					zap.String("signal", sig.String()))
				flag.Set()
				continue
			}
			log.Warn("Second interrupt received; aborting", zap.String("signal", sig.String()))
			cancel()
			return
		}
	}
}

func printStats(out io.Writer, stats *downloader.Stats) {
	fmt.Fprintf(out, "run %s: %d completed, %d failed, %d released",
		stats.RunID, stats.Completed(), stats.Failed(), stats.Released())
	if stats.Interrupted() {
		fmt.Fprint(out, " (interrupted)")
	}
	fmt.Fprintln(out)
}
