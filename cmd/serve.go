package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/api"
	"github.com/vrsandeep/citefetch/internal/downloader"
	"github.com/vrsandeep/citefetch/internal/jobs"
	"github.com/vrsandeep/citefetch/internal/websocket"
)

func newServeCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and drain the queue on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()
			log := app.Log
			if cmd.Flags().Changed("port") {
				app.Config.Server.Port = port
			}

			runCtx, cancelRuns := context.WithCancel(cmd.Context())
			defer cancelRuns()

			if n, err := app.RecoverQueue(runCtx); err != nil {
				return fmt.Errorf("recover queue: %w", err)
			} else if n > 0 {
				log.Info("Returned orphaned claims to the queue", zap.Int64("count", n))
			}

			hub := websocket.NewHub(log.Named("websocket"))
			go hub.Run()
			defer hub.Close()

			manager := jobs.NewManager(runCtx, func(ctx context.Context, flag *downloader.InterruptFlag) (*downloader.Stats, error) {
				return app.RunQueue(ctx, flag, func(o *downloader.Options) {
					o.ProgressFunc = hub.BroadcastProgress
				})
			}, log.Named("jobs"))

			scheduler, err := jobs.Start(manager, app.Config.Schedule.Interval, log.Named("scheduler"))
			if err != nil {
				return err
			}
			if scheduler != nil {
				defer scheduler.Stop()
			}

			server := api.NewServer(app, manager, hub)
			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", app.Config.Server.Port),
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			// Start the server in a goroutine so it doesn't block.
			serveErr := make(chan error, 1)
			go func() {
				log.Info("Starting web server", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			// Wait for an interrupt signal.
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)
			select {
			case sig := <-quit:
				log.Info("Shutting down server...", zap.String("signal", sig.String()))
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("could not start server: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				log.Warn("Server forced to shutdown", zap.Error(err))
			}

			// Let in-flight downloads finish unless a second signal arrives.
			if manager.Interrupt() {
				log.Info("Waiting for in-flight downloads. Press Ctrl-C again to abort.")
				done := make(chan struct{})
				go func() {
					manager.Wait()
					close(done)
				}()
				select {
				case <-done:
				case <-quit:
					cancelRuns()
					manager.Wait()
				}
			}

			log.Info("Server exiting.")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
