// A shared test server setup utility, which simplifies all API tests.

package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/vrsandeep/citefetch/internal/api"
	"github.com/vrsandeep/citefetch/internal/config"
	"github.com/vrsandeep/citefetch/internal/core"
	"github.com/vrsandeep/citefetch/internal/downloader"
	"github.com/vrsandeep/citefetch/internal/jobs"
	"github.com/vrsandeep/citefetch/internal/websocket"
)

// SetupTestApp builds a core.App on default configuration with its database
// and output directory under a per-test temp directory. Rate limiting,
// retry jitter and robots checks are off so tests run fast and offline.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()
	cfg, err := config.LoadFile("")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	dir := t.TempDir()
	cfg.Database.Path = filepath.Join(dir, "citefetch_test.db")
	cfg.Output.Dir = filepath.Join(dir, "downloads")
	cfg.RateLimit.DefaultDelay = 0
	cfg.Download.RetryJitterMax = 0
	cfg.Robots.Enabled = false

	app, err := core.NewWithConfig(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

// SetupTestServer initializes a full core.App, a run manager, a progress
// hub and an api.Server for integration testing.
func SetupTestServer(t *testing.T) (*api.Server, *core.App) {
	t.Helper()
	app := SetupTestApp(t)

	hub := websocket.NewHub(app.Log)
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	manager := jobs.NewManager(ctx, func(ctx context.Context, flag *downloader.InterruptFlag) (*downloader.Stats, error) {
		return app.RunQueue(ctx, flag, func(o *downloader.Options) {
			o.ProgressFunc = hub.BroadcastProgress
		})
	}, app.Log)
	t.Cleanup(func() {
		cancel()
		manager.Wait()
		hub.Close()
	})

	return api.NewServer(app, manager, hub), app
}
