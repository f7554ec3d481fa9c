package core

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/vrsandeep/citefetch/internal/assets"
	"github.com/vrsandeep/citefetch/internal/config"
	"github.com/vrsandeep/citefetch/internal/db"
	"github.com/vrsandeep/citefetch/internal/downloader"
	"github.com/vrsandeep/citefetch/internal/fetcher"
	"github.com/vrsandeep/citefetch/internal/intake"
	"github.com/vrsandeep/citefetch/internal/logger"
	"github.com/vrsandeep/citefetch/internal/ratelimit"
	"github.com/vrsandeep/citefetch/internal/resolver"
	"github.com/vrsandeep/citefetch/internal/resolver/arxiv"
	"github.com/vrsandeep/citefetch/internal/resolver/direct"
	"github.com/vrsandeep/citefetch/internal/resolver/doi"
	"github.com/vrsandeep/citefetch/internal/retry"
	"github.com/vrsandeep/citefetch/internal/store"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Log      *zap.Logger
	Store    *store.Store
	Client   *fetcher.HTTPClient
	Registry *resolver.Registry
	Limiter  *ratelimit.Limiter
	Robots   fetcher.RobotsAllower
}

// New sets up and returns a new App instance. It handles loading the
// configuration, building the logger, initializing the database connection,
// and running migrations. An empty configPath looks for ./config.yml.
func New(configPath string) (*App, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return NewWithConfig(cfg, log)
}

// NewWithConfig builds an App from an already loaded configuration.
func NewWithConfig(cfg *config.Config, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database, assets.MigrationsFS, log); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	jar, err := fetcher.NewCookieJar()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if cfg.Download.CookieFile != "" {
		n, err := fetcher.LoadCookieFile(jar, cfg.Download.CookieFile)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to load cookies: %w", err)
		}
		log.Info("Loaded cookies", zap.String("file", cfg.Download.CookieFile), zap.Int("count", n))
	}

	client := fetcher.NewHTTPClient(fetcher.Options{
		Timeout:   cfg.Download.Timeout,
		UserAgent: cfg.Download.UserAgent,
		Jar:       jar,
	}, log.Named("fetcher"))

	var robots fetcher.RobotsAllower = fetcher.AllowAll{}
	if cfg.Robots.Enabled {
		robots = fetcher.NewRobotsChecker(client.HTTP(), client.UserAgent(), cfg.Robots.CacheTTL, log.Named("robots"))
	}

	registry := resolver.NewRegistry(
		arxiv.New(),
		doi.New(client, log.Named("doi")),
		direct.New(),
	)

	log.Info("Core application setup complete.", zap.String("database", cfg.Database.Path))
	return &App{
		Config:   cfg,
		DB:       database,
		Log:      log,
		Store:    store.New(database, store.WithLogger(log.Named("store"))),
		Client:   client,
		Registry: registry,
		Limiter:  ratelimit.New(cfg.RateLimit.DefaultDelay, cfg.RateLimit.JitterMax, log.Named("ratelimit")),
		Robots:   robots,
	}, nil
}

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	_ = a.Log.Sync()
}

// RecoverQueue returns claims orphaned by a crashed process to pending. Call
// it once at startup of a process that will drain the queue.
func (a *App) RecoverQueue(ctx context.Context) (int64, error) {
	return a.Store.ResetInProgress(ctx)
}

// RetryPolicy builds the retry policy from configuration.
func (a *App) RetryPolicy() retry.Policy {
	d := a.Config.Download
	return retry.Policy{
		MaxAttempts:       d.MaxAttempts,
		BaseDelay:         d.RetryBaseDelay,
		MaxDelay:          d.RetryMaxDelay,
		BackoffMultiplier: d.BackoffMultiplier,
		JitterMax:         d.RetryJitterMax,
	}
}

// EngineOptions maps configuration onto downloader options.
func (a *App) EngineOptions() downloader.Options {
	opts := downloader.Options{
		Concurrency: a.Config.Download.Concurrency,
		Policy:      a.RetryPolicy(),
		Limiter:     a.Limiter,
		Robots:      a.Robots,
		History:     a.Config.History.Enabled,
		Project:     a.Config.Download.Project,
		Logger:      a.Log.Named("downloader"),
	}
	if a.Config.Sidecar.Enabled {
		opts.Sidecar = downloader.JSONSidecar{}
	}
	return opts
}

// Intake returns a service that resolves inputs and enqueues them.
func (a *App) Intake() *intake.Service {
	return intake.New(a.Registry, a.Store, intake.Options{
		History: a.Config.History.Enabled,
		Project: a.Config.Download.Project,
		Logger:  a.Log.Named("intake"),
	})
}

// RunQueue drains the queue once into the configured output directory.
// extra is applied on top of EngineOptions.
func (a *App) RunQueue(ctx context.Context, interrupted *downloader.InterruptFlag, extra func(*downloader.Options)) (*downloader.Stats, error) {
	opts := a.EngineOptions()
	if extra != nil {
		extra(&opts)
	}
	engine, err := downloader.NewEngine(a.Store, a.Client, opts)
	if err != nil {
		return nil, err
	}
	return engine.ProcessQueue(ctx, a.Config.Output.Dir, interrupted)
}
