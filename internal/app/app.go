// Package app wires storage, the pipeline store, notification observers, the
// proposal manager and the action engine for one workspace.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"dealflow/internal/config"
	"dealflow/internal/db"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
	"dealflow/internal/events"
	"dealflow/internal/migrate"
	"dealflow/internal/notify"
	"dealflow/internal/pipeline"
	"dealflow/internal/proposal"
	"dealflow/internal/repo"
)

type App struct {
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
	Engine engine.Engine
	Logger *slog.Logger

	cancel  context.CancelFunc
	closers []func() error
}

// Build opens the workspace database, loads (or seeds) the pipeline and starts
// the background sync and proposal sweep. Close stops them and drains the sink.
func Build(ctx context.Context, cfg *config.Config, workspace string, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	dbCfg := db.Config{Workspace: workspace, Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	dialect := dbCfg.Dialect()
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn, Dialect: dialect}

	var seed []domain.Deal
	if cfg.Pipeline.Seed == "sample" {
		seed = domain.SampleDeals(time.Now())
	}
	store, err := pipeline.Open(ctx, pipeline.Options{
		Key:       cfg.Pipeline.Key,
		Persister: repo.PipelinePersister{Repo: r},
		Seed:      seed,
		Logger:    logger,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	a := &App{Config: cfg, DB: conn, Repo: r, Logger: logger}

	sink := notify.New(notify.Options{
		Display: cfg.Notifications.Display,
		Buffer:  cfg.Notifications.Buffer,
		Logger:  logger,
	})
	sink.Attach("log", notify.LogObserver{Logger: logger})
	sink.Attach("events", events.Writer{DB: conn, Dialect: dialect})
	if amqpCfg := cfg.Notifications.AMQP; amqpCfg.URL != "" {
		pub, err := notify.DialAMQP(amqpCfg.URL, amqpCfg.Exchange)
		if err != nil {
			// the board works without the broker
			logger.Warn("amqp observer disabled", "err", err)
		} else {
			sink.Attach("amqp", pub)
			a.closers = append(a.closers, pub.Close)
		}
	}
	if cfg.Notifications.Mail.Host != "" {
		sink.Attach("mail", notify.NewMailer(cfg.Notifications.Mail))
	}

	mgr, err := proposal.NewManager(proposal.Options{
		TTL:     cfg.Proposals.TTL,
		History: cfg.Proposals.History,
		Logger:  logger,
	})
	if err != nil {
		sink.Close()
		conn.Close()
		return nil, err
	}
	a.Engine = engine.New(store, sink, mgr, cfg)
	a.Engine.Logger = logger
	mgr.Bind(a.Engine)

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if cfg.Pipeline.SyncInterval > 0 {
		go store.Watch(runCtx, cfg.Pipeline.SyncInterval)
	}
	if cfg.Proposals.SweepInterval > 0 {
		go mgr.Run(runCtx, cfg.Proposals.SweepInterval)
	}
	return a, nil
}

// Close stops background work, delivers queued notifications and closes storage.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Engine.Sink != nil {
		a.Engine.Sink.Close()
	}
	var firstErr error
	for _, c := range a.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.DB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
