// Package app provides the top-level application lifecycle: it wires
// dependencies, registers the fetch and signal jobs on the scheduler, starts
// the websocket consumer and the operational server, and blocks until
// shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polymercado/engine/internal/alerts"
	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/feed"
	"github.com/polymercado/engine/internal/pipeline"
	"github.com/polymercado/engine/internal/scheduler"
	"github.com/polymercado/engine/internal/server"
	"github.com/polymercado/engine/internal/signals"
)

// App is the root application object. It owns the configuration path, the
// logger, and the cleanup functions run in reverse order on shutdown.
type App struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	closers    []func()
}

// New creates a new App from the given configuration and logger.
func New(configPath string, cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts every long-lived task, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.configPath, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	cfg := deps.Runtime.Current()
	logger := a.logger

	// --- Pipeline jobs ---
	var mirror pipeline.BookMirror
	if deps.BookMirror != nil {
		mirror = deps.BookMirror
	}
	bookSyncer := pipeline.NewBookSyncer(deps.Clob, deps.Tracker, deps.BookCache, deps.Books, deps.Metrics, mirror, logger)

	var consumer *feed.Consumer
	if cfg.Websocket.Enabled {
		consumer = feed.NewConsumer(deps.Runtime, deps.Tracker, deps.BookCache, bookSyncer, logger)
	}

	var onUniverseChange func([]string)
	if consumer != nil {
		onUniverseChange = consumer.SetUniverse
	}

	gammaSyncer := pipeline.NewGammaSyncer(deps.Runtime, deps.Gamma, deps.Markets, deps.Metrics, deps.Signals, logger)
	tagSyncer := pipeline.NewTagSyncer(deps.Runtime, deps.Gamma, deps.Tags, logger)
	universeSyncer := pipeline.NewUniverseSyncer(deps.Runtime, deps.Metrics, deps.Markets, deps.Tracker, onUniverseChange, logger)
	oiSyncer := pipeline.NewOISyncer(deps.Data, deps.Tracker, deps.Metrics, logger)
	tradeSyncer := pipeline.NewTradeSyncer(deps.Runtime, deps.Data, deps.Trades, logger)
	positionSyncer := pipeline.NewPositionSyncer(deps.Runtime, deps.Data, deps.Wallets, logger)
	quality := pipeline.NewQualityChecker(deps.Runtime, deps.Tracker, deps.BookCache, logger)

	var cold pipeline.ColdStore
	if deps.ColdStore != nil {
		cold = deps.ColdStore
	}
	retention := pipeline.NewRetentionJob(deps.Runtime, deps.Metrics, deps.Trades, cold, logger)

	// --- Signal engines and alert dispatcher ---
	tradeEngine := signals.NewTradeEngine(deps.Runtime, deps.Trades, deps.Wallets, deps.Metrics, deps.Signals, deps.SignalBus, logger)
	arbEngine := signals.NewArbEngine(deps.Runtime, deps.Tracker, deps.BookCache, deps.Signals, deps.SignalBus, logger)
	dispatcher := alerts.NewDispatcher(deps.Runtime, deps.Signals, deps.AlertLog, deps.Senders, logger)

	// --- Scheduler ---
	sched := scheduler.New(deps.Jobs, logger)
	interval := func(seconds int) time.Duration { return time.Duration(seconds) * time.Second }

	sched.Add(scheduler.Job{Name: "sync_gamma_events", Interval: interval(cfg.Sync.GammaEventsIntervalSeconds), Run: gammaSyncer.Run, RunAtStart: true})
	sched.Add(scheduler.Job{Name: "sync_tag_metadata", Interval: interval(cfg.Sync.TagsIntervalSeconds), Run: tagSyncer.Run, RunAtStart: true})
	sched.Add(scheduler.Job{Name: "sync_universe", Interval: interval(cfg.Sync.UniverseIntervalSeconds), Run: universeSyncer.Run, RunAtStart: true})
	sched.Add(scheduler.Job{Name: "sync_open_interest", Interval: interval(cfg.Sync.OIIntervalSeconds), Run: oiSyncer.Run})
	sched.Add(scheduler.Job{Name: "sync_large_trades", Interval: interval(cfg.Sync.TradesIntervalSeconds), Run: tradeSyncer.Run})
	sched.Add(scheduler.Job{Name: "sync_positions", Interval: interval(cfg.Sync.PositionsIntervalSeconds), Run: positionSyncer.Run})
	sched.Add(scheduler.Job{Name: "run_signal_engine_trades", Interval: interval(cfg.Sync.SignalsIntervalSeconds), Run: tradeEngine.Run})
	sched.Add(scheduler.Job{Name: "run_signal_engine_arb", Interval: interval(cfg.Sync.SignalsIntervalSeconds), Run: arbEngine.Run})
	sched.Add(scheduler.Job{Name: "alert_dispatcher", Interval: interval(cfg.Sync.AlertsIntervalSeconds), Run: dispatcher.Run})
	sched.Add(scheduler.Job{Name: "run_data_quality_checks", Interval: interval(cfg.Sync.QualityIntervalSeconds), Run: quality.Run})
	sched.Add(scheduler.Job{Name: "retention", Interval: interval(cfg.Sync.RetentionIntervalSeconds), Run: retention.Run})

	// With the websocket live the consumer runs its own REST heal schedule,
	// so the poll job is registered only without it, as the primary book
	// source.
	booksInterval := interval(cfg.Sync.OrderbookSnapshotIntervalSeconds)
	if !cfg.Websocket.Enabled {
		booksInterval = interval(cfg.Sync.BooksIntervalSeconds)
	}
	if consumer == nil {
		sched.Add(scheduler.Job{Name: "sync_orderbooks", Interval: booksInterval, Run: bookSyncer.Run})
	}

	// --- Long-lived tasks ---
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(ctx) })
	}
	if cfg.Server.Enabled {
		srvDeps := server.Deps{
			Scheduler: sched,
			Pool:      deps.Pool,
			Quality:   quality,
			Signals:   deps.Signals,
			Alerts:    deps.AlertLog,
			Jobs:      deps.Jobs,
		}
		if consumer != nil {
			srvDeps.WS = wsStatus{consumer}
		}
		srv := server.New(cfg.Server.Port, srvDeps, logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	a.logger.InfoContext(ctx, "application started",
		slog.Bool("websocket", cfg.Websocket.Enabled),
		slog.Bool("alerts", cfg.Alerts.Enabled),
		slog.Bool("server", cfg.Server.Enabled),
	)

	err = g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return context.Canceled
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// wsStatus adapts the feed consumer to the server's status interface.
type wsStatus struct {
	consumer *feed.Consumer
}

func (w wsStatus) State() string          { return string(w.consumer.State()) }
func (w wsStatus) SubscriptionCount() int { return w.consumer.SubscriptionCount() }
