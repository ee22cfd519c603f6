package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/juror/internal/backend"
	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/scheduler"
	"github.com/mtzanidakis/juror/internal/store"
	"github.com/mtzanidakis/juror/internal/telegram"
	"github.com/mtzanidakis/juror/internal/web"
)

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting juror", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	if n, err := db.FailStaleRuns(); err != nil {
		slog.Warn("fail stale runs", "error", err)
	} else if n > 0 {
		slog.Warn("marked interrupted runs as failed", "count", n)
	}

	// NATS
	client, closeBus, err := connectBus(cfg.NATS)
	if err != nil {
		return err
	}
	defer closeBus()

	kr, err := openKeyring(cfg.Vault, db)
	if err != nil {
		return err
	}
	deps := backendDeps(client, kr)

	// Telegram bot
	var bot *telegram.Bot
	var notifier runner.Notifier
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram, db)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		notifier = bot
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Runner. A broken pipeline keeps the server up so it can be fixed by
	// editing the config and sending SIGHUP.
	r := runner.New(db, client, notifier)
	if p, err := runner.NewPipeline(cfg, deps); err != nil {
		slog.Error("evaluator disabled", "error", err)
	} else {
		r.SetPipeline(p)
		slog.Info("evaluator ready", "agents", p.Agents, "max_turn", p.MaxTurn)
	}

	// Scheduler
	sched := scheduler.New(db, r, client, cfg.Scheduler)
	if err := sched.Sync(cfg.Schedules); err != nil {
		slog.Warn("some schedules were skipped", "error", err)
	}
	go sched.Start(ctx)

	if bot != nil {
		go func() {
			if err := bot.Start(ctx, r); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	}

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(db, client, r, kr, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal, reloading on SIGHUP
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			cfg = reload(cfg, r, sched, deps)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}
	signal.Stop(sigCh)
	cancel()

	// Cleanup
	r.Shutdown()
	return nil
}

// reload re-reads the config file and applies what can change at runtime.
// The returned config is the one now in effect.
func reload(old *config.Config, r *runner.Runner, sched *scheduler.Scheduler, deps backend.Deps) *config.Config {
	next, err := config.Load()
	if err != nil {
		slog.Error("reload: load config", "error", err)
		return old
	}
	if err := next.Validate(); err != nil {
		slog.Error("reload: invalid config, keeping current", "error", err)
		return old
	}

	d := config.Diff(old, next)
	for _, field := range d.NonReloadable {
		slog.Warn("reload: change requires a restart", "field", field)
	}
	if !d.HasChanges() {
		slog.Info("reload: nothing to apply")
		return old
	}

	if d.PipelineChanged() {
		p, err := runner.NewPipeline(next, deps)
		if err != nil {
			slog.Error("reload: rebuild evaluator, keeping current", "error", err)
			return old
		}
		r.SetPipeline(p)
		slog.Info("reload: evaluator rebuilt",
			"added", d.AgentsAdded, "removed", d.AgentsRemoved, "changed", d.AgentsChanged)
	}
	if d.SchedulesChanged {
		if err := sched.Sync(d.NewSchedules); err != nil {
			slog.Warn("reload: some schedules were skipped", "error", err)
		}
	}
	if d.PollIntervalChanged {
		sched.UpdateConfig(next.Scheduler.PollInterval)
	}

	// Non-reloadable sections keep their running values.
	next.Telegram = old.Telegram
	next.Web = old.Web
	next.NATS = old.NATS
	next.Store = old.Store
	next.Vault = old.Vault
	return next
}
