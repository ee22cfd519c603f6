package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mtzanidakis/juror/internal/backend"
	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/natsbus"
	"github.com/mtzanidakis/juror/internal/store"
)

type workerOptions struct {
	agent       string
	concurrency int
}

func parseWorkerArgs(args []string) (workerOptions, error) {
	opts := workerOptions{concurrency: 1}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-agent":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for -agent")
			}
			i++
			opts.agent = args[i]
		case "-concurrency":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for -concurrency")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return opts, fmt.Errorf("-concurrency must be a positive integer, got %q", args[i])
			}
			opts.concurrency = n
		default:
			return opts, fmt.Errorf("unknown flag %s", args[i])
		}
	}
	if opts.agent == "" {
		return opts, fmt.Errorf("missing -agent flag")
	}
	return opts, nil
}

// workerUpstream returns the backend a worker should serve for agent.
func workerUpstream(cfg *config.Config, agent string) (config.AgentConfig, error) {
	a, ok := cfg.Agents[agent]
	if !ok {
		return config.AgentConfig{}, fmt.Errorf("agent %q is not configured", agent)
	}
	if a.Provider != config.ProviderNATS || a.Upstream == nil {
		return config.AgentConfig{}, fmt.Errorf("agent %q is not a nats agent with an upstream", agent)
	}
	if a.Upstream.Provider == config.ProviderNATS {
		return config.AgentConfig{}, fmt.Errorf("agent %q: upstream cannot be provider nats", agent)
	}
	return *a.Upstream, nil
}

// workerURL is the server a worker connects to. Workers never embed one.
func workerURL(cfg config.NATSConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("nats://localhost:%d", cfg.Port)
}

func runWorker(args []string) error {
	opts, err := parseWorkerArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: juror worker -agent <name> [-concurrency n]\n")
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	upstream, err := workerUpstream(cfg, opts.agent)
	if err != nil {
		return err
	}

	url := workerURL(cfg.NATS)
	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer client.Close()

	// Secrets are only needed when the upstream references one.
	deps := backend.Deps{}
	if cfg.Vault.Passphrase != "" {
		db, err := store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		kr, err := openKeyring(cfg.Vault, db)
		if err != nil {
			return err
		}
		deps.Secrets = kr
	}

	gen, err := backend.New(opts.agent, upstream, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting worker", "version", version, "agent", opts.agent, "provider", upstream.Provider, "nats", url)
	return backend.Serve(ctx, client, opts.agent, gen, opts.concurrency)
}
