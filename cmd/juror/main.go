package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mtzanidakis/juror/internal/backend"
	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/natsbus"
	"github.com/mtzanidakis/juror/internal/store"
	"github.com/mtzanidakis/juror/internal/vault"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("juror %s\n", version)
	case "run":
		err = runEvaluate(os.Args[2:])
	case "serve":
		err = runServe()
	case "worker":
		err = runWorker(os.Args[2:])
	case "runs":
		err = runList(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "secret":
		err = runSecret(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: juror <command>

Commands:
  run       Evaluate a batch of items (-i input, -o output, -plan)
  serve     Run the web UI, scheduler and telegram bot
  worker    Serve a remote agent over NATS (-agent name)
  runs      List recorded runs
  export    Write the results of a recorded run (-run id -f path)
  secret    Manage encrypted secrets (set, list, delete)
  backup    Archive the run store (-f out.tar.zst)
  restore   Restore the run store from an archive (-f in.tar.zst)
  version   Print version

Environment:
  JUROR_CONFIG      Config file (default config/juror.yaml)
`)
}

// loadConfig reads the config file and installs the logger it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg.Log))
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// connectBus connects to the configured NATS server, or embeds one when
// nats.enabled is set without a url. Both return values are nil when NATS is
// not configured.
func connectBus(cfg config.NATSConfig) (*natsbus.Client, func(), error) {
	if cfg.URL != "" {
		client, err := natsbus.NewClientFromURL(cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		slog.Info("nats connected", "url", cfg.URL)
		return client, client.Close, nil
	}
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	bus, err := natsbus.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init nats: %w", err)
	}
	client, err := natsbus.NewClient(bus)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	slog.Info("nats started", "port", bus.Port())
	return client, func() {
		client.Close()
		bus.Close()
	}, nil
}

// openKeyring returns nil when no vault passphrase is configured.
func openKeyring(cfg config.VaultConfig, st *store.Store) (*vault.Keyring, error) {
	if cfg.Passphrase == "" {
		return nil, nil
	}
	return vault.NewKeyring(cfg.Passphrase, st)
}

// backendDeps always sets Secrets: a nil keyring still resolves literal
// values and rejects secret references.
func backendDeps(client *natsbus.Client, kr *vault.Keyring) backend.Deps {
	return backend.Deps{Bus: client, Secrets: kr}
}
