package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/mtzanidakis/juror/internal/backend"
	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/debate"
	"github.com/mtzanidakis/juror/internal/prompt"
	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/store"
	"github.com/mtzanidakis/juror/internal/telegram"
)

type runOptions struct {
	input   string
	output  string
	name    string
	workers int
	plan    bool
}

func parseRunArgs(args []string) (runOptions, error) {
	var opts runOptions
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-i":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for -i")
			}
			i++
			opts.input = args[i]
		case "-o":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for -o")
			}
			i++
			opts.output = args[i]
		case "-name":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for -name")
			}
			i++
			opts.name = args[i]
		case "-workers":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for -workers")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return opts, fmt.Errorf("-workers must be a positive integer, got %q", args[i])
			}
			opts.workers = n
		case "-plan":
			opts.plan = true
		default:
			return opts, fmt.Errorf("unknown flag %s", args[i])
		}
	}
	return opts, nil
}

func runEvaluate(args []string) error {
	opts, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: juror run [-i input.json] [-o output.json] [-name name] [-workers n] [-plan]\n")
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Batch.Workers = opts.workers
	}

	if opts.plan {
		steps, err := planFor(cfg)
		if err != nil {
			return err
		}
		return printPlan(os.Stdout, steps)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	client, closeBus, err := connectBus(cfg.NATS)
	if err != nil {
		return err
	}
	defer closeBus()

	kr, err := openKeyring(cfg.Vault, db)
	if err != nil {
		return err
	}

	p, err := runner.NewPipeline(cfg, backendDeps(client, kr))
	if err != nil {
		return err
	}

	var notifier runner.Notifier
	if cfg.Telegram.Token != "" && len(cfg.Telegram.ChatIDs) > 0 {
		bot, err := telegram.NewBot(cfg.Telegram, db)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		notifier = bot
	}

	r := runner.New(db, client, notifier)
	r.SetPipeline(p)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting evaluation", "version", version, "agents", p.Agents, "max_turn", p.MaxTurn)
	sum, err := r.Run(ctx, runner.Request{
		Name:    opts.name,
		Trigger: runner.TriggerCLI,
		Input:   opts.input,
		Output:  opts.output,
	})
	if sum != nil {
		printSummary(os.Stdout, sum)
	}
	return err
}

// planFor builds the debate machine without real backends so the turn
// schedule can be printed offline.
func planFor(cfg *config.Config) ([]debate.Step, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tmpl, err := prompt.Parse(cfg.Evaluator.PromptTemplate...)
	if err != nil {
		return nil, fmt.Errorf("%w: prompt_template: %v", debate.ErrConfig, err)
	}
	gens := make(map[string]debate.Generator, len(cfg.Evaluator.AgentSequence))
	for _, name := range cfg.Evaluator.AgentSequence {
		gens[name] = backend.Static("")
	}
	m, err := debate.NewMachine(debate.Options{
		Agents:      cfg.Evaluator.AgentSequence,
		Roles:       cfg.Evaluator.RoleDescription,
		Template:    tmpl,
		FinalPrompt: cfg.Evaluator.FinalPrompt,
		MaxTurn:     cfg.Evaluator.MaxTurn,
		Generators:  gens,
	})
	if err != nil {
		return nil, err
	}
	return m.Plan(), nil
}

func printPlan(w io.Writer, steps []debate.Step) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TURN\tROUND\tAGENT\tFINAL")
	for _, s := range steps {
		final := ""
		if s.Final {
			final = "yes"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", s.Turn, s.Round, s.Agent, final)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, sum *runner.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", sum.RunID)
	fmt.Fprintf(tw, "status\t%s\n", sum.Status)
	fmt.Fprintf(tw, "items\t%d done, %d failed of %d\n", sum.Done, sum.Failed, sum.Items)
	fmt.Fprintf(tw, "mismatches\t%d\n", sum.Mismatches)
	for _, s := range sum.Scores {
		if s.Items == 0 {
			fmt.Fprintf(tw, "%s\tno scores\n", s.Agent)
			continue
		}
		fmt.Fprintf(tw, "%s\t%.2f / %.2f over %d items\n", s.Agent, s.Mean[0], s.Mean[1], s.Items)
	}
	if sum.Output != "" {
		fmt.Fprintf(tw, "output\t%s\n", sum.Output)
	}
	_ = tw.Flush()
}
