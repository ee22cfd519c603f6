package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/mtzanidakis/juror/internal/evaluator"
	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/store"
)

const defaultListLimit = 20

func runList(args []string) error {
	limit := defaultListLimit
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -n")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("-n must be a positive integer, got %q", args[i])
			}
			limit = n
		default:
			return fmt.Errorf("unknown flag %s", args[i])
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	return printRuns(os.Stdout, runs)
}

func printRuns(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTRIGGER\tSTATUS\tITEMS\tMISMATCHES\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d (%d failed)\t%d\t%s\n",
			r.ID, r.Name, r.Trigger, r.Status,
			r.ItemsDone, r.ItemsTotal, r.ItemsFailed,
			r.Mismatches, r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runExport(args []string) error {
	var runID, outputPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-run":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -run")
			}
			i++
			runID = args[i]
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}
	if runID == "" || outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: juror export -run <id> -f <output.json[.zst]>\n")
		return fmt.Errorf("missing -run or -f flag")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %q not found", runID)
	}

	results, err := runner.Results(db, run.ID)
	if err != nil {
		return err
	}
	if err := evaluator.WriteResults(outputPath, results); err != nil {
		return err
	}
	fmt.Printf("Exported %d results of run %s (%s) to %s\n", len(results), run.ID, run.Status, outputPath)
	return nil
}
