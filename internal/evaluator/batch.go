package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Policy decides what a batch does when an item fails.
type Policy string

const (
	// PolicyAbort stops the batch at the first failed item.
	PolicyAbort Policy = "abort"
	// PolicySkip records the failure and keeps going.
	PolicySkip Policy = "skip"
)

// ItemFailure is an item the batch could not evaluate.
type ItemFailure struct {
	Index int
	Err   error
}

// BatchReport collects the outcome of a batch. Results are in input order
// and only contain items that completed.
type BatchReport struct {
	Results    []Result
	Indexes    []int
	Failures   []ItemFailure
	Mismatches []Mismatch
}

// EvaluateBatch evaluates items with up to Workers items in flight. With one
// worker items are processed strictly in order. Under PolicyAbort the first
// failure cancels the remaining items and is returned together with the
// report of what completed; under PolicySkip failures are recorded in the
// report and the returned error is nil.
func (e *Evaluator) EvaluateBatch(ctx context.Context, items []Item, obs Observer) (*BatchReport, error) {
	if obs == nil {
		obs = NopObserver{}
	}

	slots := make([]*Result, len(items))
	var (
		mu       sync.Mutex
		failures []ItemFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		slog.Info("evaluating item", "item", i+1, "total", len(items))
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := e.Evaluate(gctx, i, item, obs)
			if err != nil {
				obs.ItemFailed(i, err)
				if e.onError == PolicySkip && !errors.Is(err, context.Canceled) {
					slog.Error("item failed, skipping", "item", i, "error", err)
					mu.Lock()
					failures = append(failures, ItemFailure{Index: i, Err: err})
					mu.Unlock()
					return nil
				}
				return err
			}
			obs.ItemCompleted(i, res)
			slots[i] = res
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		// the parent context may have been cancelled while no item was running
		err = ctx.Err()
	}

	report := &BatchReport{}
	for i, res := range slots {
		if res == nil {
			continue
		}
		report.Results = append(report.Results, *res)
		report.Indexes = append(report.Indexes, i)
		report.Mismatches = append(report.Mismatches, res.Mismatches...)
	}
	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	report.Failures = failures

	if err != nil {
		return report, fmt.Errorf("batch aborted: %w", err)
	}
	return report, nil
}
