// Package runner executes evaluation runs: it loads a batch, drives the
// evaluator over it, records progress in the store and publishes events.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/juror/internal/debate"
	"github.com/mtzanidakis/juror/internal/evaluator"
	"github.com/mtzanidakis/juror/internal/natsbus"
	"github.com/mtzanidakis/juror/internal/store"
)

// ErrNoPipeline is returned when a run is requested before a pipeline is set.
var ErrNoPipeline = errors.New("no evaluation pipeline configured")

const notifyTimeout = 30 * time.Second

type Runner struct {
	store    *store.Store
	client   *natsbus.Client
	notifier Notifier

	mu       sync.RWMutex
	pipeline *Pipeline

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New returns a Runner. client and notifier may be nil.
func New(st *store.Store, client *natsbus.Client, notifier Notifier) *Runner {
	return &Runner{
		store:    st,
		client:   client,
		notifier: notifier,
		active:   make(map[string]context.CancelFunc),
	}
}

// SetPipeline swaps the pipeline used by runs started from now on. Runs in
// flight keep the pipeline they started with.
func (r *Runner) SetPipeline(p *Pipeline) {
	r.mu.Lock()
	r.pipeline = p
	r.mu.Unlock()
}

func (r *Runner) Pipeline() *Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipeline
}

// Run evaluates one batch and blocks until it is done. The returned summary
// is non-nil whenever a run record was created, even if the run failed.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	run, p, err := r.prepare(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.track(run.ID, cancel)
	defer r.untrack(run.ID)

	return r.execute(ctx, run, p)
}

// Start evaluates one batch in the background and returns the run id.
func (r *Runner) Start(req Request) (string, error) {
	run, p, err := r.prepare(req)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.track(run.ID, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.untrack(run.ID)
		defer cancel()
		_, _ = r.execute(ctx, run, p)
	}()
	return run.ID, nil
}

// Cancel stops an active run. It reports whether the run was active.
func (r *Runner) Cancel(id string) bool {
	r.activeMu.Lock()
	cancel, ok := r.active[id]
	r.activeMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the ids of runs in progress.
func (r *Runner) Active() []string {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every run started with Start has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels every active run and waits for background runs to finish.
func (r *Runner) Shutdown() {
	r.activeMu.Lock()
	for _, cancel := range r.active {
		cancel()
	}
	r.activeMu.Unlock()
	r.wg.Wait()
}

func (r *Runner) track(id string, cancel context.CancelFunc) {
	r.activeMu.Lock()
	r.active[id] = cancel
	r.activeMu.Unlock()
}

func (r *Runner) untrack(id string) {
	r.activeMu.Lock()
	delete(r.active, id)
	r.activeMu.Unlock()
}

func (r *Runner) prepare(req Request) (*store.Run, *Pipeline, error) {
	p := r.Pipeline()
	if p == nil {
		return nil, nil, ErrNoPipeline
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Input == "" {
		req.Input = p.Batch.Input
	}
	if req.Output == "" {
		req.Output = p.Batch.Output
	}
	if req.Name == "" {
		req.Name = filepath.Base(req.Input)
	}
	if req.Trigger == "" {
		req.Trigger = TriggerCLI
	}

	agentsJSON, _ := json.Marshal(p.Agents)
	run := &store.Run{
		ID:      req.ID,
		Name:    req.Name,
		Trigger: req.Trigger,
		Status:  store.RunRunning,
		Input:   req.Input,
		Output:  req.Output,
		Agents:  agentsJSON,
		MaxTurn: p.MaxTurn,
	}
	if err := r.store.CreateRun(run); err != nil {
		return nil, nil, fmt.Errorf("save run: %w", err)
	}

	r.publishEvent(run.ID, "eval_started", map[string]any{
		"name":     run.Name,
		"trigger":  run.Trigger,
		"input":    run.Input,
		"agents":   p.Agents,
		"max_turn": p.MaxTurn,
	})
	return run, p, nil
}

func (r *Runner) execute(ctx context.Context, run *store.Run, p *Pipeline) (*Summary, error) {
	start := time.Now()
	slog.Info("run started", "run", run.ID, "name", run.Name, "input", run.Input)

	items, err := evaluator.LoadItems(run.Input)
	if err != nil {
		return r.finish(ctx, run, nil, nil, 0, err, start)
	}
	if err := r.store.SetRunTotal(run.ID, len(items)); err != nil {
		slog.Error("failed to record run total", "run", run.ID, "error", err)
	}
	run.ItemsTotal = len(items)

	obs := &runObserver{runner: r, runID: run.ID}
	report, err := p.Evaluator.EvaluateBatch(ctx, items, obs)
	if err == nil {
		if werr := evaluator.WriteResults(run.Output, report.Results); werr != nil {
			err = werr
		}
	}
	return r.finish(ctx, run, p, report, obs.failures(), err, start)
}

func (r *Runner) finish(ctx context.Context, run *store.Run, p *Pipeline, report *evaluator.BatchReport, failed int, runErr error, start time.Time) (*Summary, error) {
	sum := &Summary{
		RunID:    run.ID,
		Name:     run.Name,
		Status:   store.RunCompleted,
		Items:    run.ItemsTotal,
		Failed:   failed,
		Duration: time.Since(start),
	}
	if report != nil {
		sum.Done = len(report.Results)
		sum.Mismatches = len(report.Mismatches)
		if p != nil {
			sum.Scores = MeanScores(p.Agents, report.Results)
		}
	}

	errMsg := ""
	if runErr != nil {
		sum.Status = store.RunFailed
		errMsg = runErr.Error()
		sum.Error = errMsg
	} else {
		sum.Output = run.Output
	}

	if err := r.store.UpdateRunProgress(run.ID, sum.Done, sum.Failed, sum.Mismatches); err != nil {
		slog.Error("failed to record run progress", "run", run.ID, "error", err)
	}
	if err := r.store.FinishRun(run.ID, sum.Status, errMsg); err != nil {
		slog.Error("failed to finish run", "run", run.ID, "error", err)
	}

	if runErr != nil {
		r.publishEvent(run.ID, "eval_failed", map[string]any{
			"error":  errMsg,
			"done":   sum.Done,
			"failed": sum.Failed,
		})
		slog.Error("run failed", "run", run.ID, "done", sum.Done, "error", runErr)
	} else {
		r.publishEvent(run.ID, "eval_completed", map[string]any{
			"done":       sum.Done,
			"failed":     sum.Failed,
			"mismatches": sum.Mismatches,
			"output":     run.Output,
			"scores":     sum.Scores,
		})
		slog.Info("run completed",
			"run", run.ID,
			"items", sum.Items,
			"done", sum.Done,
			"failed", sum.Failed,
			"mismatches", sum.Mismatches,
			"duration", sum.Duration.Round(time.Millisecond))
	}

	if r.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		if err := r.notifier.NotifyRun(nctx, *sum); err != nil {
			slog.Warn("run notification failed", "run", run.ID, "error", err)
		}
		cancel()
	}

	return sum, runErr
}

// MeanScores averages the score pair each agent gave over results, leaving
// out replies the score pattern did not match.
func MeanScores(agents []string, results []evaluator.Result) []AgentScore {
	sums := make(map[string][2]int)
	counts := make(map[string]int)
	for _, res := range results {
		skip := make(map[string]bool, len(res.Mismatches))
		for _, m := range res.Mismatches {
			skip[m.Agent] = true
		}
		for _, ev := range res.Evaluation {
			if skip[ev.Role] {
				continue
			}
			s := sums[ev.Role]
			s[0] += ev.Score[0]
			s[1] += ev.Score[1]
			sums[ev.Role] = s
			counts[ev.Role]++
		}
	}

	out := make([]AgentScore, 0, len(agents))
	for _, a := range agents {
		n := counts[a]
		score := AgentScore{Agent: a, Items: n}
		if n > 0 {
			s := sums[a]
			score.Mean = [2]float64{float64(s[0]) / float64(n), float64(s[1]) / float64(n)}
		}
		out = append(out, score)
	}
	return out
}

func (r *Runner) publishEvent(runID, eventType string, data map[string]any) {
	if r.client == nil {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"run_id":    runID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = r.client.Publish(natsbus.TopicEventsRun(runID), payload)
}

// runObserver persists and publishes per-item progress.
type runObserver struct {
	runner *Runner
	runID  string

	mu         sync.Mutex
	done       int
	failed     int
	mismatches int
}

func (o *runObserver) ItemStarted(index int, item evaluator.Item) {
	o.runner.publishEvent(o.runID, "item_started", map[string]any{
		"index":    index,
		"question": truncate(item.Question, 200),
	})
}

func (o *runObserver) TurnCompleted(index int, s debate.State, final bool) {
	if len(s.History) == 0 {
		return
	}
	msg := s.History[len(s.History)-1]
	turn := &store.Turn{
		RunID:   o.runID,
		Index:   index,
		Turn:    s.Turn - 1,
		Role:    msg.Role,
		Content: msg.Content,
		Final:   final,
	}
	if err := o.runner.store.SaveTurn(turn); err != nil {
		slog.Error("failed to save turn", "run", o.runID, "item", index, "error", err)
	}
	o.runner.publishEvent(o.runID, "turn_completed", map[string]any{
		"index":   index,
		"turn":    turn.Turn,
		"role":    msg.Role,
		"final":   final,
		"content": truncate(msg.Content, 200),
	})
}

func (o *runObserver) ItemCompleted(index int, res *evaluator.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		slog.Error("failed to encode item result", "run", o.runID, "item", index, "error", err)
	}
	err = o.runner.store.SaveItemResult(&store.ItemResult{
		RunID:      o.runID,
		Index:      index,
		Status:     store.ItemOK,
		Question:   res.Question,
		Result:     payload,
		Mismatches: len(res.Mismatches),
	})
	if err != nil {
		slog.Error("failed to save item result", "run", o.runID, "item", index, "error", err)
	}

	o.mu.Lock()
	o.done++
	o.mismatches += len(res.Mismatches)
	done, failed, mismatches := o.done, o.failed, o.mismatches
	o.mu.Unlock()
	o.progress(done, failed, mismatches)

	scores := make(map[string][2]int, len(res.Evaluation))
	for _, ev := range res.Evaluation {
		scores[ev.Role] = ev.Score
	}
	o.runner.publishEvent(o.runID, "item_completed", map[string]any{
		"index":      index,
		"scores":     scores,
		"mismatches": len(res.Mismatches),
	})
}

func (o *runObserver) ItemFailed(index int, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	serr := o.runner.store.SaveItemResult(&store.ItemResult{
		RunID:  o.runID,
		Index:  index,
		Status: store.ItemFailed,
		Error:  err.Error(),
	})
	if serr != nil {
		slog.Error("failed to save item failure", "run", o.runID, "item", index, "error", serr)
	}

	o.mu.Lock()
	o.failed++
	done, failed, mismatches := o.done, o.failed, o.mismatches
	o.mu.Unlock()
	o.progress(done, failed, mismatches)

	o.runner.publishEvent(o.runID, "item_failed", map[string]any{
		"index": index,
		"error": err.Error(),
	})
}

func (o *runObserver) failures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed
}

func (o *runObserver) progress(done, failed, mismatches int) {
	if err := o.runner.store.UpdateRunProgress(o.runID, done, failed, mismatches); err != nil {
		slog.Error("failed to update run progress", "run", o.runID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
