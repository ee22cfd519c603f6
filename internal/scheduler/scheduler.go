// Package scheduler starts evaluation runs for the schedules defined in the
// configuration.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/natsbus"
	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/store"
)

// Runner executes one evaluation run to completion.
type Runner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Summary, error)
}

type Scheduler struct {
	store        *store.Store
	runner       Runner
	natsClient   *natsbus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
	now          func() time.Time

	// serialises Sync against poll
	mu sync.Mutex
}

func New(s *store.Store, r Runner, client *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       r,
		natsClient:   client,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
		now:          time.Now,
	}
}

// Sync makes the stored schedules match defs. Cron expressions are evaluated
// in UTC. Schedules whose expression did not change keep their next run time
// and pause state; removed schedules are deleted. Invalid definitions are
// skipped and reported in the returned error.
func (s *Scheduler) Sync(defs []config.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	names := make([]string, 0, len(defs))
	now := s.now().UTC()
	for _, def := range defs {
		if err := Validate(def.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", def.Name, err))
			continue
		}
		names = append(names, def.Name)

		sch := &store.Schedule{
			Name:   def.Name,
			Cron:   def.Cron,
			Input:  def.Input,
			Output: def.Output,
			Status: "active",
		}
		existing, err := s.store.GetSchedule(def.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if existing != nil && existing.Cron == def.Cron && existing.NextRunAt != nil {
			sch.NextRunAt = existing.NextRunAt
			sch.Status = existing.Status
		} else {
			next, err := NextRun(def.Cron, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("schedule %s: %w", def.Name, err))
				continue
			}
			sch.NextRunAt = &next
		}
		if err := s.store.SaveSchedule(sch); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("schedule synced", "name", def.Name, "cron", Describe(def.Cron), "next_run", sch.NextRunAt)
	}

	if err := s.store.DeleteSchedulesNotIn(names); err != nil {
		errs = append(errs, fmt.Errorf("delete stale schedules: %w", err))
	}
	return errors.Join(errs...)
}

// UpdateConfig updates the poll interval, then signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.mu.Lock()
	s.pollInterval = pollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}
	interval := s.pollInterval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			s.mu.Lock()
			interval = s.pollInterval
			s.mu.Unlock()
			ticker.Reset(interval)
			slog.Info("scheduler config reloaded", "poll_interval", interval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	s.mu.Lock()
	due, err := s.store.GetDueSchedules(s.now().UTC())
	s.mu.Unlock()
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}

	for _, sch := range due {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, sch)
	}
}

func (s *Scheduler) execute(ctx context.Context, sch store.Schedule) {
	slog.Info("executing scheduled run", "name", sch.Name, "input", sch.Input)

	sum, err := s.runner.Run(ctx, runner.Request{
		Name:    sch.Name,
		Trigger: runner.TriggerScheduler,
		Input:   sch.Input,
		Output:  sch.Output,
	})

	var lastStatus, lastError, runID string
	if sum != nil {
		runID = sum.RunID
	}
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled run failed", "name", sch.Name, "error", err)
	} else {
		lastStatus = "success"
	}

	var nextRun *time.Time
	if next, err := NextRun(sch.Cron, s.now().UTC()); err != nil {
		slog.Error("failed to compute next run", "name", sch.Name, "error", err)
	} else {
		nextRun = &next
	}

	if err := s.store.UpdateScheduleRun(sch.Name, lastStatus, lastError, runID, nextRun); err != nil {
		slog.Error("failed to update schedule run", "name", sch.Name, "error", err)
	}

	s.publishScheduleExecutedEvent(sch, lastStatus, runID)

	if nextRun == nil {
		if err := s.store.UpdateScheduleStatus(sch.Name, "paused"); err != nil {
			slog.Error("failed to pause schedule", "name", sch.Name, "error", err)
		}
	}
}

func (s *Scheduler) publishScheduleExecutedEvent(sch store.Schedule, status, runID string) {
	if s.natsClient == nil {
		return
	}

	event := map[string]any{
		"type":      "schedule_executed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"name":   sch.Name,
			"status": status,
			"run_id": runID,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	_ = s.natsClient.Publish(natsbus.TopicEventsScheduleExecuted, data)
}
