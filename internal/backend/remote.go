package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mtzanidakis/juror/internal/debate"
	"github.com/mtzanidakis/juror/internal/natsbus"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"
)

// GenerateRequest is the payload sent to a remote agent worker.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateReply is the worker's answer. Exactly one field is set.
type GenerateReply struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RemoteError is a failure reported by a remote worker.
type RemoteError struct {
	Agent string
	Msg   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote worker for %s: %s", e.Agent, e.Msg)
}

// Remote forwards prompts to the worker serving agent over NATS.
type Remote struct {
	bus     *natsbus.Client
	agent   string
	subject string
}

func NewRemote(bus *natsbus.Client, agent string) *Remote {
	return &Remote{bus: bus, agent: agent, subject: natsbus.TopicAgentGenerate(agent)}
}

func (r *Remote) Generate(ctx context.Context, prompt string) (string, error) {
	data, err := json.Marshal(GenerateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	msg, err := r.bus.Request(ctx, r.subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return "", fmt.Errorf("no worker serving %s on %s: %w", r.agent, r.subject, err)
		}
		return "", fmt.Errorf("request %s: %w", r.subject, err)
	}

	var reply GenerateReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("unmarshal reply: %w", err)
	}
	if reply.Error != "" {
		return "", &RemoteError{Agent: r.agent, Msg: reply.Error}
	}
	return reply.Content, nil
}

// Serve answers generation requests for agent with gen until ctx is done.
// Up to concurrency requests are handled at once; workers started for the
// same agent share the load.
func Serve(ctx context.Context, bus *natsbus.Client, agent string, gen debate.Generator, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	subject := natsbus.TopicAgentGenerate(agent)
	sub, err := bus.QueueSubscribe(subject, natsbus.QueueWorkers, func(msg *nats.Msg) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			handle(ctx, agent, gen, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := bus.Flush(); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("flush: %w", err)
	}

	slog.Info("worker serving agent", "agent", agent, "subject", subject, "concurrency", concurrency)
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		slog.Warn("drain subscription", "subject", subject, "error", err)
	}
	wg.Wait()
	return nil
}

func handle(ctx context.Context, agent string, gen debate.Generator, msg *nats.Msg) {
	var req GenerateRequest
	var reply GenerateReply
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		reply.Error = fmt.Sprintf("invalid request: %v", err)
	} else {
		content, err := gen.Generate(ctx, req.Prompt)
		if err != nil {
			slog.Error("generation failed", "agent", agent, "error", err)
			reply.Error = err.Error()
		} else {
			reply.Content = content
		}
	}

	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		slog.Warn("respond failed", "agent", agent, "error", err)
	}
}
