// Package evaluator scores candidate response pairs by running a debate per
// item and extracting each agent's score pair from its final reply.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/juror/internal/debate"
	"github.com/mtzanidakis/juror/internal/scoring"
)

// ErrInvalidItem marks an input item that cannot be evaluated.
var ErrInvalidItem = errors.New("invalid item")

// DefaultResponseKeys name the two candidate responses inside an item.
var DefaultResponseKeys = [2]string{"gpt35", "vicuna"}

// Item is one input record.
type Item struct {
	Question string          `json:"question"`
	Response json.RawMessage `json:"response"`
}

// Evaluation is one agent's final verdict on an item.
type Evaluation struct {
	Role       string       `json:"role"`
	Evaluation string       `json:"evaluation"`
	Score      scoring.Pair `json:"score"`
}

// Result is the scored form of an Item.
type Result struct {
	Question   string          `json:"question"`
	Response   json.RawMessage `json:"response"`
	Evaluation []Evaluation    `json:"evaluation"`

	Mismatches []Mismatch `json:"-"`
}

// Mismatch records a final reply the score pattern did not match.
type Mismatch struct {
	Index int    `json:"index"`
	Agent string `json:"agent"`
	Reply string `json:"reply"`
}

// Observer receives per-item progress. Implementations must be safe for
// concurrent use when the batch runs with more than one worker.
type Observer interface {
	ItemStarted(index int, item Item)
	TurnCompleted(index int, s debate.State, final bool)
	ItemCompleted(index int, res *Result)
	ItemFailed(index int, err error)
}

// NopObserver ignores all progress.
type NopObserver struct{}

func (NopObserver) ItemStarted(int, Item) {}
func (NopObserver) TurnCompleted(int, debate.State, bool) {}
func (NopObserver) ItemCompleted(int, *Result) {}
func (NopObserver) ItemFailed(int, error) {}

// Options configures an Evaluator.
type Options struct {
	Machine      *debate.Machine
	Pattern      *scoring.Pattern
	ResponseKeys [2]string
	Workers      int
	OnError      Policy
}

// Evaluator runs debates over items.
type Evaluator struct {
	machine *debate.Machine
	pattern *scoring.Pattern
	keys    [2]string
	workers int
	onError Policy
}

// New validates opts and returns an Evaluator.
func New(opts Options) (*Evaluator, error) {
	if opts.Machine == nil {
		return nil, fmt.Errorf("%w: evaluator needs a debate machine", debate.ErrConfig)
	}
	if opts.Pattern == nil {
		return nil, fmt.Errorf("%w: evaluator needs a score pattern", debate.ErrConfig)
	}
	keys := opts.ResponseKeys
	if keys[0] == "" && keys[1] == "" {
		keys = DefaultResponseKeys
	}
	if keys[0] == "" || keys[1] == "" {
		return nil, fmt.Errorf("%w: two response keys are required", debate.ErrConfig)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	policy := opts.OnError
	if policy == "" {
		policy = PolicyAbort
	}
	if policy != PolicyAbort && policy != PolicySkip {
		return nil, fmt.Errorf("%w: unknown on_error policy %q", debate.ErrConfig, policy)
	}
	return &Evaluator{
		machine: opts.Machine,
		pattern: opts.Pattern,
		keys:    keys,
		workers: workers,
		onError: policy,
	}, nil
}

// Evaluate runs the full debate for one item and extracts the score pair of
// every agent from its reply in the last round. A reply the pattern does
// not match is recorded with score [0, 0]; only backend failures and
// malformed items are returned as errors.
func (e *Evaluator) Evaluate(ctx context.Context, index int, item Item, obs Observer) (*Result, error) {
	if obs == nil {
		obs = NopObserver{}
	}
	obs.ItemStarted(index, item)

	one, two, err := e.candidates(item)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", index, err)
	}

	s := e.machine.Executor().NewState(item.Question, one, two)
	agents := s.Agents

	final, err := e.machine.Run(ctx, s, func(next debate.State, isFinal bool) {
		obs.TurnCompleted(index, next, isFinal)
	})
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", index, err)
	}

	res := &Result{
		Question:   item.Question,
		Response:   item.Response,
		Evaluation: make([]Evaluation, 0, len(agents)),
	}
	for i, msg := range final.LastRound() {
		score, err := e.pattern.Extract(msg.Content)
		if err != nil {
			slog.Warn("score pattern did not match, recording [0, 0]",
				"item", index, "agent", agents[i], "error", err)
			res.Mismatches = append(res.Mismatches, Mismatch{Index: index, Agent: agents[i], Reply: msg.Content})
		}
		res.Evaluation = append(res.Evaluation, Evaluation{
			Role:       agents[i],
			Evaluation: msg.Content,
			Score:      score,
		})
	}

	slog.Info("item evaluated", "item", index, "turns", final.Turn, "mismatches", len(res.Mismatches))
	return res, nil
}

func (e *Evaluator) candidates(item Item) (string, string, error) {
	if len(item.Response) == 0 {
		return "", "", fmt.Errorf("%w: missing response", ErrInvalidItem)
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(item.Response, &resp); err != nil {
		return "", "", fmt.Errorf("%w: response is not an object: %v", ErrInvalidItem, err)
	}

	var texts [2]string
	for i, key := range e.keys {
		raw, ok := resp[key]
		if !ok {
			return "", "", fmt.Errorf("%w: response has no %q entry", ErrInvalidItem, key)
		}
		if err := json.Unmarshal(raw, &texts[i]); err != nil {
			return "", "", fmt.Errorf("%w: response %q is not a string", ErrInvalidItem, key)
		}
	}
	return texts[0], texts[1], nil
}
