// Package debate runs the round-robin conversation between evaluator agents.
//
// An Executor performs single turns: it renders the prompt for the agent
// whose turn it is, calls that agent's Generator and appends the reply to
// the shared history. A Machine drives turns until every agent has spoken
// max_turn times.
package debate

import (
	"context"
	"fmt"
	"time"

	"github.com/mtzanidakis/juror/internal/prompt"
)

// Generator produces a reply for a rendered prompt. Implementations must be
// safe for concurrent use when items are evaluated in parallel.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Options configures an Executor.
type Options struct {
	Agents      []string
	Roles       map[string]string
	Template    *prompt.Template
	FinalPrompt string
	// MaxTurn is the total number of rounds.
	MaxTurn    int
	Generators map[string]Generator
	// CallTimeout bounds each Generate call. Zero disables the bound.
	CallTimeout time.Duration
}

// Executor runs single turns.
type Executor struct {
	agents      []string
	roles       map[string]string
	template    *prompt.Template
	finalPrompt string
	maxTurn     int
	generators  map[string]Generator
	callTimeout time.Duration
}

// NewExecutor validates opts and returns an Executor.
func NewExecutor(opts Options) (*Executor, error) {
	if len(opts.Agents) == 0 {
		return nil, fmt.Errorf("%w: agent sequence is empty", ErrConfig)
	}
	if opts.MaxTurn <= 0 {
		return nil, fmt.Errorf("%w: max_turn must be positive, got %d", ErrConfig, opts.MaxTurn)
	}
	if opts.Template == nil {
		return nil, fmt.Errorf("%w: prompt template is required", ErrConfig)
	}
	if len(opts.Generators) != len(opts.Agents) {
		return nil, fmt.Errorf("%w: %d agents but %d generation backends", ErrConfig, len(opts.Agents), len(opts.Generators))
	}

	seen := make(map[string]bool, len(opts.Agents))
	for _, a := range opts.Agents {
		if seen[a] {
			return nil, fmt.Errorf("%w: agent %q appears twice in sequence", ErrConfig, a)
		}
		seen[a] = true
		if opts.Generators[a] == nil {
			return nil, fmt.Errorf("%w: no generation backend bound to agent %q", ErrConfig, a)
		}
		if _, ok := opts.Roles[a]; !ok {
			return nil, fmt.Errorf("%w: no role description for agent %q", ErrConfig, a)
		}
	}

	roles := make(map[string]string, len(opts.Agents))
	for _, a := range opts.Agents {
		roles[a] = opts.Roles[a]
	}

	return &Executor{
		agents:      append([]string(nil), opts.Agents...),
		roles:       roles,
		template:    opts.Template,
		finalPrompt: opts.FinalPrompt,
		maxTurn:     opts.MaxTurn,
		generators:  opts.Generators,
		callTimeout: opts.CallTimeout,
	}, nil
}

// Agents returns a copy of the agent sequence.
func (e *Executor) Agents() []string {
	return append([]string(nil), e.agents...)
}

// NewState returns the initial state of an item debated by this executor's
// agents and roles.
func (e *Executor) NewState(source, one, two string) State {
	return NewState(source, one, two, e.Agents(), e.roles)
}

// MaxTurn returns the configured number of rounds.
func (e *Executor) MaxTurn() int {
	return e.maxTurn
}

// FinalRound reports whether the reply produced at turn belongs to the last
// round, the one whose prompts carry the final directive.
func (e *Executor) FinalRound(turn int) bool {
	return turn/len(e.agents)+1 == e.maxTurn
}

// Prompt renders the prompt text for the agent whose turn it is in s.
func (e *Executor) Prompt(s State) string {
	k := len(s.Agents)
	current := s.Agents[s.Turn%k]

	final := ""
	if s.Turn/k+1 == e.maxTurn {
		final = e.finalPrompt
	}

	return e.template.Text(prompt.Vars{
		SourceText:      s.SourceText,
		CompareOne:      s.CompareOne,
		CompareTwo:      s.CompareTwo,
		ChatHistory:     VisibleHistory(s.History, current),
		RoleDescription: e.roles[current],
		AgentName:       current,
		FinalPrompt:     final,
	})
}

// RunTurn lets the agent at agentIndex speak and returns the resulting state.
// agentIndex must equal s.Turn mod the number of agents. On failure the
// input state is returned unchanged together with the error.
func (e *Executor) RunTurn(ctx context.Context, s State, agentIndex int) (State, error) {
	k := len(s.Agents)
	if k == 0 {
		return s, fmt.Errorf("%w: state has no agents", ErrConfig)
	}
	if agentIndex != s.Turn%k {
		return s, fmt.Errorf("%w: index %d requested at turn %d of %d agents", ErrTurnOrder, agentIndex, s.Turn, k)
	}

	current := s.Agents[agentIndex]
	gen, ok := e.generators[current]
	if !ok {
		return s, fmt.Errorf("%w: no generation backend bound to agent %q", ErrConfig, current)
	}

	text := e.Prompt(s)

	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	reply, err := gen.Generate(callCtx, text)
	if err != nil {
		return s, &BackendError{Agent: current, Turn: s.Turn, Err: err}
	}

	return s.with(ChatMessage{
		Role:     current,
		Receiver: []string{Broadcast},
		Content:  reply,
	}), nil
}
