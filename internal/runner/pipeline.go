package runner

import (
	"fmt"

	"github.com/mtzanidakis/juror/internal/backend"
	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/debate"
	"github.com/mtzanidakis/juror/internal/evaluator"
	"github.com/mtzanidakis/juror/internal/prompt"
	"github.com/mtzanidakis/juror/internal/scoring"
)

// Pipeline is everything built from the evaluator and agents sections of the
// configuration.
type Pipeline struct {
	Evaluator *evaluator.Evaluator
	Machine   *debate.Machine
	Agents    []string
	MaxTurn   int
	Batch     config.BatchConfig
}

// NewPipeline validates cfg, binds every agent to its backend and assembles
// the evaluator.
func NewPipeline(cfg *config.Config, deps backend.Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ev := cfg.Evaluator

	tmpl, err := prompt.Parse(ev.PromptTemplate...)
	if err != nil {
		return nil, fmt.Errorf("%w: prompt_template: %v", debate.ErrConfig, err)
	}
	pattern, err := scoring.Compile(ev.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern: %v", debate.ErrConfig, err)
	}

	gens, err := backend.Bind(ev.AgentSequence, cfg.Agents, deps)
	if err != nil {
		return nil, err
	}

	// Timeouts are applied per agent by the backend.
	machine, err := debate.NewMachine(debate.Options{
		Agents:      ev.AgentSequence,
		Roles:       ev.RoleDescription,
		Template:    tmpl,
		FinalPrompt: ev.FinalPrompt,
		MaxTurn:     ev.MaxTurn,
		Generators:  gens,
	})
	if err != nil {
		return nil, err
	}

	e, err := evaluator.New(evaluator.Options{
		Machine:      machine,
		Pattern:      pattern,
		ResponseKeys: [2]string{ev.ResponseKeys[0], ev.ResponseKeys[1]},
		Workers:      cfg.Batch.Workers,
		OnError:      evaluator.Policy(cfg.Batch.OnError),
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Evaluator: e,
		Machine:   machine,
		Agents:    append([]string(nil), ev.AgentSequence...),
		MaxTurn:   ev.MaxTurn,
		Batch:     cfg.Batch,
	}, nil
}
