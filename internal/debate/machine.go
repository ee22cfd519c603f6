package debate

import (
	"context"
	"fmt"
)

// TurnHook observes every completed turn. final reports whether the turn
// belonged to the last round.
type TurnHook func(s State, final bool)

// Machine sequences turns in strict round-robin order and stops after
// MaxTurn complete rounds.
type Machine struct {
	exec *Executor
}

// NewMachine builds the executor from opts and wraps it in a Machine.
func NewMachine(opts Options) (*Machine, error) {
	exec, err := NewExecutor(opts)
	if err != nil {
		return nil, err
	}
	return &Machine{exec: exec}, nil
}

// Executor returns the underlying turn executor.
func (m *Machine) Executor() *Executor {
	return m.exec
}

// Turns returns the number of turns a run from the initial state performs.
func (m *Machine) Turns() int {
	return len(m.exec.agents) * m.exec.maxTurn
}

// Run drives s until the terminal condition holds. The condition is only
// checked when the last agent of a round has spoken. hook may be nil.
func (m *Machine) Run(ctx context.Context, s State, hook TurnHook) (State, error) {
	k := len(s.Agents)
	if k == 0 {
		return s, fmt.Errorf("%w: state has no agents", ErrConfig)
	}

	for {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		next, err := m.exec.RunTurn(ctx, s, s.Turn%k)
		if err != nil {
			return s, err
		}
		if hook != nil {
			hook(next, m.exec.FinalRound(s.Turn))
		}
		s = next

		if s.Turn%k == 0 && s.Turn/k >= m.exec.maxTurn {
			return s, nil
		}
	}
}

// Step describes one scheduled turn.
type Step struct {
	Turn  int
	Round int
	Agent string
	Final bool
}

// Plan lists the turns a run from the initial state will perform.
func (m *Machine) Plan() []Step {
	k := len(m.exec.agents)
	steps := make([]Step, 0, m.Turns())
	for t := 0; t < m.Turns(); t++ {
		steps = append(steps, Step{
			Turn:  t,
			Round: t / k,
			Agent: m.exec.agents[t%k],
			Final: m.exec.FinalRound(t),
		})
	}
	return steps
}
