package debate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/juror/internal/prompt"
)

const finalDirective = "FINAL: output your scores as (x, y)."

// recorder is a Generator that remembers every prompt it receives.
type recorder struct {
	name    string
	mu      sync.Mutex
	prompts []string
	failAt  int // fail on the n-th call (1-based), 0 = never
}

func (r *recorder) Generate(_ context.Context, p string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, p)
	if r.failAt > 0 && len(r.prompts) == r.failAt {
		return "", errors.New("backend unavailable")
	}
	return fmt.Sprintf("%s reply %d (%d, %d)", r.name, len(r.prompts), len(r.prompts), 10-len(r.prompts)), nil
}

func testTemplate(t *testing.T) *prompt.Template {
	t.Helper()
	tmpl, err := prompt.Parse("Q: {source_text}\nA1: {compared_text_one}\nA2: {compared_text_two}",
		"You are {agent_name}. {role_description}\nHistory:\n{chat_history}\n{final_prompt}")
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	return tmpl
}

func newTestMachine(t *testing.T, maxTurn int, gens ...*recorder) *Machine {
	t.Helper()
	agents := make([]string, len(gens))
	roles := make(map[string]string, len(gens))
	bound := make(map[string]Generator, len(gens))
	for i, g := range gens {
		agents[i] = g.name
		roles[g.name] = "role of " + g.name
		bound[g.name] = g
	}
	m, err := NewMachine(Options{
		Agents:      agents,
		Roles:       roles,
		Template:    testTemplate(t),
		FinalPrompt: finalDirective,
		MaxTurn:     maxTurn,
		Generators:  bound,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return m
}

func initial(m *Machine) State {
	roles := make(map[string]string)
	for _, a := range m.exec.agents {
		roles[a] = "role of " + a
	}
	return NewState("S", "A", "B", m.exec.Agents(), roles)
}

func TestVisibleHistory(t *testing.T) {
	if got := VisibleHistory(nil, "Critic"); len(got) != 0 {
		t.Errorf("expected empty output for empty history, got %v", got)
	}

	private := []ChatMessage{
		{Role: "a", Receiver: []string{"Scientist"}, Content: "x"},
		{Role: "b", Receiver: []string{"Psychologist", "Scientist"}, Content: "y"},
	}
	if got := VisibleHistory(private, "Critic"); len(got) != 0 {
		t.Errorf("expected no visible messages, got %v", got)
	}

	broadcast := []ChatMessage{
		{Role: "a", Receiver: []string{Broadcast}, Content: "1"},
		{Role: "b", Receiver: []string{Broadcast}, Content: "2"},
		{Role: "c", Receiver: []string{Broadcast}, Content: "3"},
	}
	got := VisibleHistory(broadcast, "Critic")
	if strings.Join(got, ",") != "1,2,3" {
		t.Errorf("expected all messages in order, got %v", got)
	}

	mixed := []ChatMessage{
		{Role: "a", Receiver: []string{Broadcast}, Content: "public"},
		{Role: "b", Receiver: []string{"Scientist"}, Content: "hidden"},
		{Role: "c", Receiver: []string{"Critic"}, Content: "direct"},
		{Role: "d", Receiver: []string{Broadcast, "Scientist"}, Content: "not broadcast"},
		{Role: "e", Receiver: []string{Broadcast, "Critic"}, Content: "listed"},
	}
	got = VisibleHistory(mixed, "Critic")
	if strings.Join(got, ",") != "public,direct,listed" {
		t.Errorf("unexpected visible history: %v", got)
	}
}

func TestMachineRunsExactTurns(t *testing.T) {
	cases := []struct{ agents, maxTurn int }{
		{1, 1}, {1, 3}, {2, 2}, {3, 2}, {5, 1},
	}
	for _, c := range cases {
		gens := make([]*recorder, c.agents)
		for i := range gens {
			gens[i] = &recorder{name: fmt.Sprintf("agent%d", i)}
		}
		m := newTestMachine(t, c.maxTurn, gens...)

		final, err := m.Run(context.Background(), initial(m), nil)
		if err != nil {
			t.Fatalf("k=%d m=%d: run: %v", c.agents, c.maxTurn, err)
		}
		want := c.agents * c.maxTurn
		if final.Turn != want {
			t.Errorf("k=%d m=%d: expected turn %d, got %d", c.agents, c.maxTurn, want, final.Turn)
		}
		if len(final.History) != want {
			t.Errorf("k=%d m=%d: expected %d messages, got %d", c.agents, c.maxTurn, want, len(final.History))
		}
		for _, g := range gens {
			if len(g.prompts) != c.maxTurn {
				t.Errorf("k=%d m=%d: %s called %d times, want %d", c.agents, c.maxTurn, g.name, len(g.prompts), c.maxTurn)
			}
		}
		if m.Turns() != want {
			t.Errorf("Turns() = %d, want %d", m.Turns(), want)
		}
	}
}

func TestFinalDirectiveOnLastRoundOnly(t *testing.T) {
	gp := &recorder{name: "General Public"}
	critic := &recorder{name: "Critic"}
	m := newTestMachine(t, 2, gp, critic)

	var order []string
	var finals []bool
	final, err := m.Run(context.Background(), initial(m), func(s State, isFinal bool) {
		order = append(order, s.History[len(s.History)-1].Role)
		finals = append(finals, isFinal)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.Turn != 4 {
		t.Fatalf("expected 4 turns, got %d", final.Turn)
	}

	if strings.Join(order, ",") != "General Public,Critic,General Public,Critic" {
		t.Errorf("unexpected speaking order: %v", order)
	}

	// turns 0,1 are round 0; turns 2,3 are round 1 (the last)
	for i, p := range []string{gp.prompts[0], critic.prompts[0]} {
		if strings.Contains(p, finalDirective) {
			t.Errorf("turn %d: final directive present in round 0", i)
		}
	}
	for i, p := range []string{gp.prompts[1], critic.prompts[1]} {
		if !strings.Contains(p, finalDirective) {
			t.Errorf("turn %d: final directive missing in round 1", i+2)
		}
	}
	if fmt.Sprint(finals) != "[false false true true]" {
		t.Errorf("unexpected final flags: %v", finals)
	}
}

func TestFinalDirectiveSingleRound(t *testing.T) {
	a := &recorder{name: "a"}
	b := &recorder{name: "b"}
	m := newTestMachine(t, 1, a, b)

	if _, err := m.Run(context.Background(), initial(m), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, g := range []*recorder{a, b} {
		if !strings.Contains(g.prompts[0], finalDirective) {
			t.Errorf("%s: expected final directive with max_turn=1", g.name)
		}
	}
}

func TestPromptsCarryVisibleHistory(t *testing.T) {
	gp := &recorder{name: "General Public"}
	critic := &recorder{name: "Critic"}
	m := newTestMachine(t, 2, gp, critic)

	if _, err := m.Run(context.Background(), initial(m), nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if strings.Contains(gp.prompts[0], "reply") {
		t.Error("first prompt should have empty history")
	}
	if !strings.Contains(critic.prompts[0], "General Public reply 1") {
		t.Error("critic should see general public's first reply")
	}
	if !strings.Contains(gp.prompts[1], "Critic reply 1") {
		t.Error("second round prompt should include critic's reply")
	}
	if !strings.Contains(critic.prompts[0], "You are Critic. role of Critic") {
		t.Errorf("prompt missing role description: %q", critic.prompts[0])
	}
	if !strings.HasPrefix(gp.prompts[0], "Q: S\nA1: A\nA2: B\n") {
		t.Errorf("prompt missing item texts: %q", gp.prompts[0])
	}
}

func TestExecutorOwnsRoles(t *testing.T) {
	gp := &recorder{name: "General Public"}
	roles := map[string]string{"General Public": "You like stories."}
	m, err := NewMachine(Options{
		Agents:     []string{"General Public"},
		Roles:      roles,
		Template:   testTemplate(t),
		MaxTurn:    1,
		Generators: map[string]Generator{"General Public": gp},
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	roles["General Public"] = "changed after construction"

	s := m.Executor().NewState("S", "A", "B")
	if s.Turn != 0 || len(s.History) != 0 || len(s.Agents) != 1 {
		t.Fatalf("unexpected initial state %+v", s)
	}
	if s.Roles["General Public"] != "You like stories." {
		t.Errorf("expected validated role in state, got %q", s.Roles["General Public"])
	}

	// A state built without roles still renders the validated description.
	bare := NewState("S", "A", "B", []string{"General Public"}, nil)
	if _, err := m.Run(context.Background(), bare, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(gp.prompts[0], "You are General Public. You like stories.") {
		t.Errorf("prompt missing role description: %q", gp.prompts[0])
	}
}

func TestBackendFailurePropagates(t *testing.T) {
	a := &recorder{name: "a"}
	b := &recorder{name: "b", failAt: 2}
	m := newTestMachine(t, 2, a, b)

	s, err := m.Run(context.Background(), initial(m), nil)
	if err == nil {
		t.Fatal("expected backend error")
	}
	if !errors.Is(err, ErrBackend) {
		t.Errorf("expected ErrBackend, got %v", err)
	}
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BackendError, got %T", err)
	}
	if be.Agent != "b" || be.Turn != 3 {
		t.Errorf("expected failure at turn 3 by b, got turn %d by %s", be.Turn, be.Agent)
	}
	if s.Turn != 3 {
		t.Errorf("expected state at turn 3 after failure, got %d", s.Turn)
	}
}

func TestCallTimeout(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	exec, err := NewExecutor(Options{
		Agents:      []string{"slow"},
		Roles:       map[string]string{"slow": ""},
		Template:    testTemplate(t),
		MaxTurn:     1,
		Generators:  map[string]Generator{"slow": slow},
		CallTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	s := NewState("S", "A", "B", []string{"slow"}, map[string]string{"slow": ""})
	_, err = exec.RunTurn(context.Background(), s, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !errors.Is(err, ErrBackend) {
		t.Errorf("expected timeout to be reported as backend failure, got %v", err)
	}
}

func TestRunTurnCopyOnWrite(t *testing.T) {
	a := &recorder{name: "a"}
	m := newTestMachine(t, 3, a)
	exec := m.Executor()

	s0 := initial(m)
	s1, err := exec.RunTurn(context.Background(), s0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(s0.History) != 0 || s0.Turn != 0 {
		t.Fatal("RunTurn mutated its input state")
	}

	left, err := exec.RunTurn(context.Background(), s1, 0)
	if err != nil {
		t.Fatal(err)
	}
	right, err := exec.RunTurn(context.Background(), s1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if left.History[1].Content == right.History[1].Content {
		t.Fatal("expected distinct replies from successive calls")
	}
	if len(s1.History) != 1 {
		t.Errorf("expected s1 to keep 1 message, got %d", len(s1.History))
	}
	if left.History[0].Content != right.History[0].Content {
		t.Error("branches from the same state interfered with each other")
	}
}

func TestRunTurnRejectsWrongIndex(t *testing.T) {
	m := newTestMachine(t, 1, &recorder{name: "a"}, &recorder{name: "b"})
	_, err := m.Executor().RunTurn(context.Background(), initial(m), 1)
	if !errors.Is(err, ErrTurnOrder) {
		t.Fatalf("expected ErrTurnOrder, got %v", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	m := newTestMachine(t, 2, &recorder{name: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Run(ctx, initial(m), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewMachineConfigErrors(t *testing.T) {
	tmpl := testTemplate(t)
	gen := GeneratorFunc(func(context.Context, string) (string, error) { return "", nil })

	cases := map[string]Options{
		"no agents": {
			Template: tmpl, MaxTurn: 1,
		},
		"zero max turn": {
			Agents: []string{"a"}, Roles: map[string]string{"a": ""},
			Template: tmpl, Generators: map[string]Generator{"a": gen},
		},
		"negative max turn": {
			Agents: []string{"a"}, Roles: map[string]string{"a": ""},
			Template: tmpl, MaxTurn: -1, Generators: map[string]Generator{"a": gen},
		},
		"backend count mismatch": {
			Agents: []string{"a", "b"}, Roles: map[string]string{"a": "", "b": ""},
			Template: tmpl, MaxTurn: 1, Generators: map[string]Generator{"a": gen},
		},
		"unbound agent": {
			Agents: []string{"a", "b"}, Roles: map[string]string{"a": "", "b": ""},
			Template: tmpl, MaxTurn: 1, Generators: map[string]Generator{"a": gen, "c": gen},
		},
		"missing role": {
			Agents: []string{"a"}, Roles: map[string]string{},
			Template: tmpl, MaxTurn: 1, Generators: map[string]Generator{"a": gen},
		},
		"duplicate agent": {
			Agents: []string{"a", "a"}, Roles: map[string]string{"a": ""},
			Template: tmpl, MaxTurn: 1, Generators: map[string]Generator{"a": gen, "b": gen},
		},
		"no template": {
			Agents: []string{"a"}, Roles: map[string]string{"a": ""},
			MaxTurn: 1, Generators: map[string]Generator{"a": gen},
		},
	}
	for name, opts := range cases {
		if _, err := NewMachine(opts); !errors.Is(err, ErrConfig) {
			t.Errorf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}

func TestPlan(t *testing.T) {
	m := newTestMachine(t, 2, &recorder{name: "General Public"}, &recorder{name: "Critic"})
	steps := m.Plan()
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}
	if steps[2].Agent != "General Public" || steps[2].Round != 1 || !steps[2].Final {
		t.Errorf("unexpected step 2: %+v", steps[2])
	}
	if steps[1].Final {
		t.Error("step 1 should not be final")
	}
}

func TestLastRound(t *testing.T) {
	m := newTestMachine(t, 2, &recorder{name: "a"}, &recorder{name: "b"})
	s, err := m.Run(context.Background(), initial(m), nil)
	if err != nil {
		t.Fatal(err)
	}
	last := s.LastRound()
	if len(last) != 2 || last[0].Role != "a" || last[1].Role != "b" {
		t.Fatalf("unexpected last round: %+v", last)
	}
	if last[0].Content != "a reply 2 (2, 8)" {
		t.Errorf("expected second reply of a, got %q", last[0].Content)
	}
	if s.Round() != 2 {
		t.Errorf("expected round 2, got %d", s.Round())
	}
}
