package prompt

import (
	"strings"
	"testing"
)

func TestRenderAllSlots(t *testing.T) {
	tmpl, err := Parse("[Question]\n{source_text}\n[A1]\n{compared_text_one}\n[A2]\n{compared_text_two}",
		"{agent_name}: {role_description}\n{chat_history}\n{final_prompt}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	msgs := tmpl.Render(Vars{
		SourceText:      "Q",
		CompareOne:      "one",
		CompareTwo:      "two",
		ChatHistory:     []string{"first", "second"},
		RoleDescription: "a critic",
		AgentName:       "Critic",
		FinalPrompt:     "Give scores.",
	})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0] != "[Question]\nQ\n[A1]\none\n[A2]\ntwo" {
		t.Errorf("unexpected first message: %q", msgs[0])
	}
	if msgs[1] != "Critic: a critic\nfirst\n\nsecond\nGive scores." {
		t.Errorf("unexpected second message: %q", msgs[1])
	}
}

func TestTextJoinsWithNewline(t *testing.T) {
	tmpl, err := Parse("a {agent_name}", "b")
	if err != nil {
		t.Fatal(err)
	}
	if got := tmpl.Text(Vars{AgentName: "x"}); got != "a x\nb" {
		t.Errorf("expected %q, got %q", "a x\nb", got)
	}
}

func TestEscapedBraces(t *testing.T) {
	tmpl, err := Parse(`Output format: {{"score": [x, y]}} for {agent_name}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := tmpl.Text(Vars{AgentName: "Critic"})
	want := `Output format: {"score": [x, y]} for Critic`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestEmptyFinalPrompt(t *testing.T) {
	tmpl, err := Parse("{role_description}{final_prompt}")
	if err != nil {
		t.Fatal(err)
	}
	if got := tmpl.Text(Vars{RoleDescription: "r"}); got != "r" {
		t.Errorf("expected %q, got %q", "r", got)
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"{question}",
		"hello {source_text",
		"oops } here",
		"{}",
	}
	for _, src := range bad {
		if _, err := Parse(src); err == nil {
			t.Errorf("expected parse error for %q", src)
		}
	}
	if _, err := Parse(); err == nil {
		t.Error("expected error for template without messages")
	}
}

func TestUses(t *testing.T) {
	tmpl, err := Parse("{source_text}", "{final_prompt}")
	if err != nil {
		t.Fatal(err)
	}
	if !tmpl.Uses(SlotFinalPrompt) {
		t.Error("expected template to use final_prompt")
	}
	if tmpl.Uses(SlotChatHistory) {
		t.Error("did not expect template to use chat_history")
	}
}

func TestEmptyHistory(t *testing.T) {
	tmpl, err := Parse("[{chat_history}]")
	if err != nil {
		t.Fatal(err)
	}
	if got := tmpl.Text(Vars{}); got != "[]" {
		t.Errorf("expected empty history slot, got %q", got)
	}
	if strings.Contains(tmpl.Text(Vars{ChatHistory: []string{"x"}}), HistorySeparator) {
		t.Error("single history entry should not contain separator")
	}
}
