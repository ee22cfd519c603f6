package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/store"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	msg := strings.Repeat("a", 4096)
	chunks = chunkMessage(msg, 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	chunks = chunkMessage(strings.Repeat("a", 8192), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}

	// Split at newline
	b := []byte(strings.Repeat("a", 5000))
	b[3000] = '\n'
	chunks = chunkMessage(string(b), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 { // Up to and including the newline
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestFormatSummary(t *testing.T) {
	sum := runner.Summary{
		RunID:      "0123456789abcdef",
		Name:       "nightly",
		Status:     store.RunCompleted,
		Items:      3,
		Done:       3,
		Mismatches: 1,
		Scores: []runner.AgentScore{
			{Agent: "Critic", Mean: [2]float64{7.5, 6}, Items: 3},
			{Agent: "General Public", Items: 0},
		},
		Output:   "out.json",
		Duration: 1500 * time.Millisecond,
	}
	got := FormatSummary(sum)
	for _, want := range []string{
		"Run nightly completed (01234567)",
		"Items: 3/3 done, 0 failed, 1 mismatches",
		"Critic: 7.50 / 6.00 over 3 items",
		"General Public: no scores",
		"Output: out.json",
		"Duration: 2s",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in\n%s", want, got)
		}
	}

	sum.Status = store.RunFailed
	sum.Output = ""
	sum.Error = "batch aborted: boom"
	got = FormatSummary(sum)
	if !strings.Contains(got, "Error: batch aborted: boom") || strings.Contains(got, "Output:") {
		t.Errorf("unexpected failed summary\n%s", got)
	}
}

func TestFormatRuns(t *testing.T) {
	if got := FormatRuns(nil); got != "No runs yet" {
		t.Errorf("unexpected empty listing %q", got)
	}
	got := FormatRuns([]store.Run{
		{ID: "aaaaaaaa-1", Name: "one", Status: store.RunCompleted, ItemsDone: 2, ItemsTotal: 2},
		{ID: "bbbbbbbb-2", Name: "two", Status: store.RunRunning, ItemsDone: 1, ItemsTotal: 4},
	})
	want := "aaaaaaaa one completed: 2/2 done, 0 failed\nbbbbbbbb two running: 1/4 done, 0 failed"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		cmd, arg string
		ok       bool
	}{
		{"/run", "run", "", true},
		{"/run data/test.json", "run", "data/test.json", true},
		{"/Runs@juror_bot", "runs", "", true},
		{"  /cancel  abc ", "cancel", "abc", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		cmd, arg, ok := parseCommand(tt.in)
		if cmd != tt.cmd || arg != tt.arg || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %q, %v", tt.in, cmd, arg, ok)
		}
	}
}

func TestResolveActive(t *testing.T) {
	active := []string{"abc123", "abd456"}
	if got := resolveActive(active, "abc"); got != "abc123" {
		t.Errorf("expected unique prefix match, got %q", got)
	}
	if got := resolveActive(active, "ab"); got != "" {
		t.Errorf("expected ambiguous prefix to fail, got %q", got)
	}
	if got := resolveActive(active, "abd456"); got != "abd456" {
		t.Errorf("expected exact match, got %q", got)
	}
}

func TestAllowed(t *testing.T) {
	b := &Bot{cfg: config.TelegramConfig{ChatIDs: []int64{42, -100}}}
	if !b.allowed(42) || !b.allowed(-100) {
		t.Error("expected configured chats to be allowed")
	}
	if b.allowed(7) {
		t.Error("expected unknown chat to be rejected")
	}
}

func TestNewBotNeedsChats(t *testing.T) {
	if _, err := NewBot(config.TelegramConfig{Token: "123:abc"}, nil); err == nil {
		t.Fatal("expected error without chat ids")
	}
}
