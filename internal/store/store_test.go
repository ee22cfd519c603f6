package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/juror/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRun(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.CreateRun(&Run{
		ID:      id,
		Name:    "test",
		Trigger: "cli",
		Input:   "in.json",
		Output:  "out.json",
		Agents:  json.RawMessage(`["General Public","Critic"]`),
		MaxTurn: 2,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	newTestRun(t, s, "run-1")

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Status != RunRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if string(got.Agents) != `["General Public","Critic"]` {
		t.Errorf("unexpected agents %s", got.Agents)
	}
	if got.CompletedAt != nil {
		t.Error("expected no completion time for running run")
	}

	if err := s.SetRunTotal("run-1", 3); err != nil {
		t.Fatalf("set total: %v", err)
	}
	if err := s.UpdateRunProgress("run-1", 2, 1, 1); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if err := s.FinishRun("run-1", RunCompleted, ""); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, _ = s.GetRun("run-1")
	if got.Status != RunCompleted {
		t.Errorf("expected status completed, got %s", got.Status)
	}
	if got.ItemsTotal != 3 || got.ItemsDone != 2 || got.ItemsFailed != 1 || got.Mismatches != 1 {
		t.Errorf("unexpected counters %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion time")
	}
	if got.Error != "" {
		t.Errorf("expected no error, got %q", got.Error)
	}
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRun("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListRunsAndCounts(t *testing.T) {
	s := newTestStore(t)
	newTestRun(t, s, "a")
	newTestRun(t, s, "b")
	newTestRun(t, s, "c")
	_ = s.FinishRun("a", RunFailed, "backend down")
	_ = s.FinishRun("b", RunCompleted, "")

	runs, err := s.ListRuns(0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "c" {
		t.Errorf("expected newest run first, got %s", runs[0].ID)
	}

	limited, _ := s.ListRuns(2)
	if len(limited) != 2 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}

	counts, err := s.RunCounts()
	if err != nil {
		t.Fatalf("run counts: %v", err)
	}
	if counts[RunFailed] != 1 || counts[RunCompleted] != 1 || counts[RunRunning] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	failed, _ := s.GetRun("a")
	if failed.Error != "backend down" {
		t.Errorf("expected error message, got %q", failed.Error)
	}
}

func TestFailStaleRuns(t *testing.T) {
	s := newTestStore(t)
	newTestRun(t, s, "a")
	newTestRun(t, s, "b")
	_ = s.FinishRun("b", RunCompleted, "")

	n, err := s.FailStaleRuns()
	if err != nil {
		t.Fatalf("fail stale: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stale run, got %d", n)
	}
	got, _ := s.GetRun("a")
	if got.Status != RunFailed || got.Error != "interrupted" {
		t.Errorf("unexpected stale run %+v", got)
	}
}

func TestItemResultsAndTurns(t *testing.T) {
	s := newTestStore(t)
	newTestRun(t, s, "run-1")

	results := []*ItemResult{
		{RunID: "run-1", Index: 1, Status: ItemFailed, Question: "q2", Error: "timeout"},
		{RunID: "run-1", Index: 0, Status: ItemOK, Question: "q1", Result: json.RawMessage(`{"question":"q1"}`), Mismatches: 1},
	}
	for _, r := range results {
		if err := s.SaveItemResult(r); err != nil {
			t.Fatalf("save item result: %v", err)
		}
	}

	all, err := s.GetItemResults("run-1", false)
	if err != nil {
		t.Fatalf("get item results: %v", err)
	}
	if len(all) != 2 || all[0].Index != 0 || all[1].Index != 1 {
		t.Fatalf("expected results ordered by index, got %+v", all)
	}
	if string(all[0].Result) != `{"question":"q1"}` || all[0].Mismatches != 1 {
		t.Errorf("unexpected first result %+v", all[0])
	}
	if all[1].Error != "timeout" || all[1].Result != nil {
		t.Errorf("unexpected failed result %+v", all[1])
	}

	ok, _ := s.GetItemResults("run-1", true)
	if len(ok) != 1 || ok[0].Index != 0 {
		t.Errorf("expected only ok results, got %+v", ok)
	}

	// Upsert replaces the failed item
	_ = s.SaveItemResult(&ItemResult{RunID: "run-1", Index: 1, Status: ItemOK, Question: "q2", Result: json.RawMessage(`{}`)})
	ok, _ = s.GetItemResults("run-1", true)
	if len(ok) != 2 {
		t.Errorf("expected upsert to replace failed item, got %d ok results", len(ok))
	}

	for i, role := range []string{"General Public", "Critic", "General Public", "Critic"} {
		turn := &Turn{RunID: "run-1", Index: 0, Turn: i, Role: role, Content: "reply", Final: i >= 2}
		if err := s.SaveTurn(turn); err != nil {
			t.Fatalf("save turn: %v", err)
		}
		if turn.ID == 0 {
			t.Error("expected turn id to be set")
		}
	}
	turns, err := s.GetTurns("run-1", 0)
	if err != nil {
		t.Fatalf("get turns: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	if turns[1].Role != "Critic" || turns[1].Final || !turns[3].Final {
		t.Errorf("unexpected turns %+v", turns)
	}
	if other, _ := s.GetTurns("run-1", 1); len(other) != 0 {
		t.Errorf("expected no turns for item 1, got %d", len(other))
	}

	if err := s.DeleteRun("run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if got, _ := s.GetRun("run-1"); got != nil {
		t.Error("expected run to be deleted")
	}
	if left, _ := s.GetItemResults("run-1", false); len(left) != 0 {
		t.Errorf("expected item results to be deleted, got %d", len(left))
	}
	if left, _ := s.GetTurns("run-1", 0); len(left) != 0 {
		t.Errorf("expected turns to be deleted, got %d", len(left))
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	future := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	if err := s.SaveSchedule(&Schedule{Name: "nightly", Cron: "0 3 * * *", Input: "in.json", NextRunAt: &past}); err != nil {
		t.Fatalf("save schedule: %v", err)
	}
	if err := s.SaveSchedule(&Schedule{Name: "weekly", Cron: "0 3 * * 0", NextRunAt: &future}); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	got, err := s.GetSchedule("nightly")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.Status != "active" || got.Input != "in.json" {
		t.Errorf("unexpected schedule %+v", got)
	}

	due, err := s.GetDueSchedules(time.Now().UTC())
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 1 || due[0].Name != "nightly" {
		t.Fatalf("expected nightly due, got %+v", due)
	}

	if err := s.UpdateScheduleRun("nightly", "completed", "", "run-1", &future); err != nil {
		t.Fatalf("update schedule run: %v", err)
	}
	got, _ = s.GetSchedule("nightly")
	if got.LastStatus != "completed" || got.LastRunID != "run-1" || got.LastRunAt == nil {
		t.Errorf("unexpected schedule after run %+v", got)
	}
	due, _ = s.GetDueSchedules(time.Now().UTC())
	if len(due) != 0 {
		t.Errorf("expected nothing due, got %d", len(due))
	}

	// Redefining keeps history
	_ = s.SaveSchedule(&Schedule{Name: "nightly", Cron: "0 4 * * *", NextRunAt: &future})
	got, _ = s.GetSchedule("nightly")
	if got.Cron != "0 4 * * *" || got.LastRunID != "run-1" {
		t.Errorf("expected cron update with history kept, got %+v", got)
	}

	_ = s.UpdateScheduleStatus("weekly", "paused")
	list, _ := s.ListSchedules()
	if len(list) != 2 || list[1].Status != "paused" {
		t.Errorf("unexpected schedules %+v", list)
	}

	if err := s.DeleteSchedulesNotIn([]string{"weekly"}); err != nil {
		t.Fatalf("delete schedules: %v", err)
	}
	list, _ = s.ListSchedules()
	if len(list) != 1 || list[0].Name != "weekly" {
		t.Errorf("expected only weekly to remain, got %+v", list)
	}
	_ = s.DeleteSchedulesNotIn(nil)
	list, _ = s.ListSchedules()
	if len(list) != 0 {
		t.Errorf("expected no schedules, got %d", len(list))
	}
}

func TestSecretCRUD(t *testing.T) {
	s := newTestStore(t)

	sec := &Secret{Name: "openai", Description: "OpenAI key", Value: []byte{1, 2, 3}, Nonce: []byte{4, 5}}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("save secret: %v", err)
	}

	got, err := s.GetSecret("openai")
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if got == nil || string(got.Value) != "\x01\x02\x03" || string(got.Nonce) != "\x04\x05" {
		t.Fatalf("unexpected secret %+v", got)
	}

	sec.Value = []byte{9}
	_ = s.SaveSecret(sec)
	got, _ = s.GetSecret("openai")
	if string(got.Value) != "\x09" {
		t.Errorf("expected updated value, got %v", got.Value)
	}

	list, err := s.ListSecrets()
	if err != nil {
		t.Fatalf("list secrets: %v", err)
	}
	if len(list) != 1 || list[0].Value != nil || list[0].Description != "OpenAI key" {
		t.Errorf("expected metadata only, got %+v", list)
	}

	if err := s.DeleteSecret("openai"); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	if got, _ := s.GetSecret("openai"); got != nil {
		t.Error("expected secret to be deleted")
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	newTestRun(t, s, "run-1")

	path := filepath.Join(t.TempDir(), "snap.db")
	if err := s.Snapshot(path); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	copied, err := New(config.StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer copied.Close()
	run, err := copied.GetRun("run-1")
	if err != nil || run == nil {
		t.Fatalf("expected run in snapshot, got %v, %v", run, err)
	}

	if err := s.Snapshot(path); err == nil {
		t.Error("expected error when snapshot target exists")
	}
}
