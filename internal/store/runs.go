package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Run struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Trigger     string          `json:"trigger"`
	Status      string          `json:"status"`
	Input       string          `json:"input"`
	Output      string          `json:"output"`
	Agents      json.RawMessage `json:"agents"`
	MaxTurn     int             `json:"max_turn"`
	ItemsTotal  int             `json:"items_total"`
	ItemsDone   int             `json:"items_done"`
	ItemsFailed int             `json:"items_failed"`
	Mismatches  int             `json:"mismatches"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func scanRun(sc scanner) (*Run, error) {
	r := &Run{}
	var agents string
	var errMsg *string
	err := sc.Scan(&r.ID, &r.Name, &r.Trigger, &r.Status, &r.Input, &r.Output, &agents, &r.MaxTurn,
		&r.ItemsTotal, &r.ItemsDone, &r.ItemsFailed, &r.Mismatches, &errMsg, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Agents = json.RawMessage(agents)
	if errMsg != nil {
		r.Error = *errMsg
	}
	return r, nil
}

const runColumns = `id, name, triggered_by, status, input, output, agents, max_turn,
	items_total, items_done, items_failed, mismatches, error, started_at, completed_at`

func (s *Store) CreateRun(r *Run) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	agents := r.Agents
	if len(agents) == 0 {
		agents = json.RawMessage("[]")
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, name, triggered_by, status, input, output, agents, max_turn, items_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Trigger, r.Status, r.Input, r.Output, string(agents), r.MaxTurn, r.ItemsTotal)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// SetRunTotal records the number of items once the input has been read.
func (s *Store) SetRunTotal(id string, total int) error {
	_, err := s.db.Exec(`UPDATE runs SET items_total = ? WHERE id = ?`, total, id)
	if err != nil {
		return fmt.Errorf("set run total: %w", err)
	}
	return nil
}

func (s *Store) UpdateRunProgress(id string, done, failed, mismatches int) error {
	_, err := s.db.Exec(`
		UPDATE runs SET items_done = ?, items_failed = ?, mismatches = ?
		WHERE id = ?`, done, failed, mismatches, id)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(id, status, errMsg string) error {
	var e *string
	if errMsg != "" {
		e = &errMsg
	}
	_, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, error = ?,
		    completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`, status, e, status, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RunCounts returns the number of runs per status.
func (s *Store) RunCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteRun removes a run together with its item results and turns.
func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM turns WHERE run_id = ?`,
		`DELETE FROM item_results WHERE run_id = ?`,
		`DELETE FROM runs WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
	}
	return tx.Commit()
}

// FailStaleRuns marks runs left in the running state by a previous process
// as failed.
func (s *Store) FailStaleRuns() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs SET status = 'failed', error = 'interrupted', completed_at = CURRENT_TIMESTAMP
		WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	return res.RowsAffected()
}
