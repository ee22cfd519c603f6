package store

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	ItemOK     = "ok"
	ItemFailed = "failed"
)

type ItemResult struct {
	RunID      string          `json:"run_id"`
	Index      int             `json:"index"`
	Status     string          `json:"status"`
	Question   string          `json:"question"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Mismatches int             `json:"mismatches"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (s *Store) SaveItemResult(r *ItemResult) error {
	var result, errMsg *string
	if len(r.Result) > 0 {
		v := string(r.Result)
		result = &v
	}
	if r.Error != "" {
		errMsg = &r.Error
	}
	_, err := s.db.Exec(`
		INSERT INTO item_results (run_id, item_index, status, question, result, error, mismatches)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, item_index) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			mismatches = excluded.mismatches`,
		r.RunID, r.Index, r.Status, r.Question, result, errMsg, r.Mismatches)
	if err != nil {
		return fmt.Errorf("save item result: %w", err)
	}
	return nil
}

// GetItemResults returns the results of a run ordered by item index.
// Only items with status ok are returned when okOnly is set.
func (s *Store) GetItemResults(runID string, okOnly bool) ([]ItemResult, error) {
	query := `
		SELECT run_id, item_index, status, question, result, error, mismatches, created_at
		FROM item_results WHERE run_id = ?`
	if okOnly {
		query += ` AND status = 'ok'`
	}
	query += ` ORDER BY item_index`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("get item results: %w", err)
	}
	defer rows.Close()

	var results []ItemResult
	for rows.Next() {
		var r ItemResult
		var result, errMsg *string
		if err := rows.Scan(&r.RunID, &r.Index, &r.Status, &r.Question, &result, &errMsg, &r.Mismatches, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item result: %w", err)
		}
		if result != nil {
			r.Result = json.RawMessage(*result)
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type Turn struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Index     int       `json:"index"`
	Turn      int       `json:"turn"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Final     bool      `json:"final"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveTurn(t *Turn) error {
	result, err := s.db.Exec(`
		INSERT INTO turns (run_id, item_index, turn, role, content, final)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Index, t.Turn, t.Role, t.Content, boolToInt(t.Final))
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	t.ID, _ = result.LastInsertId()
	return nil
}

// GetTurns returns the conversation of one item in turn order.
func (s *Store) GetTurns(runID string, index int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, item_index, turn, role, content, final, created_at
		FROM turns
		WHERE run_id = ? AND item_index = ?
		ORDER BY turn, id`, runID, index)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var final int
		if err := rows.Scan(&t.ID, &t.RunID, &t.Index, &t.Turn, &t.Role, &t.Content, &final, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Final = final == 1
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
