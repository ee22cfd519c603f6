package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Schedule struct {
	Name       string     `json:"name"`
	Cron       string     `json:"cron"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func scanSchedule(sc scanner) (*Schedule, error) {
	sch := &Schedule{}
	var lastStatus, lastError, lastRunID *string
	err := sc.Scan(&sch.Name, &sch.Cron, &sch.Input, &sch.Output, &sch.Status,
		&sch.NextRunAt, &sch.LastRunAt, &lastStatus, &lastError, &lastRunID, &sch.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		sch.LastStatus = *lastStatus
	}
	if lastError != nil {
		sch.LastError = *lastError
	}
	if lastRunID != nil {
		sch.LastRunID = *lastRunID
	}
	return sch, nil
}

const scheduleColumns = `name, cron, input, output, status,
	next_run_at, last_run_at, last_status, last_error, last_run_id, created_at`

// SaveSchedule inserts or updates a schedule definition. The run history
// columns are left untouched on update.
func (s *Store) SaveSchedule(sch *Schedule) error {
	if sch.Status == "" {
		sch.Status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO schedules (name, cron, input, output, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			cron = excluded.cron,
			input = excluded.input,
			output = excluded.output,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sch.Name, sch.Cron, sch.Input, sch.Output, sch.Status, sch.NextRunAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(name string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name)
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sch, nil
}

func (s *Store) ListSchedules() ([]Schedule, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY name`)
}

func (s *Store) GetDueSchedules(now time.Time) ([]Schedule, error) {
	return s.querySchedules(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
}

func (s *Store) querySchedules(query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sch)
	}
	return schedules, rows.Err()
}

func (s *Store) UpdateScheduleRun(name, lastStatus, lastError, runID string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, last_run_id = ?, next_run_at = ?
		WHERE name = ?`, lastStatus, lastError, runID, nextRunAt, name)
	return err
}

func (s *Store) UpdateScheduleStatus(name, status string) error {
	_, err := s.db.Exec(`UPDATE schedules SET status = ? WHERE name = ?`, status, name)
	return err
}

// DeleteSchedulesNotIn removes schedules that are no longer configured.
func (s *Store) DeleteSchedulesNotIn(names []string) error {
	if len(names) == 0 {
		_, err := s.db.Exec(`DELETE FROM schedules`)
		return err
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	query := `DELETE FROM schedules WHERE name NOT IN (?` + strings.Repeat(",?", len(names)-1) + `)`
	_, err := s.db.Exec(query, args...)
	return err
}
