package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/scheduler"
	"github.com/mtzanidakis/juror/internal/store"
)

const defaultRunLimit = 50

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.cancelRun)
	mux.HandleFunc("GET /api/runs/{id}/results", s.getRunResults)
	mux.HandleFunc("GET /api/runs/{id}/items", s.getRunItems)
	mux.HandleFunc("GET /api/runs/{id}/items/{index}/turns", s.getItemTurns)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("PUT /api/schedules/{name}", s.updateSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	jsonResponse(w, runs)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		Input  string `json:"input"`
		Output string `json:"output"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	input, err := s.dataPath(body.Input)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	output, err := s.dataPath(body.Output)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.runner.Start(runner.Request{
		Name:    body.Name,
		Trigger: runner.TriggerWeb,
		Input:   input,
		Output:  output,
	})
	if errors.Is(err, runner.ErrNoPipeline) {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": store.RunRunning})
}

// dataPath resolves a client-supplied batch file inside the data directory.
// An empty path keeps the configured batch default.
func (s *Server) dataPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("path %q must be relative to the data directory", p)
	}
	return filepath.Join(s.cfg.DataDir, p), nil
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	jsonResponse(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if s.isActive(run.ID) {
		jsonError(w, "run is still active, cancel it first", http.StatusConflict)
		return
	}
	if err := s.store.DeleteRun(run.ID); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runner.Cancel(id) {
		jsonError(w, "run is not active", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "cancelling"})
}

func (s *Server) getRunResults(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	results, err := runner.Results(s.store, run.ID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, results)
}

func (s *Server) getRunItems(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	items, err := s.store.GetItemResults(run.ID, false)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.ItemResult{}
	}
	jsonResponse(w, items)
}

func (s *Server) getItemTurns(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		jsonError(w, "index must be a non-negative integer", http.StatusBadRequest)
		return
	}
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	turns, err := s.store.GetTurns(run.ID, index)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	jsonResponse(w, turns)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(schedules))
	for _, sch := range schedules {
		out = append(out, scheduleToAPI(sch))
	}
	jsonResponse(w, out)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sch, err := s.store.GetSchedule(name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sch == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		jsonError(w, "enabled is required", http.StatusBadRequest)
		return
	}
	status := "paused"
	if *body.Enabled {
		status = "active"
	}
	if err := s.store.UpdateScheduleStatus(name, status); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sch.Status = status
	jsonResponse(w, scheduleToAPI(*sch))
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	p := s.runner.Pipeline()
	if p == nil {
		jsonResponse(w, map[string]any{"agents": []string{}, "max_turn": 0})
		return
	}
	plan := p.Machine.Plan()
	jsonResponse(w, map[string]any{
		"agents":   p.Agents,
		"max_turn": p.MaxTurn,
		"turns":    len(plan),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.RunCounts()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	natsStatus := "disabled"
	if s.nats != nil {
		natsStatus = "ok"
	}

	agents := []string{}
	if p := s.runner.Pipeline(); p != nil {
		agents = p.Agents
	}

	status := map[string]any{
		"status":      "ok",
		"runs":        counts,
		"active_runs": s.runner.Active(),
		"agents":      agents,
		"ws_clients":  s.hub.Clients(),
		"uptime":      formatUptime(time.Since(s.startedAt)),
		"nats":        natsStatus,
		"vault":       s.keyring != nil,
		"timestamp":   time.Now().UTC(),
		"version":     s.version,
	}

	jsonResponse(w, status)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return nil, false
	}
	return run, true
}

func (s *Server) isActive(id string) bool {
	for _, a := range s.runner.Active() {
		if a == id {
			return true
		}
	}
	return false
}

func scheduleToAPI(sch store.Schedule) map[string]any {
	m := map[string]any{
		"name":             sch.Name,
		"cron":             sch.Cron,
		"schedule_display": scheduler.Describe(sch.Cron),
		"input":            sch.Input,
		"output":           sch.Output,
		"enabled":          sch.Status == "active",
		"status":           sch.Status,
		"last_status":      sch.LastStatus,
		"last_error":       sch.LastError,
		"last_run_id":      sch.LastRunID,
	}
	if sch.LastRunAt != nil {
		m["last_run"] = formatTime(*sch.LastRunAt)
	}
	if sch.NextRunAt != nil {
		m["next_run"] = formatTime(*sch.NextRunAt)
	}
	return m
}

func formatTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
