package runner

import (
	"context"
	"time"
)

// Triggers recorded on a run.
const (
	TriggerCLI       = "cli"
	TriggerWeb       = "web"
	TriggerScheduler = "scheduler"
	TriggerTelegram  = "telegram"
)

type Request struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Trigger string `json:"trigger"`
	Input   string `json:"input"`
	Output  string `json:"output"`
}

// AgentScore is the mean score pair one agent gave over a run.
type AgentScore struct {
	Agent string     `json:"agent"`
	Mean  [2]float64 `json:"mean"`
	Items int        `json:"items"`
}

// Summary describes a finished run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	Items      int           `json:"items"`
	Done       int           `json:"done"`
	Failed     int           `json:"failed"`
	Mismatches int           `json:"mismatches"`
	Scores     []AgentScore  `json:"scores,omitempty"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, s Summary) error
}
