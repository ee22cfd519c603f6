package natsbus

import (
	"fmt"
	"strings"
)

// Topic patterns for NATS pub/sub communication.

// TopicAgentGenerate is the request subject served by the remote worker of
// an agent. Agent names may contain spaces and dots, so they are slugged.
func TopicAgentGenerate(agent string) string {
	return fmt.Sprintf("agent.%s.generate", Slug(agent))
}

func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

func TopicEventsSecret(event string) string {
	return fmt.Sprintf("events.secret.%s", event)
}

const (
	TopicEventsAll              = "events.>"
	TopicEventsRuns             = "events.run.*"
	TopicEventsScheduleExecuted = "events.schedule.executed"

	// QueueWorkers groups the workers of one agent so each request is
	// answered once.
	QueueWorkers = "juror-workers"
)

// Slug lowercases name and replaces every character that is not a letter or
// digit with a dash.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
