package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/store"
)

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

// FormatSummary renders a finished run as a plain-text message.
func FormatSummary(sum runner.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s %s (%s)\n", sum.Name, sum.Status, shortID(sum.RunID))
	fmt.Fprintf(&b, "Items: %d/%d done, %d failed, %d mismatches\n", sum.Done, sum.Items, sum.Failed, sum.Mismatches)
	for _, s := range sum.Scores {
		if s.Items == 0 {
			fmt.Fprintf(&b, "%s: no scores\n", s.Agent)
			continue
		}
		fmt.Fprintf(&b, "%s: %.2f / %.2f over %d items\n", s.Agent, s.Mean[0], s.Mean[1], s.Items)
	}
	if sum.Output != "" {
		fmt.Fprintf(&b, "Output: %s\n", sum.Output)
	}
	if sum.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", sum.Error)
	}
	fmt.Fprintf(&b, "Duration: %s", sum.Duration.Round(time.Second))
	return b.String()
}

// FormatRuns renders one line per run.
func FormatRuns(runs []store.Run) string {
	if len(runs) == 0 {
		return "No runs yet"
	}
	var b strings.Builder
	for i, r := range runs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s %s: %d/%d done, %d failed",
			shortID(r.ID), r.Name, r.Status, r.ItemsDone, r.ItemsTotal, r.ItemsFailed)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
