package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const everyPrefix = "@every "

// Validate checks a schedule expression: a cron expression understood by
// gronx, or "@every <duration>".
func Validate(expr string) error {
	expr = strings.TrimSpace(expr)
	if d, ok, err := interval(expr); ok {
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("interval must be positive: %s", expr)
		}
		return nil
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	return nil
}

// NextRun returns the first time after ref at which expr fires.
func NextRun(expr string, ref time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if d, ok, err := interval(expr); ok {
		if err != nil {
			return time.Time{}, err
		}
		return ref.Add(d), nil
	}
	return gronx.NextTickAfter(expr, ref, false)
}

// Describe returns a short human-readable form of expr.
func Describe(expr string) string {
	expr = strings.TrimSpace(expr)
	d, ok, err := interval(expr)
	if !ok || err != nil {
		return expr
	}
	switch {
	case d%time.Hour == 0 && d >= time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "Every hour"
		}
		return fmt.Sprintf("Every %d hours", h)
	case d%time.Minute == 0 && d >= time.Minute:
		m := int(d.Minutes())
		if m == 1 {
			return "Every minute"
		}
		return fmt.Sprintf("Every %d minutes", m)
	default:
		return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
	}
}

func interval(expr string) (time.Duration, bool, error) {
	rest, ok := strings.CutPrefix(expr, everyPrefix)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil {
		return 0, true, fmt.Errorf("invalid interval %q: %w", rest, err)
	}
	return d, true, nil
}
