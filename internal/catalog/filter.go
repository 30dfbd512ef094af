package catalog

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tj/go-naturaldate"
)

// DefaultSessionLimit caps RecentSessions when no limit is given
const DefaultSessionLimit = 20

// SessionFilter narrows RecentSessions
type SessionFilter struct {
	// Time filters; DatePreset wins over Since/Until, which win over Days
	Since      time.Time
	Until      time.Time
	Days       int
	DatePreset string // "today", "yesterday", "week", "last-week", "month", "last-month", "all"

	Path  string
	Limit int
}

func (f SessionFilter) hasTimeFilter() bool {
	return !f.Since.IsZero() || !f.Until.IsZero() || f.Days > 0 || f.DatePreset != ""
}

func (f SessionFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultSessionLimit
	}
	return f.Limit
}

// TimeRange resolves the time filters against now. A zero start means no
// lower bound.
func (f SessionFilter) TimeRange(now time.Time) (start, end time.Time) {
	end = now

	if f.DatePreset != "" {
		presetStart, presetEnd, err := ParseDatePreset(f.DatePreset, now)
		if err != nil {
			slog.Warn("invalid date preset, using no time filter", "preset", f.DatePreset, "error", err)
			return time.Time{}, now
		}
		return presetStart, presetEnd
	}

	if !f.Since.IsZero() || !f.Until.IsZero() {
		if !f.Until.IsZero() {
			end = f.Until
		}
		return f.Since, end
	}

	if f.Days > 0 {
		return now.AddDate(0, 0, -f.Days), end
	}

	return time.Time{}, end
}

// ParseDatePreset converts date preset strings to time ranges
func ParseDatePreset(preset string, now time.Time) (start, end time.Time, err error) {
	switch preset {
	case "today":
		start = beginningOfDay(now)
		end = now
	case "yesterday":
		start = beginningOfDay(now.AddDate(0, 0, -1))
		end = beginningOfDay(now)
	case "week", "this-week":
		start = beginningOfWeek(now)
		end = now
	case "last-week":
		start = beginningOfWeek(now).AddDate(0, 0, -7)
		end = beginningOfWeek(now)
	case "month", "this-month":
		start = beginningOfMonth(now)
		end = now
	case "last-month":
		start = beginningOfMonth(now).AddDate(0, -1, 0)
		end = beginningOfMonth(now)
	case "all", "all-time":
		start = time.Time{}
		end = now
	default:
		err = fmt.Errorf("unknown preset: %s", preset)
		return
	}

	slog.Debug("parsed date preset", "preset", preset, "start", start, "end", end)
	return
}

// ParseNaturalDate parses expressions such as "2 hours ago" relative to now
func ParseNaturalDate(naturalDate string, now time.Time) (time.Time, error) {
	result, err := naturaldate.Parse(naturalDate, now)
	if err != nil {
		slog.Warn("failed to parse natural language date", "input", naturalDate, "error", err)
		return time.Time{}, fmt.Errorf("failed to parse natural date '%s': %w", naturalDate, err)
	}

	slog.Debug("parsed natural language date", "input", naturalDate, "result", result)
	return result, nil
}

func beginningOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// beginningOfWeek returns Monday 00:00 of t's week
func beginningOfWeek(t time.Time) time.Time {
	weekday := t.Weekday()
	if weekday == time.Sunday {
		weekday = 7
	}
	return beginningOfDay(t.AddDate(0, 0, -int(weekday-1)))
}

func beginningOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
