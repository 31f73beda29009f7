package checkin

import (
	"fmt"
	"strings"
	"time"

	"seatcheck/internal/ledger"
)

// SessionWindow decides the attendance date and status of a check-in.
// A check-in at or before start+LateAfter on its local day is PRESENT, later is LATE.
type SessionWindow struct {
	Location  *time.Location
	Start     time.Duration
	LateAfter time.Duration
	// Overrides maps an academy id to its own start time.
	Overrides map[string]time.Duration
}

// Evaluate returns the local calendar date (2006-01-02) and the status for a check-in at at.
func (w SessionWindow) Evaluate(academyID string, at time.Time) (string, ledger.Status) {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	start := w.Start
	if o, ok := w.Overrides[academyID]; ok {
		start = o
	}
	begin := time.Date(local.Year(), local.Month(), local.Day(),
		int(start/time.Hour), int(start%time.Hour/time.Minute), 0, 0, loc)
	status := ledger.Present
	if local.After(begin.Add(w.LateAfter)) {
		status = ledger.Late
	}
	return local.Format(time.DateOnly), status
}

// ParseClock parses a wall-clock time such as "09:00" into an offset from midnight.
func ParseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseOverrides parses "1001=14:00;1002=08:30". An empty string yields no overrides.
func ParseOverrides(v string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		academy, clock, ok := strings.Cut(part, "=")
		academy = strings.TrimSpace(academy)
		if !ok || academy == "" {
			return nil, fmt.Errorf("session override %q: want academy=HH:MM", part)
		}
		d, err := ParseClock(clock)
		if err != nil {
			return nil, fmt.Errorf("session override for %s: %w", academy, err)
		}
		out[academy] = d
	}
	return out, nil
}
