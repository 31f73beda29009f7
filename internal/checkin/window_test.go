package checkin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatcheck/internal/ledger"
)

func TestSessionWindowEvaluate(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	w := SessionWindow{
		Location:  seoul,
		Start:     9 * time.Hour,
		LateAfter: 10 * time.Minute,
		Overrides: map[string]time.Duration{"2002": 14 * time.Hour},
	}

	tests := []struct {
		name       string
		academy    string
		at         time.Time
		wantDate   string
		wantStatus ledger.Status
	}{
		{"early", "1001", time.Date(2026, 3, 2, 8, 30, 0, 0, seoul), "2026-03-02", ledger.Present},
		{"at deadline", "1001", time.Date(2026, 3, 2, 9, 10, 0, 0, seoul), "2026-03-02", ledger.Present},
		{"just late", "1001", time.Date(2026, 3, 2, 9, 10, 1, 0, seoul), "2026-03-02", ledger.Late},
		{"utc input uses local date", "1001", time.Date(2026, 3, 1, 23, 55, 0, 0, time.UTC), "2026-03-02", ledger.Present},
		{"override start", "2002", time.Date(2026, 3, 2, 13, 0, 0, 0, seoul), "2026-03-02", ledger.Present},
		{"override late", "2002", time.Date(2026, 3, 2, 14, 11, 0, 0, seoul), "2026-03-02", ledger.Late},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, status := w.Evaluate(tt.academy, tt.at)
			assert.Equal(t, tt.wantDate, date)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock(" 09:30 ")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, d)

	_, err = ParseClock("9.30")
	assert.Error(t, err)
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides("1001=14:00; 1002=08:30;")
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Duration{"1001": 14 * time.Hour, "1002": 8*time.Hour + 30*time.Minute}, got)

	got, err = ParseOverrides("")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, bad := range []string{"1001", "=09:00", "1001=25:00"} {
		_, err := ParseOverrides(bad)
		assert.Error(t, err, bad)
	}
}
