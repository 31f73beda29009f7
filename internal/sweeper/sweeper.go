// Package sweeper removes expired waiting-room entries on a schedule.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"seatcheck/internal/ledger"
	"seatcheck/internal/metrics"
)

// DefaultSchedule runs the sweep twice a minute.
const DefaultSchedule = "@every 30s"

// Sweeper runs Waiting.Sweep with the current time.
type Sweeper struct {
	waiting ledger.Waiting
	metrics *metrics.Collectors
	now     func() time.Time
	timeout time.Duration
}

// New creates a sweeper over waiting. A nil clock uses time.Now.
func New(waiting ledger.Waiting, m *metrics.Collectors, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{waiting: waiting, metrics: m, now: now, timeout: 20 * time.Second}
}

// RunOnce sweeps once and reports how many entries expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.waiting.Sweep(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep waiting room: %w", err)
	}
	s.metrics.AddSwept(n)
	return n, nil
}

// Start schedules RunOnce and starts the cron runner. Overlapping runs are
// skipped. Stop the returned cron to end sweeping.
func (s *Sweeper) Start(schedule string) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	logger := cron.VerbosePrintfLogger(log.Default())
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(schedule, func() {
		n, err := s.RunOnce(context.Background())
		if err != nil {
			log.Printf("[SWEEPER] %v", err)
			return
		}
		if n > 0 {
			log.Printf("[SWEEPER] expired=%d", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sweeper schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("[SWEEPER] started schedule=%q", schedule)
	return c, nil
}
