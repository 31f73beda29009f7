// Package metrics holds the Prometheus collectors for check-in.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the check-in metrics. A nil *Collectors records nothing.
type Collectors struct {
	Outcomes      *prometheus.CounterVec
	CommitLatency *prometheus.HistogramVec
	Swept         prometheus.Counter
	AuditWritten  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seatcheck",
			Name:      "checkin_outcomes_total",
			Help:      "Terminal check-in outcomes by path, outcome and reason.",
		}, []string{"path", "outcome", "reason"}),
		CommitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "seatcheck",
			Name:      "checkin_commit_seconds",
			Help:      "Time spent in the ledger commit step.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"path"}),
		Swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seatcheck",
			Name:      "waiting_room_expired_total",
			Help:      "Waiting-room entries removed by the expiry sweep.",
		}),
		AuditWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seatcheck",
			Name:      "audit_events_total",
			Help:      "Audit events consumed, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.Outcomes, c.CommitLatency, c.Swept, c.AuditWritten)
	return c
}

// ObserveOutcome counts one terminal outcome.
func (c *Collectors) ObserveOutcome(path, outcome, reason string) {
	if c == nil {
		return
	}
	c.Outcomes.WithLabelValues(path, outcome, reason).Inc()
}

// ObserveCommit records how long a commit took.
func (c *Collectors) ObserveCommit(path string, d time.Duration) {
	if c == nil {
		return
	}
	c.CommitLatency.WithLabelValues(path).Observe(d.Seconds())
}

// AddSwept counts expired waiting-room entries.
func (c *Collectors) AddSwept(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Swept.Add(float64(n))
}

// ObserveAudit counts one consumed audit event; result is "stored" or "failed".
func (c *Collectors) ObserveAudit(result string) {
	if c == nil {
		return
	}
	c.AuditWritten.WithLabelValues(result).Inc()
}
