// Package checkin turns a scanned QR payload and a caller identity into one
// idempotent commit against the seat, attendance and waiting-room ledgers.
package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"seatcheck/internal/audit"
	"seatcheck/internal/idempotency"
	"seatcheck/internal/ledger"
	"seatcheck/internal/metrics"
	"seatcheck/internal/qrpayload"
	"seatcheck/internal/roster"
)

// Request is one inbound scan.
type Request struct {
	Payload string
	Caller  roster.Identity
}

// Options tune a Coordinator. Zero values get defaults.
type Options struct {
	CommitTimeout time.Duration
	WaitingTTL    time.Duration
	Cache         idempotency.Cache
	Publisher     audit.Publisher
	Metrics       *metrics.Collectors
	Clock         func() time.Time
}

// Coordinator runs the check-in state machine.
type Coordinator struct {
	store         ledger.Store
	lookup        roster.Lookup
	window        SessionWindow
	commitTimeout time.Duration
	waitingTTL    time.Duration
	cache         idempotency.Cache
	publisher     audit.Publisher
	metrics       *metrics.Collectors
	now           func() time.Time
}

// New builds a Coordinator over store, re-validating membership through lookup.
func New(store ledger.Store, lookup roster.Lookup, window SessionWindow, opts Options) *Coordinator {
	c := &Coordinator{
		store:         store,
		lookup:        lookup,
		window:        window,
		commitTimeout: opts.CommitTimeout,
		waitingTTL:    opts.WaitingTTL,
		cache:         opts.Cache,
		publisher:     opts.Publisher,
		metrics:       opts.Metrics,
		now:           opts.Clock,
	}
	if c.commitTimeout <= 0 {
		c.commitTimeout = 3 * time.Second
	}
	if c.waitingTTL <= 0 {
		c.waitingTTL = 5 * time.Minute
	}
	if c.cache == nil {
		c.cache = idempotency.Nop{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// errNotEnrolled aborts a commit whose caller is missing from the live roster.
var errNotEnrolled = errors.New("caller not enrolled")

// scan carries per-request facts derived before commit.
type scan struct {
	intent     qrpayload.Intent
	caller     roster.Identity
	at         time.Time
	date       string
	status     ledger.Status
	sessionKey string
	key        string
}

func (s scan) academyID() string {
	if s.intent.Kind == qrpayload.KindSeat {
		return s.intent.Seat.AcademyID
	}
	return s.intent.Roster.AcademyID
}

// CheckIn runs one scan to a terminal outcome. It never returns an error:
// every failure is reported as a REJECTED Result.
func (c *Coordinator) CheckIn(ctx context.Context, req Request) Result {
	s := scan{caller: req.Caller, at: c.now()}

	intent, err := qrpayload.Decode(req.Payload)
	if err != nil {
		return c.finish(ctx, s, rejected(MalformedPayload, err.Error()))
	}
	s.intent = intent
	s.sessionKey = s.academyID()
	s.date, s.status = c.window.Evaluate(s.sessionKey, s.at)
	if intent.Kind == qrpayload.KindSeat {
		s.key = idempotency.Key(req.Caller.StudentID, s.sessionKey, s.date, intent.Seat.Room, intent.Seat.Seat)
	} else {
		s.key = idempotency.Key(req.Caller.StudentID, s.sessionKey, s.date)
		if roster.Admit(*intent.Roster, req.Caller) != roster.Admitted {
			return c.finish(ctx, s, rejected(NotOnRoster, "student is not on the displayed roster"))
		}
	}

	if cached, ok := c.replay(ctx, s); ok {
		return c.finish(ctx, s, cached)
	}

	commitCtx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	defer cancel()
	started := time.Now()
	var res Result
	if intent.Kind == qrpayload.KindSeat {
		res, err = c.commitSeat(commitCtx, s)
	} else {
		res, err = c.commitRoster(commitCtx, s)
	}
	c.metrics.ObserveCommit(intent.Kind.String(), time.Since(started))

	switch {
	case errors.Is(err, errNotEnrolled):
		res = rejected(NotOnRoster, "student is not enrolled in academy "+s.sessionKey)
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(commitCtx.Err(), context.DeadlineExceeded)):
		log.Printf("checkin timeout key=%s student=%s academy=%s err=%v", s.key, s.caller.StudentID, s.sessionKey, err)
		res = rejected(Timeout, "commit did not finish in time, retry with the same payload")
	case err != nil:
		log.Printf("checkin server error key=%s student=%s academy=%s err=%v", s.key, s.caller.StudentID, s.sessionKey, err)
		res = rejected(ServerError, "commit failed, retry with the same payload")
	case res.Outcome == Confirmed:
		c.remember(ctx, s.key, res)
	}
	return c.finish(ctx, s, res)
}

// commitSeat occupies the seat, records attendance and enters the waiting
// room in one transaction.
func (c *Coordinator) commitSeat(ctx context.Context, s scan) (Result, error) {
	si := s.intent.Seat
	if err := c.checkEnrolled(ctx, si.AcademyID, s.caller.StudentID); err != nil {
		return Result{}, err
	}

	var res Result
	err := c.store.WithTx(ctx, func(tx ledger.Tx) error {
		seatKey := ledger.SeatKey{AcademyID: si.AcademyID, Room: si.Room, Seat: si.Seat}
		seat, err := tx.Seats().TryOccupy(ctx, seatKey, s.caller.StudentID, s.at)
		if err != nil {
			return fmt.Errorf("occupy seat: %w", err)
		}
		seatView := &SeatView{AcademyID: si.AcademyID, Room: si.Room, Seat: si.Seat, Occupant: seat.OccupiedBy, Outcome: seat.Outcome.String()}
		if seat.Outcome == ledger.Conflict {
			seatView.Occupant = ""
			res = rejected(SeatTaken, "seat is occupied by another student")
			res.Seat = seatView
			return nil
		}

		rec, err := tx.Attendance().Record(ctx, c.attendanceKey(s), s.status, s.at)
		if err != nil {
			return fmt.Errorf("record attendance: %w", err)
		}
		wait, err := tx.Waiting().Enter(ctx, si.AcademyID, s.caller.StudentID, c.waitingTTL, s.at)
		if err != nil {
			return fmt.Errorf("enter waiting room: %w", err)
		}

		res = Result{
			Outcome:    Confirmed,
			State:      StateWaiting,
			Seat:       seatView,
			Attendance: attendanceView(rec),
			Waiting: &WaitingView{
				AcademyID: si.AcademyID,
				EnteredAt: wait.Entry.EnteredAt,
				ExpiresAt: wait.Entry.ExpiresAt,
				Outcome:   wait.Outcome.String(),
			},
		}
		if seat.Outcome == ledger.AlreadyOccupant || rec.Outcome == ledger.NoOp {
			res.Reason = AlreadyCheckedIn
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// commitRoster records attendance for a roster scan; there is no seat.
func (c *Coordinator) commitRoster(ctx context.Context, s scan) (Result, error) {
	if err := c.checkEnrolled(ctx, s.intent.Roster.AcademyID, s.caller.StudentID); err != nil {
		return Result{}, err
	}
	rec, err := c.store.Attendance().Record(ctx, c.attendanceKey(s), s.status, s.at)
	if err != nil {
		return Result{}, fmt.Errorf("record attendance: %w", err)
	}
	res := Result{Outcome: Confirmed, State: StateConfirmed, Attendance: attendanceView(rec)}
	if rec.Outcome == ledger.NoOp {
		res.Reason = AlreadyCheckedIn
	}
	return res, nil
}

func (c *Coordinator) checkEnrolled(ctx context.Context, academyID, studentID string) error {
	ok, err := roster.IsEnrolled(ctx, c.lookup, academyID, studentID)
	if err != nil {
		return fmt.Errorf("roster lookup: %w", err)
	}
	if !ok {
		return errNotEnrolled
	}
	return nil
}

func (c *Coordinator) attendanceKey(s scan) ledger.AttendanceKey {
	return ledger.AttendanceKey{StudentID: s.caller.StudentID, SessionKey: s.sessionKey, Date: s.date}
}

// replay returns the cached outcome for the scan, rewritten as the ledgers
// would now report it: nothing changes on a repeat. A seat outcome is only
// replayed while the caller still holds the seat.
func (c *Coordinator) replay(ctx context.Context, s scan) (Result, bool) {
	key := s.key
	b, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, idempotency.ErrMiss) {
			log.Printf("checkin cache read failed key=%s err=%v", key, err)
		}
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		log.Printf("checkin cache entry unreadable key=%s err=%v", key, err)
		return Result{}, false
	}
	if s.intent.Kind == qrpayload.KindSeat && !c.stillSeated(ctx, s) {
		return Result{}, false
	}
	res.Replayed = true
	res.Reason = AlreadyCheckedIn
	if res.Seat != nil {
		res.Seat.Outcome = ledger.AlreadyOccupant.String()
	}
	if res.Attendance != nil && res.Attendance.Outcome != ledger.NoOp.String() {
		res.Attendance.Previous = res.Attendance.Status.String()
		res.Attendance.Outcome = ledger.NoOp.String()
	}
	return res, true
}

func (c *Coordinator) stillSeated(ctx context.Context, s scan) bool {
	si := s.intent.Seat
	cur, ok, err := c.store.Seats().Occupant(ctx, ledger.SeatKey{AcademyID: si.AcademyID, Room: si.Room, Seat: si.Seat})
	if err != nil {
		log.Printf("checkin replay seat check failed key=%s err=%v", s.key, err)
		return false
	}
	return ok && cur.StudentID == s.caller.StudentID
}

func (c *Coordinator) remember(ctx context.Context, key string, res Result) {
	b, err := json.Marshal(res)
	if err != nil {
		log.Printf("checkin cache encode failed key=%s err=%v", key, err)
		return
	}
	if err := c.cache.Put(ctx, key, b); err != nil {
		log.Printf("checkin cache write failed key=%s err=%v", key, err)
	}
}

// finish stamps the idempotency key, counts the outcome and publishes it to the audit log.
func (c *Coordinator) finish(ctx context.Context, s scan, res Result) Result {
	res.IdempotencyKey = s.key
	path := s.intent.Kind.String()
	c.metrics.ObserveOutcome(path, string(res.Outcome), string(res.Reason))

	if c.publisher != nil {
		evt := audit.Event{
			ID:             uuid.NewString(),
			IdempotencyKey: s.key,
			StudentID:      s.caller.StudentID,
			Intent:         path,
			Outcome:        string(res.Outcome),
			Reason:         string(res.Reason),
			Replayed:       res.Replayed,
			OccurredAt:     s.at.UTC(),
		}
		if s.intent.Kind != 0 {
			evt.AcademyID = s.academyID()
		}
		if s.intent.Seat != nil {
			evt.Room, evt.Seat = s.intent.Seat.Room, s.intent.Seat.Seat
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := c.publisher.Publish(pubCtx, evt); err != nil {
			log.Printf("checkin audit publish failed key=%s err=%v", s.key, err)
		}
	}
	return res
}

// SessionDate returns today's attendance date for academyID.
func (c *Coordinator) SessionDate(academyID string) string {
	date, _ := c.window.Evaluate(academyID, c.now())
	return date
}
