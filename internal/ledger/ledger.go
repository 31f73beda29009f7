// Package ledger defines the three keyed stores behind check-in:
// seat occupancy, daily attendance and the waiting room.
//
// Each ledger enforces one uniqueness invariant per key. Outcomes such as a
// seat conflict are returned as values; an error always means the store
// itself failed and the operation may be retried.
package ledger

import (
	"context"
	"iter"
	"sync/atomic"
	"time"
)

// SeatKey identifies one physical seat.
type SeatKey struct {
	AcademyID string
	Room      string
	Seat      string
}

// SeatOutcome is the result of TryOccupy.
type SeatOutcome int

const (
	Occupied SeatOutcome = iota + 1
	AlreadyOccupant
	Conflict
)

func (o SeatOutcome) String() string {
	switch o {
	case Occupied:
		return "Occupied"
	case AlreadyOccupant:
		return "AlreadyOccupant"
	case Conflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// SeatResult carries the occupant that caused a Conflict.
type SeatResult struct {
	Outcome    SeatOutcome
	OccupiedBy string
}

// ReleaseOutcome is the result of Release.
type ReleaseOutcome int

const (
	Released ReleaseOutcome = iota + 1
	NotOccupant
)

func (o ReleaseOutcome) String() string {
	if o == Released {
		return "Released"
	}
	return "NotOccupant"
}

// SeatAssignment is a non-empty seat slot.
type SeatAssignment struct {
	SeatKey
	StudentID  string
	OccupiedAt time.Time
}

// Seats owns per-seat occupancy: at most one occupant per SeatKey.
type Seats interface {
	TryOccupy(ctx context.Context, key SeatKey, studentID string, at time.Time) (SeatResult, error)
	Release(ctx context.Context, key SeatKey, studentID string) (ReleaseOutcome, error)
	Occupant(ctx context.Context, key SeatKey) (SeatAssignment, bool, error)
}

// AttendanceKey identifies one attendance record: a student in a session on a date.
// Date is the calendar date formatted as 2006-01-02.
type AttendanceKey struct {
	StudentID  string
	SessionKey string
	Date       string
}

// RecordOutcome is the result of Record.
type RecordOutcome int

const (
	Created RecordOutcome = iota + 1
	NoOp
	Upgraded
)

func (o RecordOutcome) String() string {
	switch o {
	case Created:
		return "Created"
	case NoOp:
		return "NoOp"
	case Upgraded:
		return "Upgraded"
	default:
		return "Unknown"
	}
}

// AttendanceRecord is the single record kept per AttendanceKey.
type AttendanceRecord struct {
	ID         string
	Key        AttendanceKey
	Status     Status
	RecordedAt time.Time
	UpdatedAt  time.Time
}

// RecordResult reports what Record did. Previous is set for NoOp and Upgraded.
type RecordResult struct {
	Outcome  RecordOutcome
	Previous Status
	Record   AttendanceRecord
}

// Attendance owns daily attendance: at most one record per AttendanceKey,
// whose status only ever moves up.
type Attendance interface {
	Record(ctx context.Context, key AttendanceKey, status Status, at time.Time) (RecordResult, error)
	Get(ctx context.Context, key AttendanceKey) (AttendanceRecord, bool, error)
}

// WaitingEntry is a live waiting-room entry.
type WaitingEntry struct {
	AcademyID string
	StudentID string
	EnteredAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry has lapsed at now.
func (e WaitingEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// EnterOutcome is the result of Enter.
type EnterOutcome int

const (
	Entered EnterOutcome = iota + 1
	AlreadyWaiting
)

func (o EnterOutcome) String() string {
	if o == Entered {
		return "Entered"
	}
	return "AlreadyWaiting"
}

// EnterResult carries the live entry after Enter.
type EnterResult struct {
	Outcome EnterOutcome
	Entry   WaitingEntry
}

// LeaveOutcome is the result of Leave.
type LeaveOutcome int

const (
	Left LeaveOutcome = iota + 1
	NotWaiting
)

func (o LeaveOutcome) String() string {
	if o == Left {
		return "Left"
	}
	return "NotWaiting"
}

// Waiting owns the waiting room: at most one live entry per (academy, student).
// Entries past ExpiresAt are treated as gone and removed lazily or by Sweep.
type Waiting interface {
	Enter(ctx context.Context, academyID, studentID string, ttl time.Duration, now time.Time) (EnterResult, error)
	Leave(ctx context.Context, academyID, studentID string, now time.Time) (LeaveOutcome, error)
	// ListWaiting snapshots the live entries of an academy, ordered by EnteredAt.
	// The returned sequence can be ranged over once.
	ListWaiting(ctx context.Context, academyID string, now time.Time) (iter.Seq[WaitingEntry], error)
	// Sweep removes every entry expired at now and reports how many went.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Tx groups the ledgers inside one transaction.
type Tx interface {
	Seats() Seats
	Attendance() Attendance
	Waiting() Waiting
}

// Store owns the three ledgers. Calls made through the embedded Tx methods
// each run as their own transaction; WithTx runs fn as a single transaction
// that is rolled back entirely when fn returns an error or ctx ends.
//
// Inside WithTx, ledgers must be touched in the order seats, attendance,
// waiting; implementations that lock per key rely on it.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// Snapshot returns a single-use sequence over entries.
func Snapshot(entries []WaitingEntry) iter.Seq[WaitingEntry] {
	var used atomic.Bool
	return func(yield func(WaitingEntry) bool) {
		if used.Swap(true) {
			return
		}
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}
