// Package memory is an in-process ledger.Store.
//
// Every key is guarded by its own lock from internal/keylock, held until the
// enclosing transaction ends, so operations on one key are strictly serialized
// while different keys proceed in parallel. Mutations are journaled and undone
// in reverse order when a transaction fails or its context ends.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"seatcheck/internal/keylock"
	"seatcheck/internal/ledger"
)

type waitKey struct {
	AcademyID string
	StudentID string
}

// staged is the committed waiting entry behind an uncommitted write.
type staged struct {
	entry ledger.WaitingEntry
	had   bool
}

// Store keeps all three ledgers in maps.
type Store struct {
	locks *keylock.Map

	mu      sync.Mutex
	seats   map[ledger.SeatKey]ledger.SeatAssignment
	records map[ledger.AttendanceKey]ledger.AttendanceRecord
	waiting map[waitKey]ledger.WaitingEntry
	// pending holds waiting keys written by a transaction that has not ended.
	pending map[waitKey]staged

	newID func() string
}

var _ ledger.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		locks:   keylock.New(),
		seats:   make(map[ledger.SeatKey]ledger.SeatAssignment),
		records: make(map[ledger.AttendanceKey]ledger.AttendanceRecord),
		waiting: make(map[waitKey]ledger.WaitingEntry),
		pending: make(map[waitKey]staged),
		newID:   uuid.NewString,
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Seats runs each seat operation in its own transaction.
func (s *Store) Seats() ledger.Seats { return autoSeats{s} }

// Attendance runs each attendance operation in its own transaction.
func (s *Store) Attendance() ledger.Attendance { return autoAttendance{s} }

// Waiting runs each waiting-room operation in its own transaction.
func (s *Store) Waiting() ledger.Waiting { return autoWaiting{s} }

// WithTx implements ledger.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{s: s, held: make(map[string]struct{})}
	defer t.release()
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
	}()

	if err = fn(t); err == nil {
		// an abandoned request must not leave its writes behind
		err = ctx.Err()
	}
	if err != nil {
		t.rollback()
		return err
	}
	t.commit()
	return nil
}

// tx holds the key locks taken so far and the undo journal.
type tx struct {
	s       *Store
	held    map[string]struct{}
	unlocks []func()
	undo    []func()
	staged  []waitKey
}

func (t *tx) Seats() ledger.Seats           { return txSeats{t} }
func (t *tx) Attendance() ledger.Attendance { return txAttendance{t} }
func (t *tx) Waiting() ledger.Waiting       { return txWaiting{t} }

// lock takes key for the rest of the transaction.
func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	unlock, err := t.s.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("memory: lock %q: %w", key, err)
	}
	t.held[key] = struct{}{}
	t.unlocks = append(t.unlocks, unlock)
	return nil
}

// journal records how to revert a mutation; called with s.mu held.
func (t *tx) journal(undo func()) {
	t.undo = append(t.undo, undo)
}

// stage hides a waiting key from snapshots until the transaction ends;
// called with s.mu held.
func (t *tx) stage(key waitKey) {
	if _, ok := t.s.pending[key]; ok {
		return
	}
	prev, had := t.s.waiting[key]
	t.s.pending[key] = staged{entry: prev, had: had}
	t.staged = append(t.staged, key)
}

func (t *tx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.unstage()
	t.undo = nil
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.unstage()
}

func (t *tx) unstage() {
	for _, key := range t.staged {
		delete(t.s.pending, key)
	}
	t.staged = nil
}

func (t *tx) release() {
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
	t.unlocks = nil
}

func seatLockKey(k ledger.SeatKey) string {
	return "seat\x00" + k.AcademyID + "\x00" + k.Room + "\x00" + k.Seat
}

func attendanceLockKey(k ledger.AttendanceKey) string {
	return "attendance\x00" + k.StudentID + "\x00" + k.SessionKey + "\x00" + k.Date
}

func waitLockKey(academyID, studentID string) string {
	return "waiting\x00" + academyID + "\x00" + studentID
}
