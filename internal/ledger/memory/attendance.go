package memory

import (
	"context"
	"fmt"
	"time"

	"seatcheck/internal/ledger"
)

type txAttendance struct{ t *tx }

func (l txAttendance) Record(ctx context.Context, key ledger.AttendanceKey, status ledger.Status, at time.Time) (ledger.RecordResult, error) {
	if !status.Valid() {
		return ledger.RecordResult{}, fmt.Errorf("memory: record %v: invalid status %d", key, int(status))
	}
	if err := l.t.lock(ctx, attendanceLockKey(key)); err != nil {
		return ledger.RecordResult{}, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[key]
	if !ok {
		rec := ledger.AttendanceRecord{ID: s.newID(), Key: key, Status: status, RecordedAt: at, UpdatedAt: at}
		s.records[key] = rec
		l.t.journal(func() { delete(s.records, key) })
		return ledger.RecordResult{Outcome: ledger.Created, Record: rec}, nil
	}
	if !status.Better(cur.Status) {
		return ledger.RecordResult{Outcome: ledger.NoOp, Previous: cur.Status, Record: cur}, nil
	}
	next := cur
	next.Status = status
	next.UpdatedAt = at
	s.records[key] = next
	l.t.journal(func() { s.records[key] = cur })
	return ledger.RecordResult{Outcome: ledger.Upgraded, Previous: cur.Status, Record: next}, nil
}

func (l txAttendance) Get(ctx context.Context, key ledger.AttendanceKey) (ledger.AttendanceRecord, bool, error) {
	if err := l.t.lock(ctx, attendanceLockKey(key)); err != nil {
		return ledger.AttendanceRecord{}, false, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

type autoAttendance struct{ s *Store }

func (a autoAttendance) Record(ctx context.Context, key ledger.AttendanceKey, status ledger.Status, at time.Time) (res ledger.RecordResult, err error) {
	err = a.s.WithTx(ctx, func(tx ledger.Tx) error {
		res, err = tx.Attendance().Record(ctx, key, status, at)
		return err
	})
	return res, err
}

func (a autoAttendance) Get(ctx context.Context, key ledger.AttendanceKey) (rec ledger.AttendanceRecord, ok bool, err error) {
	err = a.s.WithTx(ctx, func(tx ledger.Tx) error {
		rec, ok, err = tx.Attendance().Get(ctx, key)
		return err
	})
	return rec, ok, err
}
