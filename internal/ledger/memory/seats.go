package memory

import (
	"context"
	"time"

	"seatcheck/internal/ledger"
)

type txSeats struct{ t *tx }

func (l txSeats) TryOccupy(ctx context.Context, key ledger.SeatKey, studentID string, at time.Time) (ledger.SeatResult, error) {
	if err := l.t.lock(ctx, seatLockKey(key)); err != nil {
		return ledger.SeatResult{}, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.seats[key]; ok {
		if cur.StudentID == studentID {
			return ledger.SeatResult{Outcome: ledger.AlreadyOccupant, OccupiedBy: studentID}, nil
		}
		return ledger.SeatResult{Outcome: ledger.Conflict, OccupiedBy: cur.StudentID}, nil
	}
	s.seats[key] = ledger.SeatAssignment{SeatKey: key, StudentID: studentID, OccupiedAt: at}
	l.t.journal(func() { delete(s.seats, key) })
	return ledger.SeatResult{Outcome: ledger.Occupied, OccupiedBy: studentID}, nil
}

func (l txSeats) Release(ctx context.Context, key ledger.SeatKey, studentID string) (ledger.ReleaseOutcome, error) {
	if err := l.t.lock(ctx, seatLockKey(key)); err != nil {
		return 0, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.seats[key]
	if !ok || cur.StudentID != studentID {
		return ledger.NotOccupant, nil
	}
	delete(s.seats, key)
	l.t.journal(func() { s.seats[key] = cur })
	return ledger.Released, nil
}

func (l txSeats) Occupant(ctx context.Context, key ledger.SeatKey) (ledger.SeatAssignment, bool, error) {
	if err := l.t.lock(ctx, seatLockKey(key)); err != nil {
		return ledger.SeatAssignment{}, false, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.seats[key]
	return cur, ok, nil
}

type autoSeats struct{ s *Store }

func (a autoSeats) TryOccupy(ctx context.Context, key ledger.SeatKey, studentID string, at time.Time) (res ledger.SeatResult, err error) {
	err = a.s.WithTx(ctx, func(tx ledger.Tx) error {
		res, err = tx.Seats().TryOccupy(ctx, key, studentID, at)
		return err
	})
	return res, err
}

func (a autoSeats) Release(ctx context.Context, key ledger.SeatKey, studentID string) (out ledger.ReleaseOutcome, err error) {
	err = a.s.WithTx(ctx, func(tx ledger.Tx) error {
		out, err = tx.Seats().Release(ctx, key, studentID)
		return err
	})
	return out, err
}

func (a autoSeats) Occupant(ctx context.Context, key ledger.SeatKey) (cur ledger.SeatAssignment, ok bool, err error) {
	err = a.s.WithTx(ctx, func(tx ledger.Tx) error {
		cur, ok, err = tx.Seats().Occupant(ctx, key)
		return err
	})
	return cur, ok, err
}
