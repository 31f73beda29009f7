package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"seatcheck/internal/ledger"
)

type seats struct{ q querier }

func (l seats) TryOccupy(ctx context.Context, key ledger.SeatKey, studentID string, at time.Time) (ledger.SeatResult, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tag, err := l.q.Exec(ctx, `
			INSERT INTO seat_assignments (academy_id, room, seat, student_id, occupied_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (academy_id, room, seat) DO NOTHING
		`, key.AcademyID, key.Room, key.Seat, studentID, at)
		if err != nil {
			return ledger.SeatResult{}, wrap("occupy seat", err)
		}
		if tag.RowsAffected() == 1 {
			return ledger.SeatResult{Outcome: ledger.Occupied, OccupiedBy: studentID}, nil
		}

		var occupant string
		err = l.q.QueryRow(ctx, `
			SELECT student_id FROM seat_assignments
			WHERE academy_id = $1 AND room = $2 AND seat = $3
			FOR UPDATE
		`, key.AcademyID, key.Room, key.Seat).Scan(&occupant)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return ledger.SeatResult{}, wrap("read seat", err)
		}
		if occupant == studentID {
			return ledger.SeatResult{Outcome: ledger.AlreadyOccupant, OccupiedBy: studentID}, nil
		}
		return ledger.SeatResult{Outcome: ledger.Conflict, OccupiedBy: occupant}, nil
	}
	return ledger.SeatResult{}, ErrContended
}

func (l seats) Release(ctx context.Context, key ledger.SeatKey, studentID string) (ledger.ReleaseOutcome, error) {
	tag, err := l.q.Exec(ctx, `
		DELETE FROM seat_assignments
		WHERE academy_id = $1 AND room = $2 AND seat = $3 AND student_id = $4
	`, key.AcademyID, key.Room, key.Seat, studentID)
	if err != nil {
		return 0, wrap("release seat", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotOccupant, nil
	}
	return ledger.Released, nil
}

func (l seats) Occupant(ctx context.Context, key ledger.SeatKey) (ledger.SeatAssignment, bool, error) {
	cur := ledger.SeatAssignment{SeatKey: key}
	err := l.q.QueryRow(ctx, `
		SELECT student_id, occupied_at FROM seat_assignments
		WHERE academy_id = $1 AND room = $2 AND seat = $3
	`, key.AcademyID, key.Room, key.Seat).Scan(&cur.StudentID, &cur.OccupiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.SeatAssignment{}, false, nil
	}
	if err != nil {
		return ledger.SeatAssignment{}, false, wrap("read seat", err)
	}
	return cur, true, nil
}

type autoSeats struct{ s *Store }

func (a autoSeats) TryOccupy(ctx context.Context, key ledger.SeatKey, studentID string, at time.Time) (ledger.SeatResult, error) {
	return inTx(ctx, a.s, func(tx ledger.Tx) (ledger.SeatResult, error) {
		return tx.Seats().TryOccupy(ctx, key, studentID, at)
	})
}

func (a autoSeats) Release(ctx context.Context, key ledger.SeatKey, studentID string) (ledger.ReleaseOutcome, error) {
	return inTx(ctx, a.s, func(tx ledger.Tx) (ledger.ReleaseOutcome, error) {
		return tx.Seats().Release(ctx, key, studentID)
	})
}

func (a autoSeats) Occupant(ctx context.Context, key ledger.SeatKey) (ledger.SeatAssignment, bool, error) {
	return seats{a.s.pool}.Occupant(ctx, key)
}
