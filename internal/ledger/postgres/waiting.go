package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"

	"seatcheck/internal/ledger"
)

type waiting struct{ q querier }

func (l waiting) Enter(ctx context.Context, academyID, studentID string, ttl time.Duration, now time.Time) (ledger.EnterResult, error) {
	if ttl <= 0 {
		return ledger.EnterResult{}, fmt.Errorf("postgres: enter waiting room: ttl must be positive, got %s", ttl)
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := l.q.Exec(ctx, `
			DELETE FROM waiting_room_entries
			WHERE academy_id = $1 AND student_id = $2 AND expires_at <= $3
		`, academyID, studentID, now); err != nil {
			return ledger.EnterResult{}, wrap("drop expired entry", err)
		}

		entry := ledger.WaitingEntry{AcademyID: academyID, StudentID: studentID, EnteredAt: now, ExpiresAt: now.Add(ttl)}
		tag, err := l.q.Exec(ctx, `
			INSERT INTO waiting_room_entries (academy_id, student_id, entered_at, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (academy_id, student_id) DO NOTHING
		`, academyID, studentID, entry.EnteredAt, entry.ExpiresAt)
		if err != nil {
			return ledger.EnterResult{}, wrap("enter waiting room", err)
		}
		if tag.RowsAffected() == 1 {
			return ledger.EnterResult{Outcome: ledger.Entered, Entry: entry}, nil
		}

		cur := ledger.WaitingEntry{AcademyID: academyID, StudentID: studentID}
		err = l.q.QueryRow(ctx, `
			SELECT entered_at, expires_at FROM waiting_room_entries
			WHERE academy_id = $1 AND student_id = $2
			FOR UPDATE
		`, academyID, studentID).Scan(&cur.EnteredAt, &cur.ExpiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return ledger.EnterResult{}, wrap("read waiting entry", err)
		}
		if cur.Expired(now) {
			continue
		}
		return ledger.EnterResult{Outcome: ledger.AlreadyWaiting, Entry: cur}, nil
	}
	return ledger.EnterResult{}, ErrContended
}

func (l waiting) Leave(ctx context.Context, academyID, studentID string, now time.Time) (ledger.LeaveOutcome, error) {
	var expiresAt time.Time
	err := l.q.QueryRow(ctx, `
		DELETE FROM waiting_room_entries
		WHERE academy_id = $1 AND student_id = $2
		RETURNING expires_at
	`, academyID, studentID).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.NotWaiting, nil
	}
	if err != nil {
		return 0, wrap("leave waiting room", err)
	}
	if !now.Before(expiresAt) {
		return ledger.NotWaiting, nil
	}
	return ledger.Left, nil
}

func (l waiting) ListWaiting(ctx context.Context, academyID string, now time.Time) (iter.Seq[ledger.WaitingEntry], error) {
	if _, err := l.q.Exec(ctx, `
		DELETE FROM waiting_room_entries WHERE academy_id = $1 AND expires_at <= $2
	`, academyID, now); err != nil {
		return nil, wrap("drop expired entries", err)
	}
	rows, err := l.q.Query(ctx, `
		SELECT academy_id, student_id, entered_at, expires_at FROM waiting_room_entries
		WHERE academy_id = $1 AND expires_at > $2
		ORDER BY entered_at, student_id
	`, academyID, now)
	if err != nil {
		return nil, wrap("list waiting room", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.WaitingEntry, error) {
		var e ledger.WaitingEntry
		err := row.Scan(&e.AcademyID, &e.StudentID, &e.EnteredAt, &e.ExpiresAt)
		return e, err
	})
	if err != nil {
		return nil, wrap("list waiting room", err)
	}
	return ledger.Snapshot(entries), nil
}

func (l waiting) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := l.q.Exec(ctx, `DELETE FROM waiting_room_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, wrap("sweep waiting room", err)
	}
	return int(tag.RowsAffected()), nil
}

type autoWaiting struct{ s *Store }

func (a autoWaiting) Enter(ctx context.Context, academyID, studentID string, ttl time.Duration, now time.Time) (ledger.EnterResult, error) {
	return inTx(ctx, a.s, func(tx ledger.Tx) (ledger.EnterResult, error) {
		return tx.Waiting().Enter(ctx, academyID, studentID, ttl, now)
	})
}

func (a autoWaiting) Leave(ctx context.Context, academyID, studentID string, now time.Time) (ledger.LeaveOutcome, error) {
	return waiting{a.s.pool}.Leave(ctx, academyID, studentID, now)
}

// ListWaiting runs its cleanup and read in one transaction so the snapshot
// reflects a single point in time.
func (a autoWaiting) ListWaiting(ctx context.Context, academyID string, now time.Time) (iter.Seq[ledger.WaitingEntry], error) {
	return inTx(ctx, a.s, func(tx ledger.Tx) (iter.Seq[ledger.WaitingEntry], error) {
		return tx.Waiting().ListWaiting(ctx, academyID, now)
	})
}

func (a autoWaiting) Sweep(ctx context.Context, now time.Time) (int, error) {
	return waiting{a.s.pool}.Sweep(ctx, now)
}
