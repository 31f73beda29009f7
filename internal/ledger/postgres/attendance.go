package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"seatcheck/internal/ledger"
)

type attendance struct{ q querier }

func (l attendance) Record(ctx context.Context, key ledger.AttendanceKey, status ledger.Status, at time.Time) (ledger.RecordResult, error) {
	if !status.Valid() {
		return ledger.RecordResult{}, fmt.Errorf("postgres: record %v: invalid status %d", key, int(status))
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec := ledger.AttendanceRecord{ID: uuid.NewString(), Key: key, Status: status, RecordedAt: at, UpdatedAt: at}
		tag, err := l.q.Exec(ctx, `
			INSERT INTO attendance_records (id, student_id, session_key, record_date, status, recorded_at, updated_at)
			VALUES ($1, $2, $3, $4::date, $5, $6, $6)
			ON CONFLICT (student_id, session_key, record_date) DO NOTHING
		`, rec.ID, key.StudentID, key.SessionKey, key.Date, status.String(), at)
		if err != nil {
			return ledger.RecordResult{}, wrap("insert attendance", err)
		}
		if tag.RowsAffected() == 1 {
			return ledger.RecordResult{Outcome: ledger.Created, Record: rec}, nil
		}

		cur, found, err := l.get(ctx, key, true)
		if err != nil {
			return ledger.RecordResult{}, err
		}
		if !found {
			continue
		}
		if !status.Better(cur.Status) {
			return ledger.RecordResult{Outcome: ledger.NoOp, Previous: cur.Status, Record: cur}, nil
		}
		if _, err := l.q.Exec(ctx, `
			UPDATE attendance_records SET status = $2, updated_at = $3 WHERE id = $1
		`, cur.ID, status.String(), at); err != nil {
			return ledger.RecordResult{}, wrap("upgrade attendance", err)
		}
		next := cur
		next.Status = status
		next.UpdatedAt = at
		return ledger.RecordResult{Outcome: ledger.Upgraded, Previous: cur.Status, Record: next}, nil
	}
	return ledger.RecordResult{}, ErrContended
}

func (l attendance) Get(ctx context.Context, key ledger.AttendanceKey) (ledger.AttendanceRecord, bool, error) {
	return l.get(ctx, key, false)
}

func (l attendance) get(ctx context.Context, key ledger.AttendanceKey, forUpdate bool) (ledger.AttendanceRecord, bool, error) {
	query := `
		SELECT id, status, recorded_at, updated_at FROM attendance_records
		WHERE student_id = $1 AND session_key = $2 AND record_date = $3::date`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec := ledger.AttendanceRecord{Key: key}
	var id uuid.UUID
	var status string
	err := l.q.QueryRow(ctx, query, key.StudentID, key.SessionKey, key.Date).Scan(&id, &status, &rec.RecordedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.AttendanceRecord{}, false, nil
	}
	if err != nil {
		return ledger.AttendanceRecord{}, false, wrap("read attendance", err)
	}
	rec.ID = id.String()
	if rec.Status, err = ledger.ParseStatus(status); err != nil {
		return ledger.AttendanceRecord{}, false, wrap("read attendance", err)
	}
	return rec, true, nil
}

type autoAttendance struct{ s *Store }

func (a autoAttendance) Record(ctx context.Context, key ledger.AttendanceKey, status ledger.Status, at time.Time) (ledger.RecordResult, error) {
	return inTx(ctx, a.s, func(tx ledger.Tx) (ledger.RecordResult, error) {
		return tx.Attendance().Record(ctx, key, status, at)
	})
}

func (a autoAttendance) Get(ctx context.Context, key ledger.AttendanceKey) (ledger.AttendanceRecord, bool, error) {
	return attendance{a.s.pool}.Get(ctx, key)
}
