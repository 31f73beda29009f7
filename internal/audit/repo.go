package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists audit events in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repo.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, idempotency_key, student_id, academy_id, intent, room, seat, outcome, reason, replayed, occurred_at, created_at`

// InsertEvent writes a new event. Redelivered events are ignored.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkin_events (id, idempotency_key, student_id, academy_id, intent, room, seat, outcome, reason, replayed, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.IdempotencyKey, evt.StudentID, evt.AcademyID, evt.Intent, evt.Room, evt.Seat, evt.Outcome, evt.Reason, evt.Replayed, evt.OccurredAt)
	if err != nil {
		return Event{}, fmt.Errorf("audit: insert event %s: %w", evt.ID, err)
	}
	return r.GetEvent(ctx, evt.ID)
}

// GetEvent returns a single event by id.
func (r *Repository) GetEvent(ctx context.Context, id string) (Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM checkin_events WHERE id = $1`, id)
	if err != nil {
		return Event{}, fmt.Errorf("audit: get event %s: %w", id, err)
	}
	evt, err := pgx.CollectExactlyOneRow(rows, scanEvent)
	if err != nil {
		return Event{}, fmt.Errorf("audit: get event %s: %w", id, err)
	}
	return evt, nil
}

// ListEvents returns events with basic filters.
func (r *Repository) ListEvents(ctx context.Context, f Filter) ([]Event, error) {
	f = f.normalized()
	query := `SELECT ` + eventColumns + ` FROM checkin_events`
	args := []any{}
	clauses := []string{}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, "student_id = $"+strconv.Itoa(len(args)))
	}
	if f.AcademyID != "" {
		args = append(args, f.AcademyID)
		clauses = append(clauses, "academy_id = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.CollectableRow) (Event, error) {
	var evt Event
	var id uuid.UUID
	err := row.Scan(&id, &evt.IdempotencyKey, &evt.StudentID, &evt.AcademyID, &evt.Intent, &evt.Room, &evt.Seat,
		&evt.Outcome, &evt.Reason, &evt.Replayed, &evt.OccurredAt, &evt.CreatedAt)
	evt.ID = id.String()
	return evt, err
}
