package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"seatcheck/internal/roster"
)

// RosterLookup reads live enrollments from the enrollments table.
type RosterLookup struct {
	pool *pgxpool.Pool
}

var _ roster.Lookup = (*RosterLookup)(nil)

// NewRosterLookup creates a lookup over pool.
func NewRosterLookup(pool *pgxpool.Pool) *RosterLookup {
	return &RosterLookup{pool: pool}
}

// GetEnrolledStudents returns students without a withdrawal date.
func (r *RosterLookup) GetEnrolledStudents(ctx context.Context, academyID string) ([]string, error) {
	var known bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE academy_id = $1)`, academyID,
	).Scan(&known); err != nil {
		return nil, wrap("check academy", err)
	}
	if !known {
		return nil, roster.ErrUnknownAcademy
	}
	rows, err := r.pool.Query(ctx, `
		SELECT student_id FROM enrollments
		WHERE academy_id = $1 AND withdrawn_at IS NULL
		ORDER BY student_id
	`, academyID)
	if err != nil {
		return nil, wrap("list enrollments", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("list enrollments", err)
	}
	return ids, nil
}

// Enroll adds or re-activates an enrollment.
func (r *RosterLookup) Enroll(ctx context.Context, academyID, studentID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO enrollments (academy_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (academy_id, student_id) DO UPDATE SET withdrawn_at = NULL
	`, academyID, studentID)
	return wrap("enroll", err)
}

// Withdraw marks an enrollment as withdrawn.
func (r *RosterLookup) Withdraw(ctx context.Context, academyID, studentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE enrollments SET withdrawn_at = NOW()
		WHERE academy_id = $1 AND student_id = $2 AND withdrawn_at IS NULL
	`, academyID, studentID)
	return wrap("withdraw", err)
}
