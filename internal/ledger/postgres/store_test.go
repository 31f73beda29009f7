package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatcheck/internal/ledger"
	"seatcheck/internal/roster"
	"seatcheck/internal/store"
)

func openTestStore(t *testing.T) (*Store, *store.DB) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return New(db.Pool), db
}

// unique scopes keys to one test run so runs do not collide on a shared database.
func unique(t *testing.T, base string) string {
	return fmt.Sprintf("%s-%s-%d", base, t.Name(), time.Now().UnixNano())
}

func TestPostgresTryOccupy(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	key := ledger.SeatKey{AcademyID: unique(t, "ac"), Room: "12", Seat: "A3"}
	now := time.Now().UTC().Truncate(time.Microsecond)

	res, err := s.Seats().TryOccupy(ctx, key, "S1", now)
	require.NoError(t, err)
	assert.Equal(t, ledger.Occupied, res.Outcome)

	res, err = s.Seats().TryOccupy(ctx, key, "S1", now)
	require.NoError(t, err)
	assert.Equal(t, ledger.AlreadyOccupant, res.Outcome)

	res, err = s.Seats().TryOccupy(ctx, key, "S2", now)
	require.NoError(t, err)
	assert.Equal(t, ledger.Conflict, res.Outcome)
	assert.Equal(t, "S1", res.OccupiedBy)

	cur, ok, err := s.Seats().Occupant(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "S1", cur.StudentID)

	out, err := s.Seats().Release(ctx, key, "S1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Released, out)
	_, ok, err = s.Seats().Occupant(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresTryOccupyExclusive(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	key := ledger.SeatKey{AcademyID: unique(t, "ac"), Room: "1", Seat: "B1"}

	const n = 16
	var wg sync.WaitGroup
	results := make([]ledger.SeatResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Seats().TryOccupy(ctx, key, fmt.Sprintf("S%d", i), time.Now())
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Outcome == ledger.Occupied {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestPostgresRecordMonotonic(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	key := ledger.AttendanceKey{StudentID: unique(t, "S"), SessionKey: "1001", Date: "2026-03-02"}
	now := time.Now()

	res, err := s.Attendance().Record(ctx, key, ledger.Late, now)
	require.NoError(t, err)
	assert.Equal(t, ledger.Created, res.Outcome)

	res, err = s.Attendance().Record(ctx, key, ledger.Absent, now)
	require.NoError(t, err)
	assert.Equal(t, ledger.NoOp, res.Outcome)
	assert.Equal(t, ledger.Late, res.Previous)

	res, err = s.Attendance().Record(ctx, key, ledger.Present, now)
	require.NoError(t, err)
	assert.Equal(t, ledger.Upgraded, res.Outcome)

	rec, ok, err := s.Attendance().Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.Present, rec.Status)
}

func TestPostgresWaitingRoom(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	academy := unique(t, "ac")
	now := time.Now().UTC()

	res, err := s.Waiting().Enter(ctx, academy, "S1", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, ledger.Entered, res.Outcome)

	res, err = s.Waiting().Enter(ctx, academy, "S1", time.Minute, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, ledger.AlreadyWaiting, res.Outcome)

	_, err = s.Waiting().Enter(ctx, academy, "S2", time.Second, now)
	require.NoError(t, err)

	seq, err := s.Waiting().ListWaiting(ctx, academy, now.Add(2*time.Second))
	require.NoError(t, err)
	var ids []string
	for e := range seq {
		ids = append(ids, e.StudentID)
	}
	assert.Equal(t, []string{"S1"}, ids)

	out, err := s.Waiting().Leave(ctx, academy, "S1", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ledger.Left, out)
	out, err = s.Waiting().Leave(ctx, academy, "S1", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ledger.NotWaiting, out)
}

func TestPostgresWithTxRollsBack(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	key := ledger.SeatKey{AcademyID: unique(t, "ac"), Room: "1", Seat: "C1"}
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Seats().TryOccupy(ctx, key, "S1", time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := s.Seats().Occupant(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRosterLookup(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	lookup := NewRosterLookup(s.pool)
	academy := unique(t, "ac")

	_, err := lookup.GetEnrolledStudents(ctx, academy)
	require.ErrorIs(t, err, roster.ErrUnknownAcademy)

	require.NoError(t, lookup.Enroll(ctx, academy, "S1"))
	require.NoError(t, lookup.Enroll(ctx, academy, "S2"))
	require.NoError(t, lookup.Withdraw(ctx, academy, "S2"))

	ids, err := lookup.GetEnrolledStudents(ctx, academy)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, ids)

	ok, err := roster.IsEnrolled(ctx, lookup, academy, "S2")
	require.NoError(t, err)
	assert.False(t, ok)
}
