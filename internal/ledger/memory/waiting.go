package memory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"seatcheck/internal/ledger"
)

type txWaiting struct{ t *tx }

func (l txWaiting) Enter(ctx context.Context, academyID, studentID string, ttl time.Duration, now time.Time) (ledger.EnterResult, error) {
	if ttl <= 0 {
		return ledger.EnterResult{}, fmt.Errorf("memory: enter waiting room: ttl must be positive, got %s", ttl)
	}
	if err := l.t.lock(ctx, waitLockKey(academyID, studentID)); err != nil {
		return ledger.EnterResult{}, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := waitKey{AcademyID: academyID, StudentID: studentID}
	prev, had := s.waiting[key]
	if had && !prev.Expired(now) {
		return ledger.EnterResult{Outcome: ledger.AlreadyWaiting, Entry: prev}, nil
	}
	entry := ledger.WaitingEntry{AcademyID: academyID, StudentID: studentID, EnteredAt: now, ExpiresAt: now.Add(ttl)}
	l.t.stage(key)
	s.waiting[key] = entry
	l.t.journal(func() {
		if had {
			s.waiting[key] = prev
		} else {
			delete(s.waiting, key)
		}
	})
	return ledger.EnterResult{Outcome: ledger.Entered, Entry: entry}, nil
}

func (l txWaiting) Leave(ctx context.Context, academyID, studentID string, now time.Time) (ledger.LeaveOutcome, error) {
	if err := l.t.lock(ctx, waitLockKey(academyID, studentID)); err != nil {
		return 0, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := waitKey{AcademyID: academyID, StudentID: studentID}
	prev, had := s.waiting[key]
	if !had {
		return ledger.NotWaiting, nil
	}
	l.t.stage(key)
	delete(s.waiting, key)
	l.t.journal(func() { s.waiting[key] = prev })
	if prev.Expired(now) {
		return ledger.NotWaiting, nil
	}
	return ledger.Left, nil
}

// ListWaiting drops expired entries of the academy while taking the snapshot.
// Keys written by a transaction still in flight show their committed entry.
func (l txWaiting) ListWaiting(ctx context.Context, academyID string, now time.Time) (iter.Seq[ledger.WaitingEntry], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var live []ledger.WaitingEntry
	for key, e := range s.waiting {
		if key.AcademyID != academyID {
			continue
		}
		if _, ok := s.pending[key]; ok {
			continue
		}
		if e.Expired(now) {
			delete(s.waiting, key)
			continue
		}
		live = append(live, e)
	}
	for key, p := range s.pending {
		if key.AcademyID == academyID && p.had && !p.entry.Expired(now) {
			live = append(live, p.entry)
		}
	}
	sortEntries(live)
	return ledger.Snapshot(live), nil
}

func (l txWaiting) Sweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := l.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.waiting {
		if _, ok := s.pending[key]; ok {
			continue
		}
		if e.Expired(now) {
			delete(s.waiting, key)
			n++
		}
	}
	return n, nil
}

func sortEntries(entries []ledger.WaitingEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].EnteredAt.Equal(entries[j].EnteredAt) {
			return entries[i].EnteredAt.Before(entries[j].EnteredAt)
		}
		return entries[i].StudentID < entries[j].StudentID
	})
}

type autoWaiting struct{ s *Store }

func (a autoWaiting) Enter(ctx context.Context, academyID, studentID string, ttl time.Duration, now time.Time) (res ledger.EnterResult, err error) {
	err = a.s.WithTx(ctx, func(tx ledger.Tx) error {
		res, err = tx.Waiting().Enter(ctx, academyID, studentID, ttl, now)
		return err
	})
	return res, err
}

func (a autoWaiting) Leave(ctx context.Context, academyID, studentID string, now time.Time) (out ledger.LeaveOutcome, err error) {
	err = a.s.WithTx(ctx, func(tx ledger.Tx) error {
		out, err = tx.Waiting().Leave(ctx, academyID, studentID, now)
		return err
	})
	return out, err
}

// Expired entries are removed immediately and never restored, so these two
// skip the transaction journal.
func (a autoWaiting) ListWaiting(ctx context.Context, academyID string, now time.Time) (iter.Seq[ledger.WaitingEntry], error) {
	return txWaiting{&tx{s: a.s}}.ListWaiting(ctx, academyID, now)
}

func (a autoWaiting) Sweep(ctx context.Context, now time.Time) (int, error) {
	return txWaiting{&tx{s: a.s}}.Sweep(ctx, now)
}
