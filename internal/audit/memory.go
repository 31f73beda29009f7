package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Sink and Reader.
type Memory struct {
	mu     sync.RWMutex
	events []Event
	seen   map[string]struct{}
}

// NewMemory creates an empty log.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) InsertEvent(_ context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[evt.ID]; dup {
		for _, e := range m.events {
			if e.ID == evt.ID {
				return e, nil
			}
		}
	}
	evt.CreatedAt = now
	m.seen[evt.ID] = struct{}{}
	m.events = append(m.events, evt)
	return evt, nil
}

func (m *Memory) ListEvents(_ context.Context, f Filter) ([]Event, error) {
	f = f.normalized()
	m.mu.RLock()
	matched := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		if f.StudentID != "" && e.StudentID != f.StudentID {
			continue
		}
		if f.AcademyID != "" && e.AcademyID != f.AcademyID {
			continue
		}
		matched = append(matched, e)
	}
	m.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b Event) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})
	if f.Offset >= len(matched) {
		return []Event{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}
