// Package audit keeps an append-only log of terminal check-in outcomes.
//
// The API publishes events on the queue; Consume drains the queue into a Sink.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"seatcheck/internal/metrics"
	"seatcheck/internal/queue"
)

// MessageType tags audit events on the queue.
const MessageType = "checkin.outcome"

// Event is one terminal check-in outcome.
type Event struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	StudentID      string    `json:"student_id"`
	AcademyID      string    `json:"academy_id,omitempty"`
	Intent         string    `json:"intent,omitempty"`
	Room           string    `json:"room,omitempty"`
	Seat           string    `json:"seat,omitempty"`
	Outcome        string    `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	Replayed       bool      `json:"replayed"`
	OccurredAt     time.Time `json:"occurred_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter narrows ListEvents. Zero fields match everything.
type Filter struct {
	StudentID string
	AcademyID string
	Limit     int
	Offset    int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Sink persists events. InsertEvent must ignore an event whose ID is already stored.
type Sink interface {
	InsertEvent(ctx context.Context, evt Event) (Event, error)
}

// Reader lists stored events, newest first.
type Reader interface {
	ListEvents(ctx context.Context, f Filter) ([]Event, error)
}

// Publisher hands events to the audit log.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// QueuePublisher publishes events as queue messages.
type QueuePublisher struct {
	q queue.Queue
}

// NewQueuePublisher wraps q.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

func (p *QueuePublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("audit: encode event %s: %w", evt.ID, err)
	}
	return p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Consume stores every audit message from q in sink until ctx ends.
func Consume(ctx context.Context, q queue.Queue, sink Sink, m *metrics.Collectors) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("audit: consume: %w", err)
	}
	for msg := range messages {
		if msg.Type != MessageType {
			continue
		}
		var evt Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("audit: drop undecodable event: %v", err)
			m.ObserveAudit("failed")
			continue
		}
		if _, err := sink.InsertEvent(ctx, evt); err != nil {
			log.Printf("audit: store event %s failed: %v", evt.ID, err)
			m.ObserveAudit("failed")
			continue
		}
		m.ObserveAudit("stored")
	}
	return nil
}
