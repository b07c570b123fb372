// Package events carries the console's notifications: a page finished
// rendering, a category filter was applied, an admin action was applied or
// failed. Subscribers run in-process; sinks such as Kafka get a copy.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	TypePageRendered  = "page.rendered"
	TypeFilterApplied = "filter.applied"
	TypeActionApplied = "action.applied"
	TypeActionFailed  = "action.failed"
)

type Event struct {
	Type           string `json:"type"`
	PaymentID      string `json:"payment_id,omitempty"`
	Action         string `json:"action,omitempty"`
	Amount         string `json:"refund_amount,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Category       string `json:"category,omitempty"`
	Page           int    `json:"page,omitempty"`
	Count          int    `json:"count"`
	Message        string `json:"message,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

// Stamp sets OccurredAt the way every producer formats it.
func (e *Event) Stamp(t time.Time) {
	e.OccurredAt = t.UTC().Format(time.RFC3339)
}

// Sink receives every event published on a bus. Delivery failures are the
// sink's own concern; the bus never blocks the console on them.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	sinks  []Sink
	logger *slog.Logger
}

func NewBus(logger *slog.Logger, sinks ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: map[int]func(Event){}, sinks: sinks, logger: logger}
}

// Subscribe registers fn for every later event. The returned func removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev synchronously to subscribers and sinks.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	sinks := b.sinks
	b.mu.RUnlock()

	b.logger.DebugContext(ctx, "event", "type", ev.Type, "payment_id", ev.PaymentID)
	for _, fn := range subs {
		fn(ev)
	}
	for _, s := range sinks {
		s.Publish(ctx, ev)
	}
}
