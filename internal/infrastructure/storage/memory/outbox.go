package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lotpool/internal/core/id"
	"lotpool/internal/domain/accumulation"
	"lotpool/internal/domain/events"
)

var _ events.Publisher = (*Outbox)(nil)

// maxOutboxRetries matches the PostgreSQL relay before a message is dead-lettered.
const maxOutboxRetries = 5

// Outbox is an in-memory transactional outbox.
type Outbox struct {
	mu      sync.Mutex
	pending []*events.Message
	done    []*events.Message
	dead    []*events.Message
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Publish implements events.Publisher. Must be called inside RunInTransaction.
func (o *Outbox) Publish(ctx context.Context, event events.Event) error {
	if !InTransaction(ctx) {
		return fmt.Errorf("outbox publish requires transaction context")
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	o.mu.Lock()
	o.pending = append(o.pending, &events.Message{
		ID:            id.New(),
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	})
	o.mu.Unlock()
	return nil
}

// ProcessBatch hands up to limit pending messages to h in insertion order.
// Failed messages stay pending until they exhaust their retries.
func (o *Outbox) ProcessBatch(ctx context.Context, h events.Handler, limit int) (int, error) {
	o.mu.Lock()
	n := len(o.pending)
	if limit > 0 && n > limit {
		n = limit
	}
	batch := append([]*events.Message(nil), o.pending[:n]...)
	o.pending = append([]*events.Message(nil), o.pending[n:]...)
	o.mu.Unlock()

	processed := 0
	var retry []*events.Message
	for _, msg := range batch {
		if err := h.Handle(ctx, msg); err != nil {
			msg.RetryCount++
			retry = append(retry, msg)
			continue
		}
		processed++
		o.mu.Lock()
		o.done = append(o.done, msg)
		o.mu.Unlock()
	}

	o.mu.Lock()
	for _, msg := range retry {
		if msg.RetryCount >= maxOutboxRetries {
			o.dead = append(o.dead, msg)
			continue
		}
		o.pending = append(o.pending, msg)
	}
	o.mu.Unlock()
	return processed, nil
}

// Pending returns copies of messages waiting to be relayed.
func (o *Outbox) Pending() []events.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]events.Message, 0, len(o.pending))
	for _, m := range o.pending {
		out = append(out, *m)
	}
	return out
}

// DeadLetters returns copies of messages that exhausted their retries.
func (o *Outbox) DeadLetters() []events.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]events.Message, 0, len(o.dead))
	for _, m := range o.dead {
		out = append(out, *m)
	}
	return out
}

var (
	_ accumulation.AnomalyRecorder = (*AnomalyLog)(nil)
	_ accumulation.AnomalyReader   = (*AnomalyLog)(nil)
)

type recordedAnomaly struct {
	accumulation.Anomaly
	at time.Time
}

// AnomalyLog records anomalies in memory.
type AnomalyLog struct {
	mu      sync.Mutex
	entries []recordedAnomaly
}

// NewAnomalyLog creates an empty log.
func NewAnomalyLog() *AnomalyLog {
	return &AnomalyLog{}
}

// RecordAnomaly implements accumulation.AnomalyRecorder.
func (l *AnomalyLog) RecordAnomaly(_ context.Context, a accumulation.Anomaly) error {
	l.mu.Lock()
	l.entries = append(l.entries, recordedAnomaly{Anomaly: a, at: time.Now().UTC()})
	l.mu.Unlock()
	return nil
}

// ListAnomalies implements accumulation.AnomalyReader.
func (l *AnomalyLog) ListAnomalies(_ context.Context, paymentID string) ([]accumulation.AnomalyEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]accumulation.AnomalyEntry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Contribution.PaymentID != paymentID {
			continue
		}
		out = append(out, accumulation.AnomalyEntry{
			Kind:       e.Kind,
			PaymentID:  paymentID,
			Details:    e.Details(),
			RecordedAt: e.at,
		})
	}
	return out, nil
}

// Entries returns a copy of the recorded anomalies.
func (l *AnomalyLog) Entries() []accumulation.Anomaly {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]accumulation.Anomaly, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Anomaly)
	}
	return out
}
