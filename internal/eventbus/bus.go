// Package eventbus implements the in-process, synchronous publish/subscribe
// bus that decouples the ingestion, validation, and aggregation phases.
// Handlers run in subscription order; Publish returns only after every
// handler has run, and one handler panicking never stops its siblings
// or aborts the publisher.
package eventbus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType names one of the sealed variants a Bus carries.
type EventType string

const (
	TypeIngestionJobCompleted EventType = "ingestion_job_completed"
	TypeIngestionJobFailed    EventType = "ingestion_job_failed"
	TypeValidationCompleted   EventType = "validation_completed"
	TypeValidationFailed      EventType = "validation_failed"
	TypeAggregationCompleted  EventType = "aggregation_completed"
	TypeAggregationFailed     EventType = "aggregation_failed"
	TypeDataPruned            EventType = "data_pruned"
)

// Event is the sealed interface every published variant satisfies. The
// unexported marker method keeps the variant set closed to this package;
// every variant carries event_id, occurred_at, and aggregate_id via an
// embedded Envelope.
type Event interface {
	EventType() EventType
	sealed()
}

// Envelope carries the fields every event variant shares.
type Envelope struct {
	EventID     string
	OccurredAt  time.Time
	AggregateID string
}

func (Envelope) sealed() {}

// NewEnvelope constructs the shared envelope fields for a new event.
func NewEnvelope(eventID, aggregateID string, occurredAt time.Time) Envelope {
	return Envelope{EventID: eventID, AggregateID: aggregateID, OccurredAt: occurredAt}
}

// IngestionJobCompleted reports a job's successful completion.
type IngestionJobCompleted struct {
	Envelope
	JobID    string
	Symbols  []string
	BarCount int
}

func (IngestionJobCompleted) EventType() EventType { return TypeIngestionJobCompleted }

// IngestionJobFailed reports a job's terminal failure.
type IngestionJobFailed struct {
	Envelope
	JobID  string
	Reason string
}

func (IngestionJobFailed) EventType() EventType { return TypeIngestionJobFailed }

// ValidationCompleted reports a job's validation summary.
type ValidationCompleted struct {
	Envelope
	JobID  string
	Total  int
	Passed int
	Failed int
}

func (ValidationCompleted) EventType() EventType { return TypeValidationCompleted }

// ValidationFailed reports that validation itself could not run.
type ValidationFailed struct {
	Envelope
	JobID  string
	Reason string
}

func (ValidationFailed) EventType() EventType { return TypeValidationFailed }

// AggregationCompleted reports the frames materialized for a job.
type AggregationCompleted struct {
	Envelope
	JobID  string
	Frames []string
}

func (AggregationCompleted) EventType() EventType { return TypeAggregationCompleted }

// AggregationFailed reports that aggregation could not complete.
type AggregationFailed struct {
	Envelope
	JobID  string
	Reason string
}

func (AggregationFailed) EventType() EventType { return TypeAggregationFailed }

// DataPruned reports a retention sweep's outcome.
type DataPruned struct {
	Envelope
	DataType string
	Amount   int
	Cutoff   time.Time
}

func (DataPruned) EventType() EventType { return TypeDataPruned }

// Handler consumes one published Event. Handlers run inline on the
// publisher's goroutine, so they must stay non-blocking or short.
type Handler func(Event)

// Bus is the process-wide (but never global) synchronous event bus.
// Bootstrap owns its one instance; nothing subscribes at import time.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
	log         *logrus.Entry
	closed      bool
}

// New constructs a Bus. log may be nil to fall back to the standard logger.
func New(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		subscribers: make(map[EventType][]Handler),
		log:         log,
	}
}

// Subscribe registers handler for every event of eventType, appended in
// subscription order. Safe for concurrent use with Publish.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish synchronously invokes every handler subscribed to evt's type,
// in subscription order. A handler that panics is recovered and logged;
// it does not prevent sibling handlers from running, nor does it
// propagate to the caller. Publish is a no-op after Close.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := append([]Handler(nil), b.subscribers[evt.EventType()]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, evt)
	}
}

func (b *Bus) invoke(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("event_type", evt.EventType()).Errorf("eventbus: handler panicked: %v", r)
		}
	}()
	h(evt)
}

// Close marks the bus closed; subsequent Publish calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
