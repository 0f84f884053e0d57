// Package notify delivers in-application notifications for sharing and
// locking events. Delivery is fire-and-forget; failures never roll back the
// operation that raised the event.
package notify

import (
	"context"
	"sync"
	"time"
)

// Event types raised by the core service.
const (
	TypeShared           = "record_shared"
	TypeUnshared         = "record_unshared"
	TypePermissionChange = "permission_changed"
	TypeAutoshareToggle  = "autoshare_toggled"
	TypeLockReclaimed    = "lock_reclaimed"
)

// Event describes one notifiable occurrence.
type Event struct {
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	GroupID    string    `json:"group_id,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	Recipients []string  `json:"recipients,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink receives events. Publish must not block the caller for long; slow
// transports should buffer internally.
type Sink interface {
	Publish(event Event)
}

// NoopSink discards every event.
type NoopSink struct{}

// Publish discards the event.
func (NoopSink) Publish(Event) {}

// MemorySink retains published events for inspection. Intended for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink constructs an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish appends the event.
func (s *MemorySink) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// AsyncSink decouples publishers from a slow downstream sink using a bounded
// queue and a single delivery goroutine. Events are dropped when the queue is
// full.
type AsyncSink struct {
	downstream Sink

	queue chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAsyncSink constructs an async sink wrapping downstream.
func NewAsyncSink(downstream Sink) *AsyncSink {
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, 128),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins delivering queued events.
func (s *AsyncSink) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the delivery goroutine to halt and waits for completion.
func (s *AsyncSink) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			s.downstream.Publish(event)
		}
	}
}

// Publish enqueues the event, dropping it when the queue is full or the sink
// is stopped.
func (s *AsyncSink) Publish(event Event) {
	select {
	case s.queue <- event:
	case <-s.ctx.Done():
	default:
	}
}
