// internal/bus/bus.go
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// DefaultLogSize is the number of events kept in the rolling diagnostic log.
const DefaultLogSize = 100

// ErrMissingType is returned by Publish for an event without a type.
var ErrMissingType = errors.New("event type is required")

// Handler consumes one event. A returned error or panic is logged and does not
// stop delivery to the remaining subscribers.
type Handler func(ctx context.Context, ev schemas.Event) error

// Bus is the publish and subscribe surface consumed by the stateful components.
type Bus interface {
	schemas.EventPublisher
	Subscribe(eventType schemas.EventType, handler Handler) func()
}

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus is a synchronous, typed publish/subscribe hub. Handlers registered
// for a type are invoked in subscription order on the publisher's goroutine.
type EventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[schemas.EventType][]subscription
	nextID      uint64

	// The rolling log is diagnostic only; delivery never reads it.
	logMu   sync.Mutex
	log     []schemas.EventLogEntry
	logSize int
}

// New initializes the EventBus.
func New(logger *zap.Logger, logSize int) *EventBus {
	if logSize <= 0 {
		logSize = DefaultLogSize
	}
	return &EventBus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[schemas.EventType][]subscription),
		log:         make([]schemas.EventLogEntry, 0, logSize),
		logSize:     logSize,
	}
}

// Subscribe registers handler for eventType and returns an idempotent
// unsubscribe function.
func (eb *EventBus) Subscribe(eventType schemas.EventType, handler Handler) func() {
	if handler == nil {
		panic("bus: nil handler")
	}

	eb.mu.Lock()
	eb.nextID++
	id := eb.nextID
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{id: id, handler: handler})
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.mu.Lock()
			defer eb.mu.Unlock()

			subs := eb.subscribers[eventType]
			for i, s := range subs {
				if s.id == id {
					// Copy instead of re-slicing so in-flight snapshots stay intact.
					next := make([]subscription, 0, len(subs)-1)
					next = append(next, subs[:i]...)
					next = append(next, subs[i+1:]...)
					if len(next) == 0 {
						delete(eb.subscribers, eventType)
					} else {
						eb.subscribers[eventType] = next
					}
					return
				}
			}
		})
	}
}

// Publish delivers ev to every handler currently subscribed to ev.Type.
// Missing ID, timestamp and correlation ID are filled in. Publishing with no
// subscribers is a no-op.
func (eb *EventBus) Publish(ctx context.Context, ev schemas.Event) error {
	if ev.Type == "" {
		return ErrMissingType
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = ev.ID
	}

	eb.record(ev)

	// Snapshot so handlers may (un)subscribe without deadlocking.
	eb.mu.RLock()
	subs := eb.subscribers[ev.Type]
	eb.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	eb.logger.Debug("Publishing event",
		zap.String("type", string(ev.Type)),
		zap.String("id", ev.ID),
		zap.Int("subscribers", len(subs)))

	for _, s := range subs {
		if err := eb.deliver(ctx, s.handler, ev); err != nil {
			eb.logger.Warn("Event handler failed",
				zap.String("type", string(ev.Type)),
				zap.String("correlation_id", ev.CorrelationID),
				zap.Error(err))
		}
	}
	return nil
}

// Emit publishes a payload under eventType with generated identifiers.
func (eb *EventBus) Emit(ctx context.Context, eventType schemas.EventType, payload any) {
	_ = eb.Publish(ctx, schemas.Event{Type: eventType, Payload: payload})
}

func (eb *EventBus) deliver(ctx context.Context, h Handler, ev schemas.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, ev)
}

func (eb *EventBus) record(ev schemas.Event) {
	eb.logMu.Lock()
	defer eb.logMu.Unlock()

	if len(eb.log) == eb.logSize {
		copy(eb.log, eb.log[1:])
		eb.log = eb.log[:eb.logSize-1]
	}
	eb.log = append(eb.log, schemas.EventLogEntry{
		Timestamp:     ev.Timestamp,
		Type:          ev.Type,
		CorrelationID: ev.CorrelationID,
	})
}

// RecentEvents returns a copy of the rolling log, oldest first.
func (eb *EventBus) RecentEvents() []schemas.EventLogEntry {
	eb.logMu.Lock()
	defer eb.logMu.Unlock()
	out := make([]schemas.EventLogEntry, len(eb.log))
	copy(out, eb.log)
	return out
}

// SubscriberCount reports how many handlers listen on eventType.
func (eb *EventBus) SubscriberCount(eventType schemas.EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[eventType])
}

// Health implements schemas.HealthReporter. The bus has no failure state.
func (eb *EventBus) Health(_ context.Context) schemas.ComponentHealth {
	eb.mu.RLock()
	types := len(eb.subscribers)
	eb.mu.RUnlock()
	return schemas.ComponentHealth{
		Name:    "event_bus",
		Healthy: true,
		Detail:  fmt.Sprintf("%d subscribed event types", types),
	}
}

var _ Bus = (*EventBus)(nil)
