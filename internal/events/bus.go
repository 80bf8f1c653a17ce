package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler processes events on the bus. Handlers are called in priority
// order (lower value first) for matching event types.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Handles returns the event types this handler processes.
	Handles() []Type

	// Priority determines call order. Lower values are called first.
	Priority() int

	// Handle processes a single event. Returning an error logs a
	// warning but does not stop the handler chain.
	Handle(ctx context.Context, event *Event) error
}

// Bus dispatches events to registered handlers. Dispatch is
// synchronous; publishers on the hot path should keep handlers cheap.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewBus creates an event bus. A nil logger falls back to a no-op.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Register adds a handler to the bus. Handlers are sorted by priority
// on each Publish call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish sends an event to all registered handlers that handle its
// type, sequentially in priority order. Handler errors are logged but
// do not stop the chain.
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("events: nil event")
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("events: context cancelled: %w", err)
		}
		if err := h.Handle(ctx, event); err != nil {
			b.logger.Warn("event handler error",
				zap.String("handler", h.ID()),
				zap.String("event", string(event.Type)),
				zap.Error(err))
		}
	}
	return nil
}

// Handlers returns all registered handlers, for status reporting.
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers for the given event type sorted by
// priority. Caller holds at least a read lock.
func (b *Bus) matchingHandlers(t Type) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, ht := range h.Handles() {
			if ht == t {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
