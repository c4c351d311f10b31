// Package events provides a synchronous, in-process publish/subscribe bus.
package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler receives events emitted on a bus.
type Handler[E any] func(E)

// Subscription identifies one registered handler. It is returned by On and
// passed back to Off.
type Subscription[K comparable] struct {
	Key K
	ID  uuid.UUID
}

type entry[E any] struct {
	id      uuid.UUID
	handler Handler[E]
}

// Bus maps keys to ordered lists of handlers.
// All exported methods are safe for concurrent use.
type Bus[K comparable, E any] struct {
	mu     sync.RWMutex
	subs   map[K][]entry[E]
	logger *zap.Logger
}

// NewBus constructs an empty bus.
func NewBus[K comparable, E any](logger *zap.Logger) *Bus[K, E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus[K, E]{
		subs:   make(map[K][]entry[E]),
		logger: logger.With(zap.String("component", "event_bus")),
	}
}

// On appends handler to the list for key. Handlers run in registration order.
func (b *Bus[K, E]) On(key K, handler Handler[E]) Subscription[K] {
	id := uuid.New()

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], entry[E]{id: id, handler: handler})
	b.mu.Unlock()

	return Subscription[K]{Key: key, ID: id}
}

// Off removes the subscription. It reports whether anything was removed;
// removing an unknown subscription is a no-op.
func (b *Bus[K, E]) Off(sub Subscription[K]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.Key]
	for i, e := range list {
		if e.id != sub.ID {
			continue
		}
		// Copy so that an Emit iterating the old slice is unaffected.
		next := make([]entry[E], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, sub.Key)
		} else {
			b.subs[sub.Key] = next
		}
		return true
	}
	return false
}

// Emit invokes every handler registered for key at the time of the call,
// in registration order. A panicking handler is logged and skipped.
func (b *Bus[K, E]) Emit(key K, event E) {
	b.mu.RLock()
	list := b.subs[key]
	b.mu.RUnlock()

	for _, e := range list {
		b.invoke(key, e, event)
	}
}

// Len returns the number of handlers registered for key.
func (b *Bus[K, E]) Len(key K) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

func (b *Bus[K, E]) invoke(key K, e entry[E], event E) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event", fmt.Sprint(key)),
				zap.String("subscription", e.id.String()),
				zap.Any("panic", r))
		}
	}()
	e.handler(event)
}
