package dashboard

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Broadcaster fans values out to registered observers. Every observer owns a
// single-slot buffer: a slow observer skips intermediate values and only sees
// the newest one. A new observer immediately receives the last published
// value, if any.
type Broadcaster[T any] struct {
	name string

	mu        sync.Mutex
	observers map[ulid.ULID]chan T
	last      T
	hasLast   bool
	closed    bool
}

// NewBroadcaster returns a broadcaster; name is only used in logs.
func NewBroadcaster[T any](name string) *Broadcaster[T] {
	return &Broadcaster[T]{
		name:      name,
		observers: make(map[ulid.ULID]chan T),
	}
}

// Subscribe registers an observer. The returned channel is closed when cancel
// is called or the broadcaster is closed.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	id := ulid.Make()
	ch := make(chan T, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.observers[id] = ch
	if b.hasLast {
		ch <- b.last
	}
	slog.Debug("observer registered", "broadcaster", b.name, "observer", id.String())

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.observers[id]; ok {
				delete(b.observers, id)
				close(c)
				slog.Debug("observer removed", "broadcaster", b.name, "observer", id.String())
			}
		})
	}
}

// Publish hands v to every observer, replacing any value not yet received.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last, b.hasLast = v, true
	for _, ch := range b.observers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Len returns the number of registered observers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Close closes every observer channel. Later publishes are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.observers {
		delete(b.observers, id)
		close(ch)
	}
}
