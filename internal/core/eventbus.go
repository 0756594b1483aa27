package core

import "sync"

// Bus fans values out to any number of subscribers. Each subscriber has a
// buffered channel; a full subscriber misses the value instead of blocking the
// publisher.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	size   int
	closed bool
}

// NewBus creates a Bus whose subscriber channels hold size values.
func NewBus[T any](size int) *Bus[T] {
	if size <= 0 {
		size = 100
	}
	return &Bus[T]{subs: make(map[int]chan T), size: size}
}

// Subscribe returns a receive channel and a function that cancels the subscription.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.size)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers v to every subscriber with room in its buffer.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub <- v:
		default:
		}
	}
}

// Close closes all subscriber channels. Later subscriptions receive a closed channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
