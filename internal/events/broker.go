// Package events fans out in-process notifications to subscribers.
package events

import "sync"

// Broker delivers every published value to all current subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the value.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]subscriber[T]
	next   uint64
	closed bool
}

type subscriber[T any] struct {
	ch   chan T
	keep func(T) bool
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[uint64]subscriber[T])}
}

// Subscribe registers a new subscriber with the given buffer size.
// The returned cancel func unregisters it and closes the channel.
func (b *Broker[T]) Subscribe(buffer int) (<-chan T, func()) {
	return b.SubscribeFunc(buffer, nil)
}

// SubscribeFunc is Subscribe with a filter evaluated at publish time, so
// values the subscriber does not want never take a buffer slot.
// A nil keep accepts everything.
func (b *Broker[T]) SubscribeFunc(buffer int, keep func(T) bool) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = subscriber[T]{ch: ch, keep: keep}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish returns the number of subscribers that received v.
func (b *Broker[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, s := range b.subs {
		if s.keep != nil && !s.keep(v) {
			continue
		}
		select {
		case s.ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers reports the current number of subscribers.
func (b *Broker[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters and closes every subscriber. Later subscriptions get a closed channel.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}
