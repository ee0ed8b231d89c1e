// Package feed provides a latest-value observable: subscribers receive the
// current value on subscription and every later value, and a slow subscriber
// only ever sees the most recent one.
package feed

import (
	"context"
	"sync"
)

// Feed broadcasts values of type T to subscribers.
type Feed[T any] struct {
	mu      sync.Mutex
	current T
	has     bool
	closed  bool
	subs    map[*subscriber[T]]struct{}
	done    chan struct{}
	clone   func(T) T
}

// Option configures a Feed.
type Option[T any] func(*Feed[T])

// WithClone makes every subscriber receive its own copy of each value.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(f *Feed[T]) { f.clone = clone }
}

type subscriber[T any] struct {
	ch chan T
}

// New returns an empty Feed. Subscribers wait for the first Publish.
func New[T any](opts ...Option[T]) *Feed[T] {
	f := &Feed[T]{
		subs: make(map[*subscriber[T]]struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewWithValue returns a Feed whose current value is v.
func NewWithValue[T any](v T, opts ...Option[T]) *Feed[T] {
	f := New(opts...)
	f.current = v
	f.has = true
	return f
}

// Subscribe returns a channel that receives the current value immediately (if
// any) and then every published value. The channel is closed when ctx ends or
// the feed is closed.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	sub := &subscriber[T]{ch: make(chan T, 1)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	if f.has {
		sub.ch <- f.copy(f.current)
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			f.remove(sub)
		case <-f.done:
		}
	}()
	return sub.ch
}

// Publish makes v the current value and delivers it to every subscriber,
// replacing any value a subscriber has not consumed yet.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.current = v
	f.has = true
	for sub := range f.subs {
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- f.copy(v)
	}
}

func (f *Feed[T]) copy(v T) T {
	if f.clone == nil {
		return v
	}
	return f.clone(v)
}

// Current returns the latest published value.
func (f *Feed[T]) Current() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copy(f.current), f.has
}

// Close closes every subscription. Later Publish calls are ignored.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	for sub := range f.subs {
		close(sub.ch)
	}
	f.subs = nil
}

// Subscribers returns the number of live subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed[T]) remove(sub *subscriber[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	close(sub.ch)
}
