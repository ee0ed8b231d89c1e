package weather

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrCancelled is the cancellation cause of requests stopped by CancelAll.
var ErrCancelled = errors.New("request cancelled")

// RequestQueue tracks the in-flight invocations of one pipeline instance so
// they can be cancelled together.
type RequestQueue struct {
	tag uuid.UUID

	mu       sync.Mutex
	next     uint64
	inflight map[uint64]context.CancelCauseFunc
}

// NewRequestQueue creates an empty queue with a fresh instance tag.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{
		tag:      uuid.New(),
		inflight: make(map[uint64]context.CancelCauseFunc),
	}
}

// Tag identifies the pipeline instance owning the queue.
func (q *RequestQueue) Tag() uuid.UUID {
	return q.tag
}

// Track registers a cancellable child of parent. The returned release func
// must be called once the request has finished.
func (q *RequestQueue) Track(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	q.mu.Lock()
	id := q.next
	q.next++
	q.inflight[id] = cancel
	q.mu.Unlock()

	release := func() {
		q.mu.Lock()
		delete(q.inflight, id)
		q.mu.Unlock()
		cancel(nil)
	}
	return ctx, release
}

// CancelAll cancels every tracked request with ErrCancelled as the cause and
// returns how many were pending. Requests tracked afterwards are unaffected.
func (q *RequestQueue) CancelAll() int {
	q.mu.Lock()
	pending := q.inflight
	q.inflight = make(map[uint64]context.CancelCauseFunc)
	q.mu.Unlock()

	for _, cancel := range pending {
		cancel(ErrCancelled)
	}
	return len(pending)
}

// Len returns the number of in-flight requests.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
