package repository

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/i474232898/weather-places/internal/observability"
)

// EventKind names a committed change to the place list.
type EventKind string

const (
	EventInsertion EventKind = "INSERTION"
	EventDeletion  EventKind = "DELETION"
	EventUpdate    EventKind = "UPDATE"
	EventMoved     EventKind = "MOVED"
)

// ChangeEvent describes one committed change. Position is the place's order
// after the change; for DELETION it is the order the place had. From is the
// source order of a MOVED event and zero for every other kind.
type ChangeEvent struct {
	Kind     EventKind `json:"kind"`
	PlaceID  int64     `json:"placeId,string"`
	Position int       `json:"position"`
	From     int       `json:"from"`
	At       time.Time `json:"at"`
}

// eventHub fans change events out to per-subscriber buffered queues.
type eventHub struct {
	size    int
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	subs   map[*eventSub]struct{}
	closed bool
	done   chan struct{}
}

type eventSub struct {
	ch chan ChangeEvent
}

func newEventHub(size int, logger *slog.Logger, metrics *observability.Metrics) *eventHub {
	return &eventHub{
		size:    size,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[*eventSub]struct{}),
		done:    make(chan struct{}),
	}
}

func (h *eventHub) subscribe(ctx context.Context) <-chan ChangeEvent {
	sub := &eventSub{ch: make(chan ChangeEvent, h.size)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.remove(sub)
		case <-h.done:
		}
	}()
	return sub.ch
}

// emit never blocks: a subscriber whose queue is full misses the event.
func (h *eventHub) emit(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("event queue full, dropping event",
				"kind", ev.Kind, "place_id", ev.PlaceID)
			if h.metrics != nil {
				h.metrics.EventsDropped.Inc()
			}
		}
	}
}

func (h *eventHub) remove(sub *eventSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

func (h *eventHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}
