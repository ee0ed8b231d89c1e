package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/i474232898/weather-places/internal/feed"
	"github.com/i474232898/weather-places/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// Every mutation is validated before anything is written and runs under the
// write lock, so it is applied in full or not at all.
type MemoryStore struct {
	mu sync.RWMutex

	// key: place identifier
	places map[int64]weather.Place

	// byOrder[i] is the identifier of the place at order i.
	byOrder []int64

	feed *feed.Feed[[]weather.Place]
}

var _ weather.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		places: make(map[int64]weather.Place),
		feed:   feed.NewWithValue([]weather.Place{}, feed.WithClone(weather.ClonePlaces)),
	}
}

func (s *MemoryStore) Insert(_ context.Context, p weather.Place) (weather.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.places[p.ID]; ok {
		return weather.Place{}, fmt.Errorf("%w: %d", ErrDuplicateID, p.ID)
	}

	stored := p.Clone()
	stored.Order = len(s.byOrder)
	s.places[stored.ID] = stored
	s.byOrder = append(s.byOrder, stored.ID)

	s.publishLocked()
	return stored.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, p weather.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.places[p.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPlaceNotFound, p.ID)
	}

	stored := p.Clone()
	stored.Order = cur.Order
	s.places[stored.ID] = stored

	s.publishLocked()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, order int) (weather.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkOrder(order, len(s.byOrder)); err != nil {
		return weather.Place{}, err
	}

	id := s.byOrder[order]
	deleted := s.places[id]
	delete(s.places, id)
	s.byOrder = slices.Delete(s.byOrder, order, order+1)
	s.renumberLocked(order, len(s.byOrder)-1)

	s.publishLocked()
	return deleted, nil
}

func (s *MemoryStore) Move(_ context.Context, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from == to {
		return nil
	}
	if err := checkOrder(from, len(s.byOrder)); err != nil {
		return err
	}
	if err := checkOrder(to, len(s.byOrder)); err != nil {
		return err
	}

	id := s.byOrder[from]
	s.byOrder = slices.Delete(s.byOrder, from, from+1)
	s.byOrder = slices.Insert(s.byOrder, to, id)
	s.renumberLocked(min(from, to), max(from, to))

	s.publishLocked()
	return nil
}

func (s *MemoryStore) Swap(_ context.Context, a, b int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkOrder(a, len(s.byOrder)); err != nil {
		return err
	}
	if err := checkOrder(b, len(s.byOrder)); err != nil {
		return err
	}
	if a == b {
		return nil
	}

	s.byOrder[a], s.byOrder[b] = s.byOrder[b], s.byOrder[a]
	s.renumberLocked(a, a)
	s.renumberLocked(b, b)

	s.publishLocked()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (weather.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.places[id]
	if !ok {
		return weather.Place{}, fmt.Errorf("%w: %d", ErrPlaceNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetAll(_ context.Context) ([]weather.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// GetAllAsFeed delivers the ordered list now and again after every committed
// mutation, until ctx ends.
func (s *MemoryStore) GetAllAsFeed(ctx context.Context) <-chan []weather.Place {
	return s.feed.Subscribe(ctx)
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byOrder), nil
}

func (s *MemoryStore) IDs(_ context.Context) (map[int64]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[int64]struct{}, len(s.places))
	for id := range s.places {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Close ends every feed subscription.
func (s *MemoryStore) Close() {
	s.feed.Close()
}

// renumberLocked rewrites Order for positions lo..hi from byOrder.
func (s *MemoryStore) renumberLocked(lo, hi int) {
	for i := lo; i <= hi && i < len(s.byOrder); i++ {
		p := s.places[s.byOrder[i]]
		p.Order = i
		s.places[p.ID] = p
	}
}

func (s *MemoryStore) snapshotLocked() []weather.Place {
	out := make([]weather.Place, 0, len(s.byOrder))
	for _, id := range s.byOrder {
		out = append(out, s.places[id].Clone())
	}
	return out
}

func (s *MemoryStore) publishLocked() {
	s.feed.Publish(s.snapshotLocked())
}
