package repository

import (
	"slices"
	"sync"

	"github.com/i474232898/weather-places/internal/weather"
)

// cache mirrors the committed store contents. It is only changed after a
// store transaction commits, by applying the same delta the store applied.
type cache struct {
	mu      sync.RWMutex
	places  map[int64]weather.Place
	byOrder []int64
}

func newCache(places []weather.Place) *cache {
	c := &cache{places: make(map[int64]weather.Place, len(places))}
	for _, p := range places {
		c.places[p.ID] = p.Clone()
		c.byOrder = append(c.byOrder, p.ID)
	}
	c.renumber(0, len(c.byOrder)-1)
	return c
}

func (c *cache) snapshot() []weather.Place {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]weather.Place, 0, len(c.byOrder))
	for _, id := range c.byOrder {
		out = append(out, c.places[id].Clone())
	}
	return out
}

func (c *cache) get(id int64) (weather.Place, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.places[id]
	if !ok {
		return weather.Place{}, false
	}
	return p.Clone(), true
}

func (c *cache) at(order int) (weather.Place, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if order < 0 || order >= len(c.byOrder) {
		return weather.Place{}, false
	}
	return c.places[c.byOrder[order]].Clone(), true
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byOrder)
}

func (c *cache) ids() map[int64]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]struct{}, len(c.places))
	for id := range c.places {
		out[id] = struct{}{}
	}
	return out
}

// insert appends p, which the store has placed at the end.
func (c *cache) insert(p weather.Place) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = p.Clone()
	p.Order = len(c.byOrder)
	c.places[p.ID] = p
	c.byOrder = append(c.byOrder, p.ID)
}

// update replaces the data of an existing place and returns it with its
// cached order. It reports false if the place is gone.
func (c *cache) update(p weather.Place) (weather.Place, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.places[p.ID]
	if !ok {
		return weather.Place{}, false
	}
	p = p.Clone()
	p.Order = cur.Order
	c.places[p.ID] = p
	return p.Clone(), true
}

// remove deletes a place and closes the gap. It returns the order the place
// had.
func (c *cache) remove(id int64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.places[id]
	if !ok {
		return 0, false
	}
	delete(c.places, id)
	c.byOrder = slices.Delete(c.byOrder, p.Order, p.Order+1)
	c.renumber(p.Order, len(c.byOrder)-1)
	return p.Order, true
}

func (c *cache) move(from, to int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if from == to {
		return
	}
	id := c.byOrder[from]
	c.byOrder = slices.Delete(c.byOrder, from, from+1)
	c.byOrder = slices.Insert(c.byOrder, to, id)
	c.renumber(min(from, to), max(from, to))
}

func (c *cache) renumber(lo, hi int) {
	for i := lo; i <= hi && i < len(c.byOrder); i++ {
		p := c.places[c.byOrder[i]]
		p.Order = i
		c.places[p.ID] = p
	}
}
