package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-places/internal/weather"
)

func newPlace(id int64, city string) weather.Place {
	return weather.Place{
		ID:          id,
		Geolocation: weather.Geolocation{City: city, Country: "FR"},
		CurrentWeather: &weather.CurrentWeather{
			Time:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			TemperatureC: float64(id),
		},
		Hourly: []weather.HourlyForecast{{TemperatureC: float64(id)}},
	}
}

func seed(t *testing.T, s *MemoryStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Insert(context.Background(), newPlace(int64(100+i), fmt.Sprintf("city-%d", i)))
		require.NoError(t, err)
	}
}

func ids(t *testing.T, s *MemoryStore) []int64 {
	t.Helper()
	all, err := s.GetAll(context.Background())
	require.NoError(t, err)
	out := make([]int64, len(all))
	for i, p := range all {
		out[i] = p.ID
	}
	return out
}

// assertDenseOrder checks that orders are exactly 0..n-1 in list order.
func assertDenseOrder(t *testing.T, places []weather.Place) {
	t.Helper()
	for i, p := range places {
		require.Equal(t, i, p.Order, "place %d at index %d has order %d", p.ID, i, p.Order)
	}
}

func TestMemoryStore_InsertAssignsOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := s.Insert(ctx, newPlace(1, "a"))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Order)

	p, err = s.Insert(ctx, weather.Place{ID: 2, Order: 42})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Order, "caller-supplied order is ignored")

	n, _ := s.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestMemoryStore_InsertDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Insert(ctx, newPlace(1, "a"))
	require.NoError(t, err)

	_, err = s.Insert(ctx, newPlace(1, "b"))
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.ErrorIs(t, err, ErrContractViolation)

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Geolocation.City, "nothing written on failure")
	n, _ := s.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_UpdateReplacesWholesaleAndKeepsOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seed(t, s, 3)

	upd := newPlace(101, "renamed")
	upd.Order = 0
	upd.Hourly = nil
	upd.Alerts = []weather.Alert{{Event: "Storm"}}
	require.NoError(t, s.Update(ctx, upd))

	got, err := s.Get(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Order, "update never changes order")
	assert.Equal(t, "renamed", got.Geolocation.City)
	assert.Empty(t, got.Hourly)
	assert.Len(t, got.Alerts, 1)
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	s := NewMemoryStore()
	err := s.Update(context.Background(), newPlace(9, "x"))
	assert.ErrorIs(t, err, ErrPlaceNotFound)
}

func TestMemoryStore_DeleteClosesGap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seed(t, s, 5)

	before, _ := s.GetAll(ctx)

	deleted, err := s.Delete(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(102), deleted.ID)

	after, _ := s.GetAll(ctx)
	require.Len(t, after, 4)
	assertDenseOrder(t, after)

	prev := make(map[int64]int)
	for _, p := range before {
		prev[p.ID] = p.Order
	}
	for _, p := range after {
		if prev[p.ID] > 2 {
			assert.Equal(t, prev[p.ID]-1, p.Order, "place %d after deleted slot", p.ID)
		} else {
			assert.Equal(t, prev[p.ID], p.Order, "place %d before deleted slot", p.ID)
		}
	}
}

func TestMemoryStore_DeleteOutOfRange(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 2)

	_, err := s.Delete(context.Background(), 2)
	assert.ErrorIs(t, err, ErrOrderOutOfRange)
	_, err = s.Delete(context.Background(), -1)
	assert.ErrorIs(t, err, ErrOrderOutOfRange)
	assert.Equal(t, []int64{100, 101}, ids(t, s))
}

func TestMemoryStore_Move(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		want     []int64
	}{
		{"forward", 0, 3, []int64{101, 102, 103, 100, 104}},
		{"backward", 4, 1, []int64{100, 104, 101, 102, 103}},
		{"adjacent", 1, 2, []int64{100, 102, 101, 103, 104}},
		{"same", 2, 2, []int64{100, 101, 102, 103, 104}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewMemoryStore()
			seed(t, s, 5)

			require.NoError(t, s.Move(context.Background(), tc.from, tc.to))
			assert.Equal(t, tc.want, ids(t, s))

			all, _ := s.GetAll(context.Background())
			assertDenseOrder(t, all)
		})
	}
}

func TestMemoryStore_MoveInvalidLeavesOrderUntouched(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 3)

	assert.ErrorIs(t, s.Move(context.Background(), 0, 3), ErrOrderOutOfRange)
	assert.ErrorIs(t, s.Move(context.Background(), -1, 1), ErrOrderOutOfRange)
	assert.Equal(t, []int64{100, 101, 102}, ids(t, s))
}

func TestMemoryStore_MoveRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for trial := 0; trial < 50; trial++ {
		s := NewMemoryStore()
		n := 1 + rng.IntN(8)
		seed(t, s, n)
		orig := ids(t, s)

		i, j := rng.IntN(n), rng.IntN(n)
		require.NoError(t, s.Move(context.Background(), i, j))
		require.NoError(t, s.Move(context.Background(), j, i))

		assert.Equal(t, orig, ids(t, s), "move(%d,%d) round trip", i, j)
	}
}

func TestMemoryStore_Swap(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 4)

	require.NoError(t, s.Swap(context.Background(), 0, 3))
	assert.Equal(t, []int64{103, 101, 102, 100}, ids(t, s))

	all, _ := s.GetAll(context.Background())
	assertDenseOrder(t, all)

	assert.ErrorIs(t, s.Swap(context.Background(), 0, 4), ErrOrderOutOfRange)
}

func TestMemoryStore_RandomOperationsKeepDenseOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	s := NewMemoryStore()
	ctx := context.Background()
	nextID := int64(1)

	for step := 0; step < 2000; step++ {
		n, _ := s.Count(ctx)
		switch op := rng.IntN(4); {
		case op == 0 || n == 0:
			_, err := s.Insert(ctx, newPlace(nextID, "c"))
			require.NoError(t, err)
			nextID++
		case op == 1:
			_, err := s.Delete(ctx, rng.IntN(n))
			require.NoError(t, err)
		case op == 2:
			require.NoError(t, s.Move(ctx, rng.IntN(n), rng.IntN(n)))
		default:
			require.NoError(t, s.Swap(ctx, rng.IntN(n), rng.IntN(n)))
		}

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		assertDenseOrder(t, all)

		orders := make([]int, len(all))
		for i, p := range all {
			orders[i] = p.Order
		}
		slices.Sort(orders)
		for i, o := range orders {
			require.Equal(t, i, o)
		}
	}
}

func TestMemoryStore_ReturnsDefensiveCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seed(t, s, 1)

	got, _ := s.Get(ctx, 100)
	got.CurrentWeather.TemperatureC = -99
	got.Hourly[0].TemperatureC = -99

	all, _ := s.GetAll(ctx)
	all[0].Geolocation.City = "mutated"

	again, _ := s.Get(ctx, 100)
	assert.Equal(t, 100.0, again.CurrentWeather.TemperatureC)
	assert.Equal(t, 100.0, again.Hourly[0].TemperatureC)
	assert.Equal(t, "city-0", again.Geolocation.City)
}

func TestMemoryStore_Feed(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.GetAllAsFeed(ctx)
	first := <-ch
	assert.Empty(t, first)

	_, err := s.Insert(ctx, newPlace(1, "a"))
	require.NoError(t, err)

	select {
	case list := <-ch:
		require.Len(t, list, 1)
		assert.Equal(t, int64(1), list[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no feed update after insert")
	}
}

func TestMemoryStore_IDs(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 3)

	got, err := s.IDs(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Contains(t, got, int64(101))
}
