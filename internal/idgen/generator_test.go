package idgen

import (
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays values in order and then repeats the last one.
type scriptedSource struct {
	values []uint64
}

func (s *scriptedSource) Uint64() uint64 {
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return v
}

func set(ids ...int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestGenerate_NeverReturnsExisting(t *testing.T) {
	g := NewWithSource(rand.NewPCG(1, 2))
	existing := make(map[int64]struct{})

	for i := 0; i < 10_000; i++ {
		id, err := g.Generate(existing)
		require.NoError(t, err)
		_, taken := existing[id]
		require.False(t, taken, "generated existing id %d", id)
		existing[id] = struct{}{}
	}
}

func TestGenerate_NudgesOnCollision(t *testing.T) {
	// candidate 100 collides; step 1+4, direction down
	g := NewWithSource(&scriptedSource{values: []uint64{100, 4, 0}})

	id, err := g.Generate(set(100))
	require.NoError(t, err)
	assert.Equal(t, int64(95), id)
}

func TestGenerate_Exhausted(t *testing.T) {
	// a zero source yields candidate 0 and steps of 1 in a fixed direction
	g := NewWithSource(&scriptedSource{values: []uint64{0}})

	existing := make(map[int64]struct{})
	for i := int64(-10); i <= 10; i++ {
		existing[i] = struct{}{}
	}

	_, err := g.Generate(existing)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestGenerate_DoesNotOverflowMax(t *testing.T) {
	// candidate MaxInt64, step 10, direction up would overflow
	g := NewWithSource(&scriptedSource{values: []uint64{math.MaxInt64, 9, 1}})

	id, err := g.Generate(set(math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-10), id)
}

func TestGenerate_DoesNotOverflowMin(t *testing.T) {
	// candidate MinInt64, step 5, direction down would overflow
	minAsUint := uint64(1) << 63
	g := NewWithSource(&scriptedSource{values: []uint64{minAsUint, 4, 0}})

	id, err := g.Generate(set(math.MinInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64+5), id)
}

func TestGenerate_Concurrent(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	ids := make(chan int64, 400)

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id, err := g.Generate(nil)
				if err == nil {
					ids <- id
				}
			}
		}()
	}
	wg.Wait()
	close(ids)

	assert.Len(t, ids, 400)
}
