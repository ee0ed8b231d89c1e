// Package idgen allocates random place identifiers.
package idgen

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
)

const (
	// MaxAttempts is the number of nudges tried after the first candidate collides.
	MaxAttempts = 5

	// maxNudge bounds the random step; a power of two keeps Int64N exact.
	maxNudge = 1 << 16
)

// ErrExhausted is returned when every attempt collided with an existing identifier.
var ErrExhausted = errors.New("idgen: cannot allocate identity")

// Generator produces identifiers that are not present in a caller-supplied set.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator seeded from the runtime's random source.
func New() *Generator {
	return NewWithSource(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewWithSource returns a Generator drawing from src. Useful for deterministic tests.
func NewWithSource(src rand.Source) *Generator {
	return &Generator{rng: rand.New(src)}
}

// Generate returns a signed identifier absent from existing. A colliding
// candidate is nudged by a small random step, never past the int64 bounds,
// up to MaxAttempts times before giving up with ErrExhausted.
func (g *Generator) Generate(existing map[int64]struct{}) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	candidate := int64(g.rng.Uint64())
	if _, taken := existing[candidate]; !taken {
		return candidate, nil
	}

	for range MaxAttempts {
		candidate = g.nudge(candidate)
		if _, taken := existing[candidate]; !taken {
			return candidate, nil
		}
	}
	return 0, ErrExhausted
}

func (g *Generator) nudge(v int64) int64 {
	step := 1 + g.rng.Int64N(maxNudge)
	up := g.rng.Uint64()&1 == 1

	switch {
	case up && v > math.MaxInt64-step:
		up = false
	case !up && v < math.MinInt64+step:
		up = true
	}
	if up {
		return v + step
	}
	return v - step
}
