package random

import (
	"math/rand/v2"
	"sync"
)

// Source yields uniform values in [0,1).
type Source interface {
	Float64() float64
}

// Index draws an integer in [0,n) as floor(Float64()*n). It returns 0 when n <= 0.
func Index(src Source, n int) int {
	if n <= 0 {
		return 0
	}
	i := int(src.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

type globalSource struct{}

func (globalSource) Float64() float64 {
	return rand.Float64()
}

// Default returns the process-wide generator. It is safe for concurrent use.
func Default() Source {
	return globalSource{}
}

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeded returns a reproducible generator. Calls are serialized so one
// instance can be shared across goroutines, but interleaving then decides
// which caller sees which value.
func NewSeeded(seed uint64) Source {
	return &seededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Sequence replays fixed values in order and wraps around. Values outside
// [0,1) are the caller's problem.
type Sequence struct {
	Values []float64
	next   int
}

func (s *Sequence) Float64() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	v := s.Values[s.next%len(s.Values)]
	s.next++
	return v
}

// Draws reports how many values have been consumed.
func (s *Sequence) Draws() int {
	return s.next
}
