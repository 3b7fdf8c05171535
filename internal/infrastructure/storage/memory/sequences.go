package memory

import (
	"context"
	"sync"
	"time"

	"lotpool/internal/core/numerator"
)

var _ numerator.Generator = (*Sequences)(nil)

// Sequences is an in-process numerator.Generator. Every strategy behaves
// as strict.
type Sequences struct {
	mu   sync.Mutex
	vals map[string]int64
}

// NewSequences creates an empty set of sequences.
func NewSequences() *Sequences {
	return &Sequences{vals: make(map[string]int64)}
}

// Next implements numerator.Generator.
func (s *Sequences) Next(_ context.Context, cfg numerator.Config, _ *numerator.Options, period time.Time) (string, error) {
	key := numerator.Key(cfg, period)
	s.mu.Lock()
	s.vals[key]++
	n := s.vals[key]
	s.mu.Unlock()
	return numerator.Format(cfg, period, n), nil
}
