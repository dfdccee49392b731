// Package chartcache is the chart serving layer: a generation-versioned
// store of published chart entries plus the read service that answers
// top-N, trending, and mover queries without ever triggering computation.
package chartcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/onnwee/waveline/internal/chart"
)

// DefaultGenerationTTL is how long a published generation stays servable
// after publish, independent of the refresh cadence.
const DefaultGenerationTTL = 7 * 24 * time.Hour

// ErrNoChart is returned when a scope has no current, unexpired generation.
var ErrNoChart = errors.New("no chart published for scope")

// Store persists chart generations. Publish writes the full generation
// under a fresh identifier and then flips the scope's current-generation
// pointer, so readers always observe a complete generation: never a
// partially-replaced or transiently empty chart.
type Store interface {
	// Publish stores a new generation and makes it current for its scope.
	Publish(ctx context.Context, gen chart.Generation) error

	// Current returns the scope's current generation.
	// Returns ErrNoChart when none has been published or the latest
	// generation's TTL has lapsed.
	Current(ctx context.Context, scope chart.Scope) (*chart.Generation, error)

	// Scopes lists every scope that currently has a published generation.
	Scopes(ctx context.Context) ([]chart.Scope, error)

	// Clear drops the current generation for the matching scopes and
	// returns how many scopes were cleared.
	Clear(ctx context.Context, filter Filter) (int, error)
}

// Filter selects scopes for administrative operations. Zero value matches
// every scope.
type Filter struct {
	// Type restricts to one scope type when non-empty.
	Type chart.ScopeType
	// Region restricts to one region when non-empty.
	Region string
}

// Matches reports whether a scope satisfies the filter.
func (f Filter) Matches(scope chart.Scope) bool {
	if f.Type != "" && scope.Type != f.Type {
		return false
	}
	if f.Region != "" && scope.Region != f.Region {
		return false
	}
	return true
}

// InMemoryStore is an in-memory Store implementation for testing and
// development. TTL expiry is evaluated on read against the injected clock.
type InMemoryStore struct {
	mu      sync.RWMutex
	current map[string]chart.Generation // scope key -> current generation
	expiry  map[string]time.Time        // scope key -> generation expiry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory generation store.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultGenerationTTL
	}
	return &InMemoryStore{
		current: make(map[string]chart.Generation),
		expiry:  make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the store's clock, for TTL tests.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Publish stores a new generation and flips the current pointer.
func (s *InMemoryStore) Publish(ctx context.Context, gen chart.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := gen.Scope.Key()
	s.current[key] = gen
	s.expiry[key] = s.now().Add(s.ttl)
	return nil
}

// Current returns the scope's current generation, or ErrNoChart.
func (s *InMemoryStore) Current(ctx context.Context, scope chart.Scope) (*chart.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := scope.Key()
	gen, ok := s.current[key]
	if !ok || s.now().After(s.expiry[key]) {
		return nil, ErrNoChart
	}
	// Return a copy to avoid external modification
	genCopy := gen
	genCopy.Entries = append([]chart.Entry(nil), gen.Entries...)
	return &genCopy, nil
}

// Scopes lists every scope with an unexpired generation.
func (s *InMemoryStore) Scopes(ctx context.Context) ([]chart.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scopes := make([]chart.Scope, 0, len(s.current))
	for key, gen := range s.current {
		if s.now().After(s.expiry[key]) {
			continue
		}
		scopes = append(scopes, gen.Scope)
	}
	return scopes, nil
}

// Clear drops current generations matching the filter.
func (s *InMemoryStore) Clear(ctx context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared int
	for key, gen := range s.current {
		if filter.Matches(gen.Scope) {
			delete(s.current, key)
			delete(s.expiry, key)
			cleared++
		}
	}
	return cleared, nil
}
