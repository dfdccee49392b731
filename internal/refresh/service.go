// Package refresh orchestrates the aggregation and chart refresh cycles:
// aggregate -> score -> assemble -> publish, with per-scope single-flight
// guards and bounded parallelism across independent scopes.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/onnwee/waveline/internal/aggregate"
	"github.com/onnwee/waveline/internal/chart"
	"github.com/onnwee/waveline/internal/chartcache"
	"github.com/onnwee/waveline/internal/scoring"
)

// ErrRefreshInFlight is returned when a refresh for the same scope (or an
// aggregation pass) is already running. Overlapping invocations for one
// scope would interleave writes, so they are rejected rather than queued.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// Single-flight key for the aggregation pass, which is scope-independent.
const aggregationFlightKey = "aggregation"

// Service defaults.
const (
	DefaultScopeTimeout      = 2 * time.Minute
	DefaultMaxParallelScopes = 4
	DefaultPublishRetries    = 3
)

// Config configures the refresh service.
type Config struct {
	// Regions are the country scopes refreshed by RefreshAllScopes, in
	// addition to the global scope.
	Regions []string
	// Assembler holds serving limit and trend threshold.
	Assembler chart.AssemblerConfig
	// ScopeTimeout bounds one scope's refresh; an overrun abandons the
	// cycle and leaves the previous generation current.
	ScopeTimeout time.Duration
	// MaxParallelScopes bounds the RefreshAllScopes worker pool.
	MaxParallelScopes int
	// PublishRetries is how many times a failed publish is retried with
	// exponential backoff before the cycle is abandoned.
	PublishRetries uint64
	// Logger for cycle activity.
	Logger *slog.Logger
}

// Service wires the aggregator, score calculator, rank assembler, and
// generation store into scheduled and operator-triggered cycles.
type Service struct {
	aggregator *aggregate.Aggregator
	calculator *scoring.Calculator
	store      chartcache.Store
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool

	now func() time.Time
}

// NewService creates a new refresh service.
func NewService(agg *aggregate.Aggregator, calc *scoring.Calculator, store chartcache.Store, cfg Config) *Service {
	if cfg.ScopeTimeout <= 0 {
		cfg.ScopeTimeout = DefaultScopeTimeout
	}
	if cfg.MaxParallelScopes <= 0 {
		cfg.MaxParallelScopes = DefaultMaxParallelScopes
	}
	if cfg.PublishRetries == 0 {
		cfg.PublishRetries = DefaultPublishRetries
	}
	if cfg.Assembler.ServingLimit <= 0 {
		cfg.Assembler = chart.DefaultAssemblerConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		aggregator: agg,
		calculator: calc,
		store:      store,
		cfg:        cfg,
		logger:     cfg.Logger,
		inflight:   make(map[string]bool),
		now:        time.Now,
	}
}

// acquire marks a single-flight key as busy. Returns false when already held.
func (s *Service) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *Service) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}

// RunAggregationPass folds pending play events into daily stats. Guarded
// by its own single-flight key so scheduled and operator-triggered passes
// never interleave.
func (s *Service) RunAggregationPass(ctx context.Context) (aggregate.PassSummary, error) {
	if !s.acquire(aggregationFlightKey) {
		return aggregate.PassSummary{}, ErrRefreshInFlight
	}
	defer s.release(aggregationFlightKey)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ScopeTimeout)
	defer cancel()
	return s.aggregator.RunPass(ctx)
}

// RefreshChart recomputes and publishes one scope's chart. Returns
// ErrRefreshInFlight when the scope is already being refreshed. On any
// failure the previously published generation remains current.
func (s *Service) RefreshChart(ctx context.Context, scope chart.Scope) error {
	if !s.acquire(scope.Key()) {
		return fmt.Errorf("%w: %s", ErrRefreshInFlight, scope.Key())
	}
	defer s.release(scope.Key())

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ScopeTimeout)
	defer cancel()

	start := s.now()
	chartDay := aggregate.DayOf(start)

	candidates, err := s.calculator.Candidates(ctx, scope.Region, chartDay)
	if err != nil {
		return fmt.Errorf("failed to score scope %s: %w", scope.Key(), err)
	}
	if len(candidates) == 0 {
		// Nothing to chart; the previous generation stays current until
		// its TTL lapses.
		s.logger.Info("no chart candidates for scope, skipping publish",
			slog.String("scope", scope.Key()))
		return nil
	}

	var previous *chart.Generation
	prev, err := s.store.Current(ctx, scope)
	switch {
	case errors.Is(err, chartcache.ErrNoChart):
		// First publish for the scope; every entry will be New.
	case err != nil:
		return fmt.Errorf("failed to load previous generation for %s: %w", scope.Key(), err)
	default:
		previous = prev
	}

	entries := chart.Assemble(candidates, previous, start, s.cfg.Assembler)
	gen := chart.Generation{
		ID:        uuid.New().String(),
		Scope:     scope,
		ChartDay:  chartDay,
		Entries:   entries,
		CreatedAt: start.UTC(),
	}

	if err := s.publish(ctx, gen); err != nil {
		return fmt.Errorf("failed to publish generation for %s: %w", scope.Key(), err)
	}

	s.logger.Info("chart generation published",
		slog.String("scope", scope.Key()),
		slog.String("generation_id", gen.ID),
		slog.Int("entries", len(entries)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// publish writes the generation with exponential-backoff retries on
// transient store errors.
func (s *Service) publish(ctx context.Context, gen chart.Generation) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.PublishRetries),
		ctx)
	return backoff.Retry(func() error {
		return s.store.Publish(ctx, gen)
	}, policy)
}

// RefreshAllScopes refreshes the global scope plus every configured
// region. Scopes write disjoint partitions, so they run in parallel on a
// bounded worker pool; per-scope failures are collected, not fatal to the
// other scopes. Scopes already in flight are skipped.
func (s *Service) RefreshAllScopes(ctx context.Context) error {
	scopes := make([]chart.Scope, 0, len(s.cfg.Regions)+1)
	scopes = append(scopes, chart.GlobalScope())
	for _, region := range s.cfg.Regions {
		scopes = append(scopes, chart.CountryScope(region))
	}

	pool := pond.NewPool(s.cfg.MaxParallelScopes, pond.WithContext(ctx))

	var errMu sync.Mutex
	var errs []error
	for _, scope := range scopes {
		scope := scope
		pool.Submit(func() {
			err := s.RefreshChart(ctx, scope)
			if err == nil || errors.Is(err, ErrRefreshInFlight) {
				return
			}
			s.logger.Error("scope refresh failed",
				slog.String("scope", scope.Key()),
				slog.String("error", err.Error()))
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		})
	}
	pool.StopAndWait()

	return errors.Join(errs...)
}

// ForceRefresh is the operator entry point: identical to RefreshChart and
// subject to the same single-flight guard.
func (s *Service) ForceRefresh(ctx context.Context, scope chart.Scope) error {
	return s.RefreshChart(ctx, scope)
}

// ClearCache drops published generations matching the filter.
func (s *Service) ClearCache(ctx context.Context, filter chartcache.Filter) (int, error) {
	return s.store.Clear(ctx, filter)
}
