// Package retention purges aged chart-engine data on a fixed cadence.
// Each tier keeps its own window: play events are ephemeral, daily stats
// live for the scoring horizon, and published generations expire via their
// own cache TTL and need no purge here.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/waveline/internal/jobs"
)

// Default retention windows and purge cadence.
const (
	// DefaultEventRetention keeps play events for about a day; they only
	// need to survive long enough to be aggregated (at least once).
	DefaultEventRetention = 24 * time.Hour

	// DefaultStatsRetention keeps daily stats well past the scoring
	// window for operational inspection and re-ranking.
	DefaultStatsRetention = 90 * 24 * time.Hour

	// DefaultPurgeInterval is how often the purge job runs.
	DefaultPurgeInterval = 1 * time.Hour

	// DefaultPurgeTimeout bounds a single purge cycle.
	DefaultPurgeTimeout = 5 * time.Minute
)

// Target is one purgeable data tier.
type Target struct {
	// Name identifies the tier in logs.
	Name string
	// Retention is how old a record may grow before the purge removes it.
	Retention time.Duration
	// Purge removes records older than the cutoff and reports how many.
	Purge func(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config configures the retention service.
type Config struct {
	// Interval is the duration between purge cycles.
	Interval time.Duration
	// Timeout bounds each purge cycle.
	Timeout time.Duration
	// Logger for purge activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking (optional).
	JobMetrics jobs.Recorder
}

// Service periodically purges every registered target.
type Service struct {
	targets []Target
	config  Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewService creates a new retention service over the given targets.
func NewService(targets []Target, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultPurgeInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultPurgeTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Service{
		targets: targets,
		config:  config,
	}
}

// Start begins the purge loop.
// Returns immediately; the loop runs in a background goroutine.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop signals the purge loop to stop and waits for it to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// run is the purge loop.
func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.config.Logger.Info("retention service started",
		slog.Duration("interval", s.config.Interval),
		slog.Int("targets", len(s.targets)))

	// Run an initial purge immediately so restarts don't accumulate lag.
	s.PurgeOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Info("retention service stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.config.Logger.Info("retention service stopping")
			return
		case <-ticker.C:
			s.PurgeOnce(ctx)
		}
	}
}

// PurgeOnce runs one purge cycle across all targets. A failed target is
// logged and skipped; the next cycle retries it.
func (s *Service) PurgeOnce(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	var failed bool

	for _, target := range s.targets {
		cutoff := time.Now().UTC().Add(-target.Retention)
		deleted, err := target.Purge(ctx, cutoff)
		if err != nil {
			failed = true
			s.config.Logger.Error("retention purge failed",
				slog.String("target", target.Name),
				slog.String("error", err.Error()))
			if s.config.JobMetrics != nil {
				s.config.JobMetrics.IncJobErrors(jobs.JobTypeRetentionPurge, target.Name)
			}
			continue
		}
		if deleted > 0 {
			s.config.Logger.Info("retention purge removed records",
				slog.String("target", target.Name),
				slog.Int64("deleted", deleted),
				slog.Time("cutoff", cutoff))
		}
	}

	if s.config.JobMetrics != nil {
		status := jobs.StatusSuccess
		if failed {
			status = jobs.StatusFailure
		}
		s.config.JobMetrics.IncJobsTotal(jobs.JobTypeRetentionPurge, status)
		s.config.JobMetrics.ObserveJobDuration(jobs.JobTypeRetentionPurge, time.Since(start).Seconds())
	}
}
