package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/waveline/internal/jobs"
)

// Scheduler defaults. Aggregation runs often so daily stats track the
// event stream closely; the full rank/trend recompute is a heavier, less
// frequent cycle.
const (
	DefaultAggregationInterval  = 15 * time.Minute
	DefaultChartRefreshInterval = 24 * time.Hour
)

// SchedulerConfig configures the refresh scheduler.
type SchedulerConfig struct {
	// AggregationInterval is the cadence of aggregation passes.
	AggregationInterval time.Duration
	// ChartRefreshInterval is the cadence of full chart recomputes.
	ChartRefreshInterval time.Duration
	// Logger for scheduler activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking (optional).
	JobMetrics jobs.Recorder
}

// Scheduler triggers aggregation passes and chart refreshes on fixed
// intervals. It owns no computation itself; failed cycles are logged and
// the next tick self-heals.
type Scheduler struct {
	service *Service
	config  SchedulerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(service *Service, config SchedulerConfig) *Scheduler {
	if config.AggregationInterval <= 0 {
		config.AggregationInterval = DefaultAggregationInterval
	}
	if config.ChartRefreshInterval <= 0 {
		config.ChartRefreshInterval = DefaultChartRefreshInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Scheduler{
		service: service,
		config:  config,
	}
}

// Start begins the scheduler loop.
// Returns immediately; the loop runs in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
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

// Stop signals the scheduler to stop and waits for it to finish.
func (s *Scheduler) Stop() {
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

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	aggTicker := time.NewTicker(s.config.AggregationInterval)
	defer aggTicker.Stop()
	chartTicker := time.NewTicker(s.config.ChartRefreshInterval)
	defer chartTicker.Stop()

	s.config.Logger.Info("refresh scheduler started",
		slog.Duration("aggregation_interval", s.config.AggregationInterval),
		slog.Duration("chart_refresh_interval", s.config.ChartRefreshInterval))

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Info("refresh scheduler stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.config.Logger.Info("refresh scheduler stopping")
			return
		case <-aggTicker.C:
			s.runAggregation(ctx)
		case <-chartTicker.C:
			s.runChartRefresh(ctx)
		}
	}
}

func (s *Scheduler) runAggregation(ctx context.Context) {
	start := time.Now()
	summary, err := s.service.RunAggregationPass(ctx)
	s.record(jobs.JobTypeAggregationPass, start, err)
	if err != nil {
		if errors.Is(err, ErrRefreshInFlight) {
			s.config.Logger.Debug("aggregation pass still in flight, skipping tick")
			return
		}
		s.config.Logger.Error("scheduled aggregation pass failed",
			slog.String("error", err.Error()))
		return
	}
	if summary.Events > 0 {
		s.config.Logger.Debug("scheduled aggregation pass finished",
			slog.Int("events", summary.Events),
			slog.Int("applied", summary.Applied))
	}
}

func (s *Scheduler) runChartRefresh(ctx context.Context) {
	start := time.Now()
	err := s.service.RefreshAllScopes(ctx)
	s.record(jobs.JobTypeChartRefresh, start, err)
	if err != nil {
		s.config.Logger.Error("scheduled chart refresh failed",
			slog.String("error", err.Error()))
	}
}

func (s *Scheduler) record(jobType string, start time.Time, err error) {
	if s.config.JobMetrics == nil {
		return
	}
	status := jobs.StatusSuccess
	if err != nil && !errors.Is(err, ErrRefreshInFlight) {
		status = jobs.StatusFailure
		s.config.JobMetrics.IncJobErrors(jobType, "cycle_error")
	}
	s.config.JobMetrics.IncJobsTotal(jobType, status)
	s.config.JobMetrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
}
