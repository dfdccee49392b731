package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/waveline/internal/catalog"
	"github.com/onnwee/waveline/internal/playlog"
)

// DefaultBatchSize bounds how many events a single pass folds.
const DefaultBatchSize = 10000

// Aggregator runs aggregation passes: it lists unfolded events, folds them
// into deltas, applies each delta, and marks the folded events. A failure
// in one (track, region) group never aborts the pass; the group's events
// stay unmarked and are retried on the next scheduled pass.
type Aggregator struct {
	events   playlog.Repository
	stats    StatsRepository
	catalog  catalog.Provider
	counters *UpsertStats
	metrics  *Metrics
	logger   *slog.Logger

	batchSize int
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// BatchSize bounds events per pass. Default: DefaultBatchSize.
	BatchSize int
	// Logger for pass activity.
	Logger *slog.Logger
	// Metrics for pass tracking (optional).
	Metrics *Metrics
}

// NewAggregator creates a new Aggregator.
func NewAggregator(events playlog.Repository, stats StatsRepository, cat catalog.Provider, cfg AggregatorConfig) *Aggregator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Aggregator{
		events:    events,
		stats:     stats,
		catalog:   cat,
		counters:  NewUpsertStats(),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
	}
}

// PassSummary reports what one aggregation pass did.
type PassSummary struct {
	Events       int
	Groups       int
	Applied      int
	FailedGroups int
}

// Counters exposes the cumulative upsert counters.
func (a *Aggregator) Counters() *UpsertStats {
	return a.counters
}

// PendingEvents returns the current aggregation backlog size.
func (a *Aggregator) PendingEvents(ctx context.Context) (int64, error) {
	return a.events.CountPending(ctx)
}

// RunPass executes one aggregation pass. Per-group failures are logged and
// skipped; RunPass returns an error only when the pass cannot proceed at
// all (listing events failed).
func (a *Aggregator) RunPass(ctx context.Context) (PassSummary, error) {
	start := time.Now()
	var summary PassSummary

	events, err := a.events.ListUnaggregated(ctx, a.batchSize)
	if err != nil {
		return summary, err
	}
	summary.Events = len(events)
	if len(events) == 0 {
		a.finishPass(ctx, start)
		return summary, nil
	}

	deltas := Fold(events)
	summary.Groups = len(deltas)

	for _, delta := range deltas {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := a.applyGroup(ctx, delta); err != nil {
			summary.FailedGroups++
			if a.metrics != nil {
				a.metrics.IncGroupErrors()
			}
			a.logger.Warn("failed to aggregate group, will retry next pass",
				slog.String("error", err.Error()),
				slog.String("track_id", delta.TrackID),
				slog.String("region", delta.Region))
			continue
		}
		summary.Applied++
		if a.metrics != nil {
			a.metrics.AddEventsAggregated(len(delta.EventIDs))
		}
	}

	a.logger.Info("aggregation pass complete",
		slog.Int("events", summary.Events),
		slog.Int("groups", summary.Groups),
		slog.Int("applied", summary.Applied),
		slog.Int("failed_groups", summary.FailedGroups),
		slog.Duration("elapsed", time.Since(start)))

	a.finishPass(ctx, start)
	return summary, nil
}

// applyGroup upserts one delta and marks its source events as folded.
func (a *Aggregator) applyGroup(ctx context.Context, delta StatsDelta) error {
	track, err := a.catalog.GetTrack(ctx, delta.TrackID)
	if err != nil {
		if errors.Is(err, catalog.ErrTrackNotFound) {
			// Track deleted since the play was recorded. The group can
			// never aggregate; mark its events so they stop backing up
			// the queue until the retention purge removes them.
			a.logger.Warn("dropping events for deleted track",
				slog.String("track_id", delta.TrackID),
				slog.Int("events", len(delta.EventIDs)))
			return a.events.MarkAggregated(ctx, delta.EventIDs)
		}
		return err
	}

	inserted, err := a.stats.ApplyDelta(ctx, delta, *track)
	if err != nil {
		return err
	}
	if inserted {
		a.counters.RecordInsert()
	} else {
		a.counters.RecordUpdate()
	}

	return a.events.MarkAggregated(ctx, delta.EventIDs)
}

func (a *Aggregator) finishPass(ctx context.Context, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.ObservePassDuration(time.Since(start).Seconds())
	a.metrics.SetLastPassTimestamp(float64(time.Now().Unix()))
	if pending, err := a.events.CountPending(ctx); err == nil {
		a.metrics.SetPendingEvents(pending)
	}
}
