package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/waveline/internal/aggregate"
	"github.com/onnwee/waveline/internal/catalog"
)

// StatsSource provides trailing-window stats rows for a scope.
// Satisfied by aggregate.StatsRepository.
type StatsSource interface {
	WindowStats(ctx context.Context, region string, from, to time.Time) ([]aggregate.DayStats, error)
}

// Candidate is one scored track handed to the rank assembler, carrying the
// fields the assembler needs for deterministic ordering and denormalized
// display.
type Candidate struct {
	TrackID      string
	Score        float64
	ValidListens int64
	Track        catalog.TrackInfo
}

// Calculator computes decayed window scores per scope.
type Calculator struct {
	stats   StatsSource
	catalog catalog.Provider
	weights *Weights
	logger  *slog.Logger

	candidateCap int
}

// CalculatorConfig configures a Calculator.
type CalculatorConfig struct {
	// Weights is the decay configuration. Default: DefaultWeights().
	Weights *Weights
	// CandidateCap bounds the candidate list. Default: DefaultCandidateCap.
	CandidateCap int
	// Logger for per-track skip decisions.
	Logger *slog.Logger
}

// NewCalculator creates a new Calculator.
func NewCalculator(stats StatsSource, cat catalog.Provider, cfg CalculatorConfig) *Calculator {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = DefaultCandidateCap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Calculator{
		stats:        stats,
		catalog:      cat,
		weights:      cfg.Weights,
		logger:       cfg.Logger,
		candidateCap: cfg.CandidateCap,
	}
}

// Candidates scores every eligible track in the scope's trailing window
// ending at chartDay and returns at most the configured cap, ordered by
// score descending with a deterministic tie-break (valid listens desc,
// then track ID asc). Tracks scoring zero are never candidates.
func (c *Calculator) Candidates(ctx context.Context, region string, chartDay time.Time) ([]Candidate, error) {
	chartDay = aggregate.DayOf(chartDay)
	from := c.weights.WindowStart(chartDay)

	rows, err := c.stats.WindowStats(ctx, region, from, chartDay)
	if err != nil {
		return nil, fmt.Errorf("failed to load window stats: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	type trackScore struct {
		score        float64
		validListens int64
	}
	scores := make(map[string]*trackScore)
	trackIDs := make([]string, 0)

	for _, row := range rows {
		// Weight by day offset from the chart day so window gaps
		// contribute zero instead of shifting later weights.
		weight := c.weights.WeightForOffset(DayOffset(chartDay, row.Day))
		ts, ok := scores[row.TrackID]
		if !ok {
			ts = &trackScore{}
			scores[row.TrackID] = ts
			trackIDs = append(trackIDs, row.TrackID)
		}
		ts.score += float64(row.ValidListenCount) * weight
		ts.validListens += row.ValidListenCount
	}

	tracks, err := c.catalog.GetTracks(ctx, trackIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load track metadata: %w", err)
	}

	candidates := make([]Candidate, 0, len(trackIDs))
	for _, id := range trackIDs {
		ts := scores[id]
		if ts.score <= 0 {
			continue
		}
		track, ok := tracks[id]
		if !ok {
			// Track removed between aggregation and scoring; omit it
			// rather than failing the scope.
			c.logger.Debug("skipping track missing from catalog", "track_id", id)
			continue
		}
		if !track.Eligible() {
			continue
		}
		candidates = append(candidates, Candidate{
			TrackID:      id,
			Score:        ts.score,
			ValidListens: ts.validListens,
			Track:        track,
		})
	}

	SortCandidates(candidates)
	if len(candidates) > c.candidateCap {
		candidates = candidates[:c.candidateCap]
	}
	return candidates, nil
}

// SortCandidates orders candidates by score descending, breaking ties by
// valid listens descending then track ID ascending. Re-running on
// identical input always yields the identical order.
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].ValidListens != candidates[j].ValidListens {
			return candidates[i].ValidListens > candidates[j].ValidListens
		}
		return candidates[i].TrackID < candidates[j].TrackID
	})
}
