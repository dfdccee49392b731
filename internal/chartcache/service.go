package chartcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/waveline/internal/catalog"
	"github.com/onnwee/waveline/internal/chart"
	"github.com/onnwee/waveline/internal/signing"
)

// MoverDirection selects which movers GetTopMovers returns.
type MoverDirection string

// Mover directions.
const (
	MoversUp   MoverDirection = "up"
	MoversDown MoverDirection = "down"
)

// ErrInvalidDirection is returned for an unrecognized mover direction.
var ErrInvalidDirection = errors.New("invalid mover direction")

// BacklogSource reports the aggregation backlog for operational stats.
// Satisfied by playlog.Repository.
type BacklogSource interface {
	CountPending(ctx context.Context) (int64, error)
}

// Row is one served chart position. Display fields are re-fetched live
// from the catalog at read time so titles stay current while the chart
// ages within its TTL; the generation's denormalized snapshot is the
// fallback when the catalog no longer knows the track.
type Row struct {
	Rank         int           `json:"rank"`
	TrackID      string        `json:"track_id"`
	Title        string        `json:"title"`
	ArtistID     string        `json:"artist_id"`
	Genre        string        `json:"genre"`
	Duration     time.Duration `json:"duration"`
	Score        float64       `json:"score"`
	Trend        chart.Trend   `json:"trend"`
	PreviousRank *int          `json:"previous_rank,omitempty"`
	RankDelta    int           `json:"rank_delta"`
	DaysInChart  int           `json:"days_in_chart"`
	BestRank     int           `json:"best_rank"`
	// CoverURL is a time-limited signed URL; empty when signing failed or
	// is unavailable. A missing URL never fails the read.
	CoverURL string `json:"cover_url,omitempty"`
}

// ScopeStats summarizes one scope for operational inspection.
type ScopeStats struct {
	Scope        chart.Scope `json:"scope"`
	GenerationID string      `json:"generation_id"`
	ChartDay     time.Time   `json:"chart_day"`
	PublishedAt  time.Time   `json:"published_at"`
	Entries      int         `json:"entries"`
}

// OperationalStats reports cache freshness and backlog for monitoring.
type OperationalStats struct {
	ActiveScopes  int          `json:"active_scopes"`
	Scopes        []ScopeStats `json:"scopes"`
	PendingEvents int64        `json:"pending_events"`
}

// Service answers chart read queries against the current published
// generations. Reads are point lookups: they never block on refreshes and
// never trigger computation.
type Service struct {
	store   Store
	catalog catalog.Provider
	signer  signing.Signer
	backlog BacklogSource
	logger  *slog.Logger

	defaultLimit int
}

// ServiceConfig configures the serving layer.
type ServiceConfig struct {
	// DefaultLimit caps reads that pass limit <= 0. Default: 50.
	DefaultLimit int
	// Signer produces time-limited cover art URLs (optional).
	Signer signing.Signer
	// Backlog reports pending events for operational stats (optional).
	Backlog BacklogSource
	// Logger for degraded-read decisions.
	Logger *slog.Logger
}

// NewService creates a new chart read service.
func NewService(store Store, cat catalog.Provider, cfg ServiceConfig) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = chart.DefaultServingLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:        store,
		catalog:      cat,
		signer:       cfg.Signer,
		backlog:      cfg.Backlog,
		logger:       cfg.Logger,
		defaultLimit: cfg.DefaultLimit,
	}
}

// GetChart returns the scope's current chart in rank order, at most limit
// rows.
func (s *Service) GetChart(ctx context.Context, scope chart.Scope, limit int) ([]Row, error) {
	entries, err := s.currentEntries(ctx, scope)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	return s.enrich(ctx, clipEntries(entries, s.clampLimit(limit))), nil
}

// GetTrendingTracks returns the region's chart re-ordered by momentum:
// new entries first (by rank), then climbers by rank delta, then the rest.
func (s *Service) GetTrendingTracks(ctx context.Context, region string, limit int) ([]Row, error) {
	entries, err := s.currentEntries(ctx, chart.ScopeForRegion(region))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		iNew, jNew := entries[i].Trend == chart.TrendNew, entries[j].Trend == chart.TrendNew
		if iNew != jNew {
			return iNew
		}
		if entries[i].RankDelta != entries[j].RankDelta {
			return entries[i].RankDelta > entries[j].RankDelta
		}
		return entries[i].Rank < entries[j].Rank
	})
	return s.enrich(ctx, clipEntries(entries, s.clampLimit(limit))), nil
}

// GetTopMovers returns entries that moved in the requested direction,
// biggest movement first. New entries carry no delta and are excluded.
func (s *Service) GetTopMovers(ctx context.Context, region string, limit int, direction MoverDirection) ([]Row, error) {
	if direction != MoversUp && direction != MoversDown {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
	entries, err := s.currentEntries(ctx, chart.ScopeForRegion(region))
	if err != nil {
		return nil, err
	}

	movers := entries[:0]
	for _, e := range entries {
		if e.Trend == chart.TrendNew {
			continue
		}
		if direction == MoversUp && e.RankDelta > 0 {
			movers = append(movers, e)
		}
		if direction == MoversDown && e.RankDelta < 0 {
			movers = append(movers, e)
		}
	}

	sort.SliceStable(movers, func(i, j int) bool {
		if direction == MoversUp {
			if movers[i].RankDelta != movers[j].RankDelta {
				return movers[i].RankDelta > movers[j].RankDelta
			}
		} else {
			if movers[i].RankDelta != movers[j].RankDelta {
				return movers[i].RankDelta < movers[j].RankDelta
			}
		}
		return movers[i].Rank < movers[j].Rank
	})
	return s.enrich(ctx, clipEntries(movers, s.clampLimit(limit))), nil
}

// Stats reports cache freshness and the aggregation backlog.
func (s *Service) Stats(ctx context.Context) (*OperationalStats, error) {
	scopes, err := s.store.Scopes(ctx)
	if err != nil {
		return nil, err
	}

	stats := &OperationalStats{Scopes: make([]ScopeStats, 0, len(scopes))}
	for _, scope := range scopes {
		gen, err := s.store.Current(ctx, scope)
		if errors.Is(err, ErrNoChart) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stats.Scopes = append(stats.Scopes, ScopeStats{
			Scope:        gen.Scope,
			GenerationID: gen.ID,
			ChartDay:     gen.ChartDay,
			PublishedAt:  gen.CreatedAt,
			Entries:      len(gen.Entries),
		})
	}
	sort.Slice(stats.Scopes, func(i, j int) bool {
		return stats.Scopes[i].Scope.Key() < stats.Scopes[j].Scope.Key()
	})
	stats.ActiveScopes = len(stats.Scopes)

	if s.backlog != nil {
		pending, err := s.backlog.CountPending(ctx)
		if err != nil {
			// Backlog size is advisory; degrade rather than fail.
			s.logger.Warn("failed to count pending events", slog.String("error", err.Error()))
		} else {
			stats.PendingEvents = pending
		}
	}
	return stats, nil
}

// Inspect returns scope summaries matching the filter.
func (s *Service) Inspect(ctx context.Context, filter Filter) ([]ScopeStats, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]ScopeStats, 0, len(stats.Scopes))
	for _, sc := range stats.Scopes {
		if filter.Matches(sc.Scope) {
			matched = append(matched, sc)
		}
	}
	return matched, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 || limit > s.defaultLimit {
		return s.defaultLimit
	}
	return limit
}

func (s *Service) currentEntries(ctx context.Context, scope chart.Scope) ([]chart.Entry, error) {
	gen, err := s.store.Current(ctx, scope)
	if err != nil {
		return nil, err
	}
	return append([]chart.Entry(nil), gen.Entries...), nil
}

func clipEntries(entries []chart.Entry, limit int) []chart.Entry {
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

// enrich converts entries to served rows, re-fetching live catalog
// metadata and signing cover URLs. Catalog misses fall back to the
// generation's denormalized snapshot; signing failures leave the URL
// empty. Neither ever fails the read.
func (s *Service) enrich(ctx context.Context, entries []chart.Entry) []Row {
	trackIDs := make([]string, len(entries))
	for i, e := range entries {
		trackIDs[i] = e.TrackID
	}
	live, err := s.catalog.GetTracks(ctx, trackIDs)
	if err != nil {
		s.logger.Warn("catalog lookup failed, serving denormalized snapshots",
			slog.String("error", err.Error()))
		live = nil
	}

	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		row := Row{
			Rank:         e.Rank,
			TrackID:      e.TrackID,
			Title:        e.TrackTitle,
			ArtistID:     e.ArtistID,
			Genre:        e.Genre,
			Duration:     e.TrackDuration,
			Score:        e.Score,
			Trend:        e.Trend,
			PreviousRank: e.PreviousRank,
			RankDelta:    e.RankDelta,
			DaysInChart:  e.DaysInChart,
			BestRank:     e.BestRank,
		}

		var coverKey string
		if track, ok := live[e.TrackID]; ok {
			row.Title = track.Title
			row.ArtistID = track.ArtistID
			row.Genre = track.Genre
			row.Duration = track.Duration
			coverKey = track.CoverKey
		}

		if s.signer != nil && coverKey != "" {
			url, err := s.signer.SignedURL(ctx, coverKey)
			if err != nil {
				s.logger.Debug("cover URL signing failed, serving without URL",
					slog.String("track_id", e.TrackID),
					slog.String("error", err.Error()))
			} else {
				row.CoverURL = url
			}
		}

		rows = append(rows, row)
	}
	return rows
}
