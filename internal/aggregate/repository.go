package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/waveline/internal/catalog"
	"github.com/onnwee/waveline/internal/playlog"
	"github.com/onnwee/waveline/internal/tracing"
)

// StatsRepository persists daily stats rows and serves trailing-window
// reads for the score calculator.
type StatsRepository interface {
	// ApplyDelta upserts one delta: counts increment, unique listeners
	// merge by running maximum, and the catalog snapshot is refreshed.
	// Returns whether a new row was created.
	ApplyDelta(ctx context.Context, delta StatsDelta, meta catalog.TrackInfo) (bool, error)

	// WindowStats returns stats rows for a scope between from and to
	// (inclusive, UTC dates). For region playlog.RegionGlobal the rows of
	// all regions are summed per (track, day); other regions return their
	// own partition only.
	WindowStats(ctx context.Context, region string, from, to time.Time) ([]DayStats, error)

	// DeleteOlderThan removes rows for days before the cutoff date.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresStatsRepository implements StatsRepository using PostgreSQL.
type PostgresStatsRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStatsRepository creates a new PostgresStatsRepository.
func NewPostgresStatsRepository(db *sql.DB, logger *slog.Logger) *PostgresStatsRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStatsRepository{db: db, logger: logger}
}

// ApplyDelta upserts one delta with increment semantics.
// The (xmax = 0) trick distinguishes a fresh insert from a conflict update.
func (r *PostgresStatsRepository) ApplyDelta(ctx context.Context, delta StatsDelta, meta catalog.TrackInfo) (bool, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "daily_track_stats", tracing.DBOperationUpsert)
	query := `
		INSERT INTO daily_track_stats (
			track_id, day, region,
			listen_count, valid_listen_count, unique_listeners, total_listened_ms,
			track_title, artist_id, genre, track_duration_ms, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (track_id, day, region) DO UPDATE SET
			listen_count       = daily_track_stats.listen_count + EXCLUDED.listen_count,
			valid_listen_count = daily_track_stats.valid_listen_count + EXCLUDED.valid_listen_count,
			unique_listeners   = GREATEST(daily_track_stats.unique_listeners, EXCLUDED.unique_listeners),
			total_listened_ms  = daily_track_stats.total_listened_ms + EXCLUDED.total_listened_ms,
			track_title        = EXCLUDED.track_title,
			artist_id          = EXCLUDED.artist_id,
			genre              = EXCLUDED.genre,
			track_duration_ms  = EXCLUDED.track_duration_ms,
			updated_at         = NOW()
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		delta.TrackID, delta.Day, delta.Region,
		delta.Listens, delta.ValidListens, delta.UniqueListeners, delta.TotalListened.Milliseconds(),
		meta.Title, meta.ArtistID, meta.Genre, meta.Duration.Milliseconds(),
	).Scan(&inserted)
	endSpan(err)
	if err != nil {
		r.logger.Error("failed to apply stats delta",
			slog.String("error", err.Error()),
			slog.String("track_id", delta.TrackID),
			slog.String("region", delta.Region))
		return false, fmt.Errorf("failed to apply stats delta: %w", err)
	}
	return inserted, nil
}

// WindowStats returns stats rows for the scope's trailing window.
func (r *PostgresStatsRepository) WindowStats(ctx context.Context, region string, from, to time.Time) (stats []DayStats, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "daily_track_stats", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var rows *sql.Rows
	if region == playlog.RegionGlobal {
		// The global scope spans every region, so per-region partitions
		// are summed per (track, day).
		query := `
			SELECT track_id, day, $3::text AS region,
			       SUM(listen_count), SUM(valid_listen_count), SUM(unique_listeners), SUM(total_listened_ms),
			       MAX(track_title), MAX(artist_id), MAX(genre), MAX(track_duration_ms), MAX(updated_at)
			FROM daily_track_stats
			WHERE day BETWEEN $1 AND $2
			GROUP BY track_id, day
			ORDER BY track_id, day
		`
		rows, err = r.db.QueryContext(ctx, query, from, to, playlog.RegionGlobal)
	} else {
		query := `
			SELECT track_id, day, region,
			       listen_count, valid_listen_count, unique_listeners, total_listened_ms,
			       track_title, artist_id, genre, track_duration_ms, updated_at
			FROM daily_track_stats
			WHERE region = $3 AND day BETWEEN $1 AND $2
			ORDER BY track_id, day
		`
		rows, err = r.db.QueryContext(ctx, query, from, to, region)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query window stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s DayStats
		var totalMs, durationMs int64
		if err := rows.Scan(&s.TrackID, &s.Day, &s.Region,
			&s.ListenCount, &s.ValidListenCount, &s.UniqueListeners, &totalMs,
			&s.TrackTitle, &s.ArtistID, &s.Genre, &durationMs, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		s.TotalListened = time.Duration(totalMs) * time.Millisecond
		s.TrackDuration = time.Duration(durationMs) * time.Millisecond
		s.Day = DayOf(s.Day)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats rows: %w", err)
	}
	return stats, nil
}

// DeleteOlderThan removes rows for days before the cutoff date.
func (r *PostgresStatsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM daily_track_stats WHERE day < $1`, DayOf(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old stats rows: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted stats rows: %w", err)
	}
	return deleted, nil
}

// InMemoryStatsRepository is an in-memory StatsRepository implementation
// for testing and development.
type InMemoryStatsRepository struct {
	mu    sync.RWMutex
	stats map[string]DayStats // key: trackID|day|region
}

// NewInMemoryStatsRepository creates a new in-memory stats repository.
func NewInMemoryStatsRepository() *InMemoryStatsRepository {
	return &InMemoryStatsRepository{
		stats: make(map[string]DayStats),
	}
}

func statsKey(trackID string, day time.Time, region string) string {
	return trackID + "|" + day.Format("2006-01-02") + "|" + region
}

// ApplyDelta upserts one delta with increment semantics.
func (r *InMemoryStatsRepository) ApplyDelta(ctx context.Context, delta StatsDelta, meta catalog.TrackInfo) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := statsKey(delta.TrackID, delta.Day, delta.Region)
	row, exists := r.stats[key]
	if !exists {
		row = DayStats{TrackID: delta.TrackID, Day: delta.Day, Region: delta.Region}
	}

	row.ListenCount += delta.Listens
	row.ValidListenCount += delta.ValidListens
	if delta.UniqueListeners > row.UniqueListeners {
		row.UniqueListeners = delta.UniqueListeners
	}
	row.TotalListened += delta.TotalListened
	row.TrackTitle = meta.Title
	row.ArtistID = meta.ArtistID
	row.Genre = meta.Genre
	row.TrackDuration = meta.Duration
	row.UpdatedAt = time.Now().UTC()

	r.stats[key] = row
	return !exists, nil
}

// WindowStats returns stats rows for the scope's trailing window.
func (r *InMemoryStatsRepository) WindowStats(ctx context.Context, region string, from, to time.Time) ([]DayStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	from, to = DayOf(from), DayOf(to)

	if region == playlog.RegionGlobal {
		merged := make(map[string]DayStats)
		for _, s := range r.stats {
			if s.Day.Before(from) || s.Day.After(to) {
				continue
			}
			key := statsKey(s.TrackID, s.Day, playlog.RegionGlobal)
			agg, ok := merged[key]
			if !ok {
				agg = DayStats{TrackID: s.TrackID, Day: s.Day, Region: playlog.RegionGlobal}
			}
			agg.ListenCount += s.ListenCount
			agg.ValidListenCount += s.ValidListenCount
			agg.UniqueListeners += s.UniqueListeners
			agg.TotalListened += s.TotalListened
			agg.TrackTitle = s.TrackTitle
			agg.ArtistID = s.ArtistID
			agg.Genre = s.Genre
			agg.TrackDuration = s.TrackDuration
			merged[key] = agg
		}
		return sortedStats(merged), nil
	}

	result := make(map[string]DayStats)
	for key, s := range r.stats {
		if s.Region == region && !s.Day.Before(from) && !s.Day.After(to) {
			result[key] = s
		}
	}
	return sortedStats(result), nil
}

// DeleteOlderThan removes rows for days before the cutoff date.
func (r *InMemoryStatsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoffDay := DayOf(cutoff)
	var deleted int64
	for key, s := range r.stats {
		if s.Day.Before(cutoffDay) {
			delete(r.stats, key)
			deleted++
		}
	}
	return deleted, nil
}

// Get returns a single row, for tests. Returns nil if absent.
func (r *InMemoryStatsRepository) Get(trackID string, day time.Time, region string) *DayStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.stats[statsKey(trackID, DayOf(day), region)]; ok {
		return &s
	}
	return nil
}

func sortedStats(m map[string]DayStats) []DayStats {
	result := make([]DayStats, 0, len(m))
	for _, s := range m {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TrackID != result[j].TrackID {
			return result[i].TrackID < result[j].TrackID
		}
		return result[i].Day.Before(result[j].Day)
	})
	return result
}
