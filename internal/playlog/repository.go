package playlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/waveline/internal/tracing"
)

// Repository defines the event log operations the aggregator and cleanup
// depend on. Consumption is at-least-once: events stay in the log after
// aggregation and are removed only by the retention purge.
type Repository interface {
	// Insert appends a play event to the log.
	Insert(ctx context.Context, event *PlayEvent) error

	// ListUnaggregated returns up to limit events that have not yet been
	// folded into daily stats, oldest first.
	ListUnaggregated(ctx context.Context, limit int) ([]PlayEvent, error)

	// MarkAggregated flags events as folded so the next pass skips them.
	// A crash between the stats upsert and this call re-folds the events
	// on the next pass; that double count is the accepted cost of
	// at-least-once consumption.
	MarkAggregated(ctx context.Context, eventIDs []string) error

	// DeleteOlderThan removes events played before the cutoff, aggregated
	// or not. Returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// CountPending returns the number of events awaiting aggregation.
	CountPending(ctx context.Context) (int64, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Insert appends a play event to the log.
func (r *PostgresRepository) Insert(ctx context.Context, event *PlayEvent) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "play_events", tracing.DBOperationInsert)
	query := `
		INSERT INTO play_events (id, track_id, listener_id, session_id, region, listened_ms, valid, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.TrackID, event.ListenerID, event.SessionID,
		event.Region, event.Listened.Milliseconds(), event.Valid, event.PlayedAt)
	endSpan(err)
	if err != nil {
		r.logger.Error("failed to insert play event",
			slog.String("error", err.Error()),
			slog.String("track_id", event.TrackID))
		return fmt.Errorf("failed to insert play event: %w", err)
	}
	return nil
}

// ListUnaggregated returns events not yet folded into daily stats.
func (r *PostgresRepository) ListUnaggregated(ctx context.Context, limit int) ([]PlayEvent, error) {
	query := `
		SELECT id, track_id, listener_id, session_id, region, listened_ms, valid, played_at
		FROM play_events
		WHERE aggregated_at IS NULL
		ORDER BY played_at ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unaggregated events: %w", err)
	}
	defer rows.Close()

	var events []PlayEvent
	for rows.Next() {
		var e PlayEvent
		var listenedMs int64
		if err := rows.Scan(&e.ID, &e.TrackID, &e.ListenerID, &e.SessionID, &e.Region, &listenedMs, &e.Valid, &e.PlayedAt); err != nil {
			return nil, fmt.Errorf("failed to scan play event: %w", err)
		}
		e.Listened = time.Duration(listenedMs) * time.Millisecond
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate play events: %w", err)
	}
	return events, nil
}

// MarkAggregated flags events as folded.
func (r *PostgresRepository) MarkAggregated(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	query := `UPDATE play_events SET aggregated_at = NOW() WHERE id = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(eventIDs)); err != nil {
		return fmt.Errorf("failed to mark events aggregated: %w", err)
	}
	return nil
}

// DeleteOlderThan removes events played before the cutoff.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "play_events", tracing.DBOperationDelete)
	result, err := r.db.ExecContext(ctx, `DELETE FROM play_events WHERE played_at < $1`, cutoff)
	endSpan(err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old play events: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted play events: %w", err)
	}
	return deleted, nil
}

// CountPending returns the number of events awaiting aggregation.
func (r *PostgresRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM play_events WHERE aggregated_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

// InMemoryRepository is an in-memory Repository implementation for testing
// and development.
type InMemoryRepository struct {
	mu         sync.RWMutex
	events     map[string]PlayEvent
	aggregated map[string]bool
}

// NewInMemoryRepository creates a new in-memory event log.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		events:     make(map[string]PlayEvent),
		aggregated: make(map[string]bool),
	}
}

// Insert appends a play event to the log.
func (r *InMemoryRepository) Insert(ctx context.Context, event *PlayEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = *event
	return nil
}

// ListUnaggregated returns events not yet folded, oldest first.
func (r *InMemoryRepository) ListUnaggregated(ctx context.Context, limit int) ([]PlayEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var events []PlayEvent
	for id, e := range r.events {
		if !r.aggregated[id] {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].PlayedAt.Equal(events[j].PlayedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].PlayedAt.Before(events[j].PlayedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// MarkAggregated flags events as folded.
func (r *InMemoryRepository) MarkAggregated(ctx context.Context, eventIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range eventIDs {
		if _, ok := r.events[id]; ok {
			r.aggregated[id] = true
		}
	}
	return nil
}

// DeleteOlderThan removes events played before the cutoff.
func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, e := range r.events {
		if e.PlayedAt.Before(cutoff) {
			delete(r.events, id)
			delete(r.aggregated, id)
			deleted++
		}
	}
	return deleted, nil
}

// CountPending returns the number of events awaiting aggregation.
func (r *InMemoryRepository) CountPending(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for id := range r.events {
		if !r.aggregated[id] {
			count++
		}
	}
	return count, nil
}
