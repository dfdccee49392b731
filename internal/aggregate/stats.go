package aggregate

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// UpsertStats tracks cumulative insert/update counts across aggregation
// passes. All operations are thread-safe using atomic counters.
type UpsertStats struct {
	inserted int64
	updated  int64
}

// NewUpsertStats creates a new UpsertStats instance.
func NewUpsertStats() *UpsertStats {
	return &UpsertStats{}
}

// RecordInsert increments the inserted counter.
func (s *UpsertStats) RecordInsert() {
	atomic.AddInt64(&s.inserted, 1)
}

// RecordUpdate increments the updated counter.
func (s *UpsertStats) RecordUpdate() {
	atomic.AddInt64(&s.updated, 1)
}

// Inserted returns the total number of stats rows created.
func (s *UpsertStats) Inserted() int64 {
	return atomic.LoadInt64(&s.inserted)
}

// Updated returns the total number of stats rows incremented in place.
func (s *UpsertStats) Updated() int64 {
	return atomic.LoadInt64(&s.updated)
}

// Total returns inserts + updates.
func (s *UpsertStats) Total() int64 {
	return s.Inserted() + s.Updated()
}

// Reset resets all counters to zero.
func (s *UpsertStats) Reset() {
	atomic.StoreInt64(&s.inserted, 0)
	atomic.StoreInt64(&s.updated, 0)
}

// String returns a human-readable summary of the counters.
func (s *UpsertStats) String() string {
	return fmt.Sprintf("inserted=%d updated=%d total=%d", s.Inserted(), s.Updated(), s.Total())
}

// LogSummary logs the counters at INFO level, for periodic reporting.
func (s *UpsertStats) LogSummary(logger *slog.Logger) {
	logger.Info("daily stats upsert totals",
		"inserted", s.Inserted(),
		"updated", s.Updated(),
		"total", s.Total(),
	)
}
