// Package aggregate folds play events into per-(track, day, region) daily
// statistics, the substrate the score calculator reads.
package aggregate

import (
	"sort"
	"time"

	"github.com/onnwee/waveline/internal/playlog"
)

// DayStats is one daily summary row for a (track, day, region) scope.
// Counts grow by increment across aggregation passes while the day is
// current; rows are never mutated after the retention purge window closes.
// Invariant: ValidListenCount <= ListenCount.
type DayStats struct {
	TrackID string
	Day     time.Time // UTC calendar date, midnight
	Region  string

	ListenCount      int64
	ValidListenCount int64
	// UniqueListeners is a running-maximum estimate, not a true union
	// across passes. Advisory only.
	UniqueListeners int64
	TotalListened   time.Duration

	// Denormalized catalog snapshot for fast reads.
	TrackTitle    string
	ArtistID      string
	Genre         string
	TrackDuration time.Duration

	UpdatedAt time.Time
}

// AvgListened returns the mean listen duration for the row.
func (s DayStats) AvgListened() time.Duration {
	if s.ListenCount == 0 {
		return 0
	}
	return s.TotalListened / time.Duration(s.ListenCount)
}

// StatsDelta is the pure output of folding one event batch for a single
// (track, region) group on a single day. Applying a delta is an
// upsert-with-increment, except UniqueListeners which merges by maximum.
type StatsDelta struct {
	TrackID string
	Region  string
	Day     time.Time

	Listens         int64
	ValidListens    int64
	UniqueListeners int64
	TotalListened   time.Duration

	// EventIDs are the source events behind this delta, so the caller can
	// mark exactly the folded events after a successful apply.
	EventIDs []string
}

// DayOf truncates a timestamp to its UTC calendar date.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Fold groups a batch of play events by (track, region, day) and computes
// one StatsDelta per group. It is a pure function: no I/O, deterministic
// output order (sorted by track, region, day).
func Fold(events []playlog.PlayEvent) []StatsDelta {
	type groupKey struct {
		trackID string
		region  string
		day     time.Time
	}

	groups := make(map[groupKey]*StatsDelta)
	listeners := make(map[groupKey]map[string]struct{})

	for _, e := range events {
		key := groupKey{trackID: e.TrackID, region: e.Region, day: DayOf(e.PlayedAt)}
		delta, ok := groups[key]
		if !ok {
			delta = &StatsDelta{TrackID: e.TrackID, Region: e.Region, Day: key.day}
			groups[key] = delta
			listeners[key] = make(map[string]struct{})
		}

		delta.Listens++
		if e.Valid {
			delta.ValidListens++
		}
		delta.TotalListened += e.Listened
		delta.EventIDs = append(delta.EventIDs, e.ID)
		listeners[key][e.ListenerKey()] = struct{}{}
	}

	result := make([]StatsDelta, 0, len(groups))
	for key, delta := range groups {
		delta.UniqueListeners = int64(len(listeners[key]))
		result = append(result, *delta)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TrackID != result[j].TrackID {
			return result[i].TrackID < result[j].TrackID
		}
		if result[i].Region != result[j].Region {
			return result[i].Region < result[j].Region
		}
		return result[i].Day.Before(result[j].Day)
	})
	return result
}
