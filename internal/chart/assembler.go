package chart

import (
	"time"

	"github.com/onnwee/waveline/internal/aggregate"
	"github.com/onnwee/waveline/internal/scoring"
)

// Assembler defaults.
const (
	// DefaultServingLimit is how many entries a published chart holds.
	DefaultServingLimit = 50

	// DefaultTrendThreshold is the rank-delta magnitude that must be
	// exceeded before movement counts as Up or Down. A climb from rank 3
	// to rank 1 (delta 2) is Stable; 10 to 2 (delta 8) is Up.
	DefaultTrendThreshold = 5
)

// AssemblerConfig configures rank assembly.
type AssemblerConfig struct {
	ServingLimit   int
	TrendThreshold int
}

// DefaultAssemblerConfig returns the default assembly configuration.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		ServingLimit:   DefaultServingLimit,
		TrendThreshold: DefaultTrendThreshold,
	}
}

// Assemble turns a scored candidate list and the previously-published
// generation for the same scope into a new generation's entries.
//
// Pure function over explicit inputs: no I/O, no shared state, and
// identical inputs always produce identical output (ordering included),
// which keeps scopes independently computable and testable.
//
// Ranks are dense 1..N over the top ServingLimit candidates. Trend is
// classified against the previous day's snapshot: absent means New with
// delta 0; present means delta = previousRank - rank, Up when delta
// exceeds the threshold, Down when it falls below the negated threshold,
// Stable otherwise. BestRank and DaysInChart carry forward from the
// previous entry for the same track.
//
// DaysInChart and trend history advance per chart day, not per publish:
// when the previous generation covers the same chart day as now (a forced
// same-day republish), ranks are recomputed against fresh scores but each
// track keeps its day counter and compares against the rank it held
// yesterday, so republishing identical data yields identical entries.
func Assemble(candidates []scoring.Candidate, previous *Generation, now time.Time, cfg AssemblerConfig) []Entry {
	if cfg.ServingLimit <= 0 {
		cfg.ServingLimit = DefaultServingLimit
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = DefaultTrendThreshold
	}

	ordered := make([]scoring.Candidate, len(candidates))
	copy(ordered, candidates)
	scoring.SortCandidates(ordered)
	if len(ordered) > cfg.ServingLimit {
		ordered = ordered[:cfg.ServingLimit]
	}

	var prevEntries []Entry
	sameDay := false
	if previous != nil {
		prevEntries = previous.Entries
		sameDay = previous.ChartDay.Equal(aggregate.DayOf(now))
	}
	prevByTrack := make(map[string]Entry, len(prevEntries))
	for _, e := range prevEntries {
		prevByTrack[e.TrackID] = e
	}

	entries := make([]Entry, 0, len(ordered))
	for i, c := range ordered {
		rank := i + 1
		entry := Entry{
			Rank:          rank,
			TrackID:       c.TrackID,
			Score:         c.Score,
			Trend:         TrendNew,
			DaysInChart:   1,
			BestRank:      rank,
			TrackTitle:    c.Track.Title,
			ArtistID:      c.Track.ArtistID,
			Genre:         c.Track.Genre,
			TrackDuration: c.Track.Duration,
			GeneratedAt:   now.UTC(),
		}

		if prev, ok := prevByTrack[c.TrackID]; ok {
			if sameDay {
				// Same-day republish: the day counter stays put and the
				// movement baseline remains yesterday's rank, carried on
				// the superseded entry.
				entry.DaysInChart = prev.DaysInChart
				if prev.PreviousRank != nil {
					baseline := *prev.PreviousRank
					entry.PreviousRank = &baseline
					entry.RankDelta = baseline - rank
					entry.Trend = classifyTrend(entry.RankDelta, cfg.TrendThreshold)
				}
			} else {
				prevRank := prev.Rank
				entry.PreviousRank = &prevRank
				entry.RankDelta = prevRank - rank
				entry.Trend = classifyTrend(entry.RankDelta, cfg.TrendThreshold)
				entry.DaysInChart = prev.DaysInChart + 1
			}

			best := prev.BestRank
			if best == 0 || prev.Rank < best {
				best = prev.Rank
			}
			if rank < best {
				best = rank
			}
			entry.BestRank = best
		}

		entries = append(entries, entry)
	}
	return entries
}

func classifyTrend(delta, threshold int) Trend {
	switch {
	case delta > threshold:
		return TrendUp
	case delta < -threshold:
		return TrendDown
	default:
		return TrendStable
	}
}
