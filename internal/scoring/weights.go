// Package scoring computes time-decayed popularity scores over a trailing
// window of daily stats, with calibration support for the decay table.
package scoring

import (
	"time"
)

// DefaultWindowDays is the trailing window the calculator reads.
const DefaultWindowDays = 5

// DefaultCandidateCap bounds how many scored tracks are handed to the
// rank assembler. The serving limit is enforced downstream; this is purely
// a throughput bound.
const DefaultCandidateCap = 200

// Weights holds the decay table for window scoring.
//
// Decay is indexed by day offset: Decay[0] weighs the chart day itself,
// Decay[1] the day before, and so on. Days missing from the window
// contribute zero; the offsets of the remaining days do not shift. (Indexing
// by offset rather than result-row position is deliberate: positional
// weighting misassigns weights whenever a day has no stats row.)
type Weights struct {
	Decay      []float64 `json:"decay"`
	WindowDays int       `json:"window_days"`
}

// DefaultWeights returns the default decay configuration.
//
// With the default table, a track with valid listens [10,10,10,10,10]
// across the window scores 10*(1.0+0.7+0.5+0.3+0.1) = 26.0.
func DefaultWeights() *Weights {
	return &Weights{
		Decay:      []float64{1.0, 0.7, 0.5, 0.3, 0.1},
		WindowDays: DefaultWindowDays,
	}
}

// WeightForOffset returns the decay multiplier for a day `offset` days
// before the chart day. Offsets outside the table weigh zero.
func (w *Weights) WeightForOffset(offset int) float64 {
	if offset < 0 || offset >= len(w.Decay) {
		return 0
	}
	return w.Decay[offset]
}

// WindowStart returns the first (oldest) day of the scoring window ending
// at chartDay.
func (w *Weights) WindowStart(chartDay time.Time) time.Time {
	return chartDay.AddDate(0, 0, -(w.WindowDays - 1))
}

// DayOffset computes whole days between a stats day and the chart day.
// Both are expected to be UTC midnight dates.
func DayOffset(chartDay, statsDay time.Time) int {
	return int(chartDay.Sub(statsDay).Hours() / 24)
}
