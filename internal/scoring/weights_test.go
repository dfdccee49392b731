package scoring

import (
	"math"
	"testing"
	"time"
)

// closeTo absorbs float accumulation error in decayed sums.
func closeTo(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestWeightForOffset(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name   string
		offset int
		want   float64
	}{
		{"chart day", 0, 1.0},
		{"one day back", 1, 0.7},
		{"two days back", 2, 0.5},
		{"three days back", 3, 0.3},
		{"four days back", 4, 0.1},
		{"outside the window", 5, 0},
		{"negative offset", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.WeightForOffset(tt.offset); got != tt.want {
				t.Errorf("WeightForOffset(%d) = %v, want %v", tt.offset, got, tt.want)
			}
		})
	}
}

// A track with 10 valid listens on each of the five window days scores
// 10*(1.0+0.7+0.5+0.3+0.1) = 26.0 under the default table.
func TestDefaultWeightsContract(t *testing.T) {
	w := DefaultWeights()
	var score float64
	for offset := 0; offset < w.WindowDays; offset++ {
		score += 10 * w.WeightForOffset(offset)
	}
	if !closeTo(score, 26.0) {
		t.Errorf("uniform series score = %v, want 26.0", score)
	}
}

func TestWindowStart(t *testing.T) {
	w := DefaultWeights()
	chartDay := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := w.WindowStart(chartDay); !got.Equal(want) {
		t.Errorf("WindowStart = %v, want %v", got, want)
	}
}

func TestDayOffset(t *testing.T) {
	chartDay := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		statsDay time.Time
		want     int
	}{
		{"same day", chartDay, 0},
		{"yesterday", chartDay.AddDate(0, 0, -1), 1},
		{"four days back", chartDay.AddDate(0, 0, -4), 4},
		{"future day", chartDay.AddDate(0, 0, 1), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayOffset(chartDay, tt.statsDay); got != tt.want {
				t.Errorf("DayOffset = %d, want %d", got, tt.want)
			}
		})
	}
}
