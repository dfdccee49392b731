// Package chart defines chart scopes, ranked entries, generations, and the
// rank assembler that turns scored candidates into a published generation.
package chart

import (
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/waveline/internal/playlog"
)

// ScopeType identifies the kind of chart a scope belongs to.
type ScopeType string

// Supported scope types.
const (
	ScopeGlobal  ScopeType = "global"
	ScopeCountry ScopeType = "country"
)

// Scope is a (chart type, region) pair. Scopes partition all chart state:
// two distinct scopes never share rows and are safe to compute in parallel.
type Scope struct {
	Type   ScopeType
	Region string
}

// GlobalScope returns the scope covering plays from every region.
func GlobalScope() Scope {
	return Scope{Type: ScopeGlobal, Region: playlog.RegionGlobal}
}

// CountryScope returns the scope for a single country chart.
func CountryScope(region string) Scope {
	return Scope{Type: ScopeCountry, Region: playlog.NormalizeRegion(region)}
}

// ScopeForRegion maps a region code to its scope: RegionGlobal (or empty)
// yields the global scope, anything else a country scope.
func ScopeForRegion(region string) Scope {
	region = playlog.NormalizeRegion(region)
	if region == playlog.RegionGlobal {
		return GlobalScope()
	}
	return CountryScope(region)
}

// Key returns the canonical string form "type:REGION", used for cache keys
// and single-flight guards.
func (s Scope) Key() string {
	return string(s.Type) + ":" + s.Region
}

// ParseScopeKey parses the canonical "type:REGION" form.
func ParseScopeKey(key string) (Scope, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Scope{}, fmt.Errorf("invalid scope key %q", key)
	}
	switch ScopeType(parts[0]) {
	case ScopeGlobal, ScopeCountry:
		return Scope{Type: ScopeType(parts[0]), Region: parts[1]}, nil
	default:
		return Scope{}, fmt.Errorf("invalid scope type %q", parts[0])
	}
}

// Trend classifies a track's rank movement against the previous
// generation. It is a closed set; exhaustive switches over Trend should
// not need a default arm.
type Trend string

// Trend values.
const (
	TrendNew    Trend = "new"
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Entry is one ranked track within a generation.
type Entry struct {
	Rank    int     `json:"rank"`
	TrackID string  `json:"track_id"`
	Score   float64 `json:"score"`
	Trend   Trend   `json:"trend"`

	// PreviousRank is nil for tracks absent from the prior generation.
	PreviousRank *int `json:"previous_rank,omitempty"`
	// RankDelta is previousRank - rank; zero for new entries.
	RankDelta int `json:"rank_delta"`
	// DaysInChart counts consecutive generations including this one.
	DaysInChart int `json:"days_in_chart"`
	// BestRank is the lowest rank ever held, carried monotonically across
	// every publish (not a one-generation lookback).
	BestRank int `json:"best_rank"`

	// Denormalized catalog snapshot at generation time.
	TrackTitle    string        `json:"track_title"`
	ArtistID      string        `json:"artist_id"`
	Genre         string        `json:"genre"`
	TrackDuration time.Duration `json:"track_duration"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Generation is one complete, atomically-published chart for a scope.
// Entries always hold a dense rank permutation 1..N with score
// non-increasing in rank.
type Generation struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	ChartDay  time.Time `json:"chart_day"`
	Entries   []Entry   `json:"entries"`
	CreatedAt time.Time `json:"created_at"`
}
