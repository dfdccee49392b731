// Package playlog provides the append-only play event log and the
// validity classification applied to each recorded listen.
package playlog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegionGlobal is the region code for plays without a resolvable country.
const RegionGlobal = "GLOBAL"

// Validity rule constants. A listen counts toward popularity only when it
// is long enough to exclude skips and previews.
const (
	// MinValidListen is the absolute floor for a valid listen.
	MinValidListen = 30 * time.Second

	// ValidListenFraction is the fraction of the track that must be heard
	// for long tracks, where 25% exceeds the 30s floor.
	ValidListenFraction = 0.25
)

// PlayEvent records a single play attempt. Events are ephemeral: they are
// folded into daily stats by the aggregator and purged after a short
// retention window whether or not they were aggregated.
type PlayEvent struct {
	ID         string
	TrackID    string
	ListenerID *string // nil for anonymous listeners
	SessionID  string  // dedup key when ListenerID is nil
	Region     string  // ISO country code or RegionGlobal
	Listened   time.Duration
	Valid      bool
	PlayedAt   time.Time
}

// IsValidListen implements the minimum-duration rule:
// valid iff listened >= max(MinValidListen, ValidListenFraction * trackDuration).
// Pure and deterministic given its inputs.
func IsValidListen(listened, trackDuration time.Duration) bool {
	threshold := MinValidListen
	if frac := time.Duration(float64(trackDuration) * ValidListenFraction); frac > threshold {
		threshold = frac
	}
	return listened >= threshold
}

// NormalizeRegion uppercases a region code and maps the empty string to
// RegionGlobal.
func NormalizeRegion(region string) string {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		return RegionGlobal
	}
	return region
}

// NewPlayEvent builds a classified PlayEvent. The validity flag is fixed
// at construction from the listen duration and the track's duration; it is
// never recomputed downstream.
func NewPlayEvent(trackID string, listenerID *string, sessionID, region string, listened, trackDuration time.Duration, playedAt time.Time) PlayEvent {
	return PlayEvent{
		ID:         uuid.New().String(),
		TrackID:    trackID,
		ListenerID: listenerID,
		SessionID:  sessionID,
		Region:     NormalizeRegion(region),
		Listened:   listened,
		Valid:      IsValidListen(listened, trackDuration),
		PlayedAt:   playedAt.UTC(),
	}
}

// ListenerKey returns the identity used for unique-listener estimation:
// the listener ID when known, otherwise the session ID.
func (e PlayEvent) ListenerKey() string {
	if e.ListenerID != nil && *e.ListenerID != "" {
		return *e.ListenerID
	}
	return "session:" + e.SessionID
}
