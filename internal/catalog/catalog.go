// Package catalog provides the chart engine's view of the track catalog.
// The catalog service itself is owned elsewhere; this package defines the
// provider interface the engine consumes plus an in-memory implementation
// used for tests and local development.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTrackNotFound is returned when a track does not exist in the catalog.
var ErrTrackNotFound = errors.New("track not found")

// MinChartDuration is the minimum track length for chart eligibility.
// Shorter tracks (idents, interludes) never enter the charts.
const MinChartDuration = 30 * time.Second

// TrackInfo is the denormalizable slice of catalog metadata the chart
// engine needs: display fields, eligibility inputs, and media object keys
// for URL signing.
type TrackInfo struct {
	ID       string
	Title    string
	ArtistID string
	Genre    string
	Duration time.Duration
	Public   bool
	CoverKey string
	AudioKey string
}

// Eligible reports whether the track may appear in charts: it must be
// public and at least MinChartDuration long.
func (t TrackInfo) Eligible() bool {
	return t.Public && t.Duration >= MinChartDuration
}

// Provider supplies track metadata and eligibility from the catalog.
type Provider interface {
	// GetTrack returns metadata for a single track.
	// Returns ErrTrackNotFound if the track does not exist.
	GetTrack(ctx context.Context, trackID string) (*TrackInfo, error)

	// GetTracks returns metadata for multiple tracks in one call.
	// Missing tracks are absent from the result map; that is not an error.
	GetTracks(ctx context.Context, trackIDs []string) (map[string]TrackInfo, error)
}

// InMemoryProvider is an in-memory Provider implementation for testing
// and development.
type InMemoryProvider struct {
	mu     sync.RWMutex
	tracks map[string]TrackInfo
}

// NewInMemoryProvider creates a new in-memory catalog provider.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{
		tracks: make(map[string]TrackInfo),
	}
}

// Put adds or replaces a track in the catalog.
func (p *InMemoryProvider) Put(track TrackInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks[track.ID] = track
}

// Remove deletes a track from the catalog.
func (p *InMemoryProvider) Remove(trackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracks, trackID)
}

// GetTrack returns metadata for a single track.
func (p *InMemoryProvider) GetTrack(ctx context.Context, trackID string) (*TrackInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	track, ok := p.tracks[trackID]
	if !ok {
		return nil, ErrTrackNotFound
	}
	// Return a copy to avoid external modification
	trackCopy := track
	return &trackCopy, nil
}

// GetTracks returns metadata for multiple tracks. Missing tracks are
// silently omitted from the result.
func (p *InMemoryProvider) GetTracks(ctx context.Context, trackIDs []string) (map[string]TrackInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string]TrackInfo, len(trackIDs))
	for _, id := range trackIDs {
		if track, ok := p.tracks[id]; ok {
			result[id] = track
		}
	}
	return result, nil
}
