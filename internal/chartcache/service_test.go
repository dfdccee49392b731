package chartcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/waveline/internal/catalog"
	"github.com/onnwee/waveline/internal/chart"
	"github.com/onnwee/waveline/internal/signing"
)

type staticBacklog struct {
	pending int64
	err     error
}

func (b staticBacklog) CountPending(ctx context.Context) (int64, error) {
	return b.pending, b.err
}

func intPtr(v int) *int { return &v }

func snapshotEntry(rank int, trackID string, trend chart.Trend, delta int) chart.Entry {
	e := chart.Entry{
		Rank:          rank,
		TrackID:       trackID,
		Score:         float64(1000 - rank),
		Trend:         trend,
		RankDelta:     delta,
		DaysInChart:   1,
		BestRank:      rank,
		TrackTitle:    "Snapshot " + trackID,
		ArtistID:      "artist-snap",
		Genre:         "ambient",
		TrackDuration: 3 * time.Minute,
	}
	if trend != chart.TrendNew {
		e.PreviousRank = intPtr(rank + delta)
	}
	return e
}

func publishEntries(t *testing.T, store *InMemoryStore, scope chart.Scope, entries ...chart.Entry) {
	t.Helper()
	err := store.Publish(context.Background(), chart.Generation{
		ID:        "gen-1",
		Scope:     scope,
		ChartDay:  time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Entries:   entries,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func catalogTrack(id string) catalog.TrackInfo {
	return catalog.TrackInfo{
		ID:       id,
		Title:    "Live " + id,
		ArtistID: "artist-live",
		Genre:    "electronic",
		Duration: 4 * time.Minute,
		Public:   true,
		CoverKey: "covers/" + id + ".jpg",
	}
}

func TestGetChart(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	cat := catalog.NewInMemoryProvider()
	scope := chart.CountryScope("SE")

	cat.Put(catalogTrack("track-a"))
	cat.Put(catalogTrack("track-b"))
	publishEntries(t, store, scope,
		snapshotEntry(2, "track-b", chart.TrendNew, 0),
		snapshotEntry(1, "track-a", chart.TrendNew, 0),
		snapshotEntry(3, "track-c", chart.TrendNew, 0),
	)

	svc := NewService(store, cat, ServiceConfig{
		Signer: &signing.StaticSigner{Prefix: "https://cdn.test/"},
	})

	rows, err := svc.GetChart(ctx, scope, 0)
	if err != nil {
		t.Fatalf("GetChart failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for i, row := range rows {
		if row.Rank != i+1 {
			t.Errorf("rows[%d].Rank = %d, want rank order", i, row.Rank)
		}
	}

	t.Run("live catalog overrides the snapshot", func(t *testing.T) {
		if rows[0].Title != "Live track-a" || rows[0].ArtistID != "artist-live" {
			t.Errorf("row = %+v, want live catalog fields", rows[0])
		}
		if rows[0].CoverURL != "https://cdn.test/covers/track-a.jpg" {
			t.Errorf("CoverURL = %q", rows[0].CoverURL)
		}
	})

	t.Run("catalog miss serves the snapshot", func(t *testing.T) {
		if rows[2].Title != "Snapshot track-c" || rows[2].Genre != "ambient" {
			t.Errorf("row = %+v, want denormalized snapshot", rows[2])
		}
		if rows[2].CoverURL != "" {
			t.Errorf("CoverURL = %q, want empty without a cover key", rows[2].CoverURL)
		}
	})

	t.Run("limit clips the chart", func(t *testing.T) {
		rows, err := svc.GetChart(ctx, scope, 2)
		if err != nil {
			t.Fatalf("GetChart failed: %v", err)
		}
		if len(rows) != 2 || rows[1].TrackID != "track-b" {
			t.Errorf("rows = %v, want top two by rank", rows)
		}
	})

	t.Run("unpublished scope returns ErrNoChart", func(t *testing.T) {
		if _, err := svc.GetChart(ctx, chart.CountryScope("JP"), 0); !errors.Is(err, ErrNoChart) {
			t.Errorf("err = %v, want ErrNoChart", err)
		}
	})
}

func TestGetChartSigningFailureDegrades(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	cat := catalog.NewInMemoryProvider()
	scope := chart.GlobalScope()

	cat.Put(catalogTrack("track-a"))
	publishEntries(t, store, scope, snapshotEntry(1, "track-a", chart.TrendNew, 0))

	svc := NewService(store, cat, ServiceConfig{
		Signer: &signing.StaticSigner{Err: errors.New("storage down")},
	})

	rows, err := svc.GetChart(ctx, scope, 0)
	if err != nil {
		t.Fatalf("GetChart failed: %v", err)
	}
	if rows[0].CoverURL != "" {
		t.Errorf("CoverURL = %q, want empty on signing failure", rows[0].CoverURL)
	}
	if rows[0].Title != "Live track-a" {
		t.Error("signing failure must not degrade the rest of the row")
	}
}

func TestGetTrendingTracks(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	cat := catalog.NewInMemoryProvider()

	publishEntries(t, store, chart.CountryScope("SE"),
		snapshotEntry(1, "track-steady", chart.TrendStable, 0),
		snapshotEntry(2, "track-climber", chart.TrendUp, 12),
		snapshotEntry(3, "track-debut", chart.TrendNew, 0),
		snapshotEntry(4, "track-faller", chart.TrendDown, -6),
		snapshotEntry(5, "track-debut-low", chart.TrendNew, 0),
	)

	svc := NewService(store, cat, ServiceConfig{})
	rows, err := svc.GetTrendingTracks(ctx, "SE", 0)
	if err != nil {
		t.Fatalf("GetTrendingTracks failed: %v", err)
	}

	wantOrder := []string{"track-debut", "track-debut-low", "track-climber", "track-steady", "track-faller"}
	if len(rows) != len(wantOrder) {
		t.Fatalf("got %d rows, want %d", len(rows), len(wantOrder))
	}
	for i, want := range wantOrder {
		if rows[i].TrackID != want {
			t.Errorf("rows[%d] = %s, want %s (new first, then delta)", i, rows[i].TrackID, want)
		}
	}
}

func TestGetTopMovers(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	cat := catalog.NewInMemoryProvider()

	publishEntries(t, store, chart.CountryScope("SE"),
		snapshotEntry(1, "track-up-big", chart.TrendUp, 9),
		snapshotEntry(2, "track-up-small", chart.TrendUp, 3),
		snapshotEntry(3, "track-debut", chart.TrendNew, 0),
		snapshotEntry(4, "track-flat", chart.TrendStable, 0),
		snapshotEntry(5, "track-down-small", chart.TrendDown, -2),
		snapshotEntry(6, "track-down-big", chart.TrendDown, -11),
	)

	svc := NewService(store, cat, ServiceConfig{})

	t.Run("up", func(t *testing.T) {
		rows, err := svc.GetTopMovers(ctx, "SE", 0, MoversUp)
		if err != nil {
			t.Fatalf("GetTopMovers failed: %v", err)
		}
		wantOrder := []string{"track-up-big", "track-up-small"}
		if len(rows) != len(wantOrder) {
			t.Fatalf("got %d rows, want %d", len(rows), len(wantOrder))
		}
		for i, want := range wantOrder {
			if rows[i].TrackID != want {
				t.Errorf("rows[%d] = %s, want %s", i, rows[i].TrackID, want)
			}
		}
	})

	t.Run("down", func(t *testing.T) {
		rows, err := svc.GetTopMovers(ctx, "SE", 0, MoversDown)
		if err != nil {
			t.Fatalf("GetTopMovers failed: %v", err)
		}
		wantOrder := []string{"track-down-big", "track-down-small"}
		if len(rows) != len(wantOrder) {
			t.Fatalf("got %d rows, want %d", len(rows), len(wantOrder))
		}
		for i, want := range wantOrder {
			if rows[i].TrackID != want {
				t.Errorf("rows[%d] = %s, want %s", i, rows[i].TrackID, want)
			}
		}
	})

	t.Run("invalid direction", func(t *testing.T) {
		if _, err := svc.GetTopMovers(ctx, "SE", 0, "sideways"); !errors.Is(err, ErrInvalidDirection) {
			t.Errorf("err = %v, want ErrInvalidDirection", err)
		}
	})
}

func TestStatsAndInspect(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	cat := catalog.NewInMemoryProvider()

	publishEntries(t, store, chart.GlobalScope(),
		snapshotEntry(1, "track-a", chart.TrendNew, 0),
		snapshotEntry(2, "track-b", chart.TrendNew, 0),
	)
	publishEntries(t, store, chart.CountryScope("SE"),
		snapshotEntry(1, "track-a", chart.TrendNew, 0),
	)

	svc := NewService(store, cat, ServiceConfig{Backlog: staticBacklog{pending: 42}})

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.ActiveScopes != 2 {
		t.Errorf("ActiveScopes = %d, want 2", stats.ActiveScopes)
	}
	if stats.PendingEvents != 42 {
		t.Errorf("PendingEvents = %d, want 42", stats.PendingEvents)
	}
	// Sorted by scope key: "country:SE" before "global:GLOBAL".
	if stats.Scopes[0].Scope.Type != chart.ScopeCountry || stats.Scopes[0].Entries != 1 {
		t.Errorf("scopes[0] = %+v", stats.Scopes[0])
	}
	if stats.Scopes[1].Entries != 2 {
		t.Errorf("scopes[1] = %+v, want the two-entry global chart", stats.Scopes[1])
	}

	t.Run("backlog failure degrades to zero", func(t *testing.T) {
		svc := NewService(store, cat, ServiceConfig{Backlog: staticBacklog{err: errors.New("db down")}})
		stats, err := svc.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.PendingEvents != 0 {
			t.Errorf("PendingEvents = %d, want advisory 0", stats.PendingEvents)
		}
	})

	t.Run("inspect filters scopes", func(t *testing.T) {
		matched, err := svc.Inspect(ctx, Filter{Type: chart.ScopeCountry})
		if err != nil {
			t.Fatalf("Inspect failed: %v", err)
		}
		if len(matched) != 1 || matched[0].Scope.Region != "SE" {
			t.Errorf("matched = %v, want only the SE country scope", matched)
		}
	})
}

func TestScopeIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	cat := catalog.NewInMemoryProvider()

	publishEntries(t, store, chart.CountryScope("SE"), snapshotEntry(1, "track-se", chart.TrendNew, 0))
	publishEntries(t, store, chart.CountryScope("DE"), snapshotEntry(1, "track-de", chart.TrendNew, 0))

	svc := NewService(store, cat, ServiceConfig{})
	rows, err := svc.GetChart(ctx, chart.CountryScope("SE"), 0)
	if err != nil {
		t.Fatalf("GetChart failed: %v", err)
	}
	if len(rows) != 1 || rows[0].TrackID != "track-se" {
		t.Errorf("rows = %v, want only the SE entry", rows)
	}
}
