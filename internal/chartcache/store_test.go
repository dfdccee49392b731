package chartcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/waveline/internal/chart"
)

func publishedGen(scope chart.Scope, trackIDs ...string) chart.Generation {
	entries := make([]chart.Entry, len(trackIDs))
	for i, id := range trackIDs {
		entries[i] = chart.Entry{Rank: i + 1, TrackID: id, Score: float64(100 - i)}
	}
	return chart.Generation{
		ID:        "gen-" + scope.Key(),
		Scope:     scope,
		ChartDay:  time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Entries:   entries,
		CreatedAt: time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC),
	}
}

func TestInMemoryStorePublishCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	scope := chart.CountryScope("SE")

	if _, err := store.Current(ctx, scope); !errors.Is(err, ErrNoChart) {
		t.Fatalf("Current before publish = %v, want ErrNoChart", err)
	}

	if err := store.Publish(ctx, publishedGen(scope, "track-a", "track-b")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	gen, err := store.Current(ctx, scope)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if len(gen.Entries) != 2 || gen.Entries[0].TrackID != "track-a" {
		t.Errorf("entries = %v", gen.Entries)
	}

	t.Run("publish flips the current pointer", func(t *testing.T) {
		next := publishedGen(scope, "track-c")
		next.ID = "gen-2"
		if err := store.Publish(ctx, next); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		gen, err := store.Current(ctx, scope)
		if err != nil {
			t.Fatalf("Current failed: %v", err)
		}
		if gen.ID != "gen-2" || len(gen.Entries) != 1 {
			t.Errorf("current = %s with %d entries, want gen-2 with 1", gen.ID, len(gen.Entries))
		}
	})

	t.Run("returned generation is a copy", func(t *testing.T) {
		gen, _ := store.Current(ctx, scope)
		gen.Entries[0].TrackID = "mutated"
		again, _ := store.Current(ctx, scope)
		if again.Entries[0].TrackID == "mutated" {
			t.Error("caller mutation leaked into the store")
		}
	})
}

func TestInMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0) // default 7d TTL
	scope := chart.GlobalScope()

	published := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	now := published
	store.SetClock(func() time.Time { return now })

	if err := store.Publish(ctx, publishedGen(scope, "track-a")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	now = published.Add(6 * 24 * time.Hour)
	if _, err := store.Current(ctx, scope); err != nil {
		t.Errorf("generation expired early: %v", err)
	}

	now = published.Add(8 * 24 * time.Hour)
	if _, err := store.Current(ctx, scope); !errors.Is(err, ErrNoChart) {
		t.Errorf("Current past TTL = %v, want ErrNoChart", err)
	}

	t.Run("expired scopes drop out of Scopes", func(t *testing.T) {
		scopes, err := store.Scopes(ctx)
		if err != nil {
			t.Fatalf("Scopes failed: %v", err)
		}
		if len(scopes) != 0 {
			t.Errorf("scopes = %v, want none after expiry", scopes)
		}
	})
}

func TestInMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)

	seed := []chart.Scope{
		chart.GlobalScope(),
		chart.CountryScope("SE"),
		chart.CountryScope("DE"),
	}
	for _, scope := range seed {
		if err := store.Publish(ctx, publishedGen(scope, "track-a")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	cleared, err := store.Clear(ctx, Filter{Type: chart.ScopeCountry, Region: "SE"})
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared)
	}
	if _, err := store.Current(ctx, chart.CountryScope("SE")); !errors.Is(err, ErrNoChart) {
		t.Error("cleared scope still serves a chart")
	}
	if _, err := store.Current(ctx, chart.GlobalScope()); err != nil {
		t.Errorf("unmatched scope was cleared: %v", err)
	}

	t.Run("zero filter clears everything", func(t *testing.T) {
		cleared, err := store.Clear(ctx, Filter{})
		if err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if cleared != 2 {
			t.Errorf("cleared = %d, want remaining 2", cleared)
		}
		scopes, _ := store.Scopes(ctx)
		if len(scopes) != 0 {
			t.Errorf("scopes = %v, want none", scopes)
		}
	})
}

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		scope  chart.Scope
		want   bool
	}{
		{"zero filter matches all", Filter{}, chart.CountryScope("SE"), true},
		{"type match", Filter{Type: chart.ScopeGlobal}, chart.GlobalScope(), true},
		{"type mismatch", Filter{Type: chart.ScopeGlobal}, chart.CountryScope("SE"), false},
		{"region match", Filter{Region: "SE"}, chart.CountryScope("SE"), true},
		{"region mismatch", Filter{Region: "SE"}, chart.CountryScope("DE"), false},
		{"both must match", Filter{Type: chart.ScopeCountry, Region: "DE"}, chart.CountryScope("SE"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.scope); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}
