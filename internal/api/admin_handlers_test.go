package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/waveline/internal/aggregate"
	"github.com/onnwee/waveline/internal/catalog"
	"github.com/onnwee/waveline/internal/chart"
	"github.com/onnwee/waveline/internal/chartcache"
	"github.com/onnwee/waveline/internal/playlog"
	"github.com/onnwee/waveline/internal/refresh"
	"github.com/onnwee/waveline/internal/scoring"
)

type adminFixture struct {
	events  *playlog.InMemoryRepository
	stats   *aggregate.InMemoryStatsRepository
	cat     *catalog.InMemoryProvider
	store   chartcache.Store
	service *refresh.Service
	charts  *chartcache.Service
}

func newAdminFixture(t *testing.T, store chartcache.Store, regions ...string) *adminFixture {
	t.Helper()
	f := &adminFixture{
		events: playlog.NewInMemoryRepository(),
		stats:  aggregate.NewInMemoryStatsRepository(),
		cat:    catalog.NewInMemoryProvider(),
		store:  store,
	}
	if f.store == nil {
		f.store = chartcache.NewInMemoryStore(0)
	}
	agg := aggregate.NewAggregator(f.events, f.stats, f.cat, aggregate.AggregatorConfig{})
	calc := scoring.NewCalculator(f.stats, f.cat, scoring.CalculatorConfig{})
	f.service = refresh.NewService(agg, calc, f.store, refresh.Config{Regions: regions})
	f.charts = chartcache.NewService(f.store, f.cat, chartcache.ServiceConfig{})
	return f
}

func (f *adminFixture) seedListens(t *testing.T, trackID, region string, validListens int64) {
	t.Helper()
	track := catalog.TrackInfo{
		ID:       trackID,
		Title:    "Title " + trackID,
		ArtistID: "artist-1",
		Genre:    "electronic",
		Duration: 3 * time.Minute,
		Public:   true,
	}
	f.cat.Put(track)
	_, err := f.stats.ApplyDelta(context.Background(), aggregate.StatsDelta{
		TrackID: trackID, Region: region, Day: aggregate.DayOf(time.Now().UTC()),
		Listens: validListens, ValidListens: validListens, UniqueListeners: validListens,
	}, track)
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}
}

// holdingStore blocks Publish until released, to pin a refresh in flight.
type holdingStore struct {
	chartcache.Store
	entered chan struct{}
	release chan struct{}
}

func (s *holdingStore) Publish(ctx context.Context, gen chart.Generation) error {
	close(s.entered)
	<-s.release
	return s.Store.Publish(ctx, gen)
}

func TestAdminRefreshSingleScope(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.seedListens(t, "track-a", "SE", 10)
	h := NewAdminHandlers(f.service, f.charts)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"scope":"country:SE"}`)
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/refresh", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	var resp RefreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Refreshed) != 1 || resp.Refreshed[0] != "country:SE" {
		t.Errorf("refreshed = %v", resp.Refreshed)
	}

	if _, err := f.store.Current(context.Background(), chart.CountryScope("SE")); err != nil {
		t.Errorf("chart not published after refresh: %v", err)
	}
}

func TestAdminRefreshAllScopes(t *testing.T) {
	f := newAdminFixture(t, nil, "SE")
	f.seedListens(t, "track-a", "SE", 10)
	h := NewAdminHandlers(f.service, f.charts)

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/refresh", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	if _, err := f.store.Current(context.Background(), chart.GlobalScope()); err != nil {
		t.Errorf("global chart missing: %v", err)
	}
	if _, err := f.store.Current(context.Background(), chart.CountryScope("SE")); err != nil {
		t.Errorf("SE chart missing: %v", err)
	}
}

func TestAdminRefreshErrors(t *testing.T) {
	t.Run("invalid scope key", func(t *testing.T) {
		f := newAdminFixture(t, nil)
		h := NewAdminHandlers(f.service, f.charts)

		rec := httptest.NewRecorder()
		body := strings.NewReader(`{"scope":"continent:EU"}`)
		h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/refresh", body))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error.Code != ErrCodeInvalidScope {
			t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeInvalidScope)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newAdminFixture(t, nil)
		h := NewAdminHandlers(f.service, f.charts)

		rec := httptest.NewRecorder()
		h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/refresh", strings.NewReader("{broken")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		f := newAdminFixture(t, nil)
		h := NewAdminHandlers(f.service, f.charts)

		rec := httptest.NewRecorder()
		h.Refresh(rec, httptest.NewRequest(http.MethodGet, "/admin/charts/refresh", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

func TestAdminRefreshInFlight(t *testing.T) {
	hold := &holdingStore{
		Store:   chartcache.NewInMemoryStore(0),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newAdminFixture(t, hold)
	f.seedListens(t, "track-a", "SE", 10)
	h := NewAdminHandlers(f.service, f.charts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := httptest.NewRecorder()
		body := strings.NewReader(`{"scope":"country:SE"}`)
		h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/refresh", body))
	}()
	<-hold.entered

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"scope":"country:SE"}`)
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/refresh", body))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeRefreshInFlight {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeRefreshInFlight)
	}

	close(hold.release)
	<-done
}

func TestAdminClear(t *testing.T) {
	f := newAdminFixture(t, nil, "SE")
	f.seedListens(t, "track-a", "SE", 10)
	h := NewAdminHandlers(f.service, f.charts)

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rec.Code)
	}

	t.Run("filtered clear", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := strings.NewReader(`{"type":"country","region":"se"}`)
		h.Clear(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/clear", body))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
		}
		var resp ClearResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Cleared != 1 {
			t.Errorf("cleared = %d, want 1", resp.Cleared)
		}
		if _, err := f.store.Current(context.Background(), chart.GlobalScope()); err != nil {
			t.Errorf("global chart cleared by a country filter: %v", err)
		}
	})

	t.Run("invalid type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := strings.NewReader(`{"type":"continent"}`)
		h.Clear(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/clear", body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestAdminInspect(t *testing.T) {
	f := newAdminFixture(t, nil, "SE")
	f.seedListens(t, "track-a", "SE", 10)
	h := NewAdminHandlers(f.service, f.charts)

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/charts/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Inspect(rec, httptest.NewRequest(http.MethodGet, "/admin/charts/inspect?type=country&region=se", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	var scopes []chartcache.ScopeStats
	if err := json.Unmarshal(rec.Body.Bytes(), &scopes); err != nil {
		t.Fatal(err)
	}
	if len(scopes) != 1 || scopes[0].Scope.Region != "SE" {
		t.Errorf("scopes = %v, want only country:SE", scopes)
	}
	if scopes[0].GenerationID == "" || scopes[0].Entries != 1 {
		t.Errorf("scope stats = %+v", scopes[0])
	}
}

func TestAdminRunAggregation(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.cat.Put(catalog.TrackInfo{
		ID: "track-a", Title: "A", ArtistID: "artist-1",
		Genre: "electronic", Duration: 3 * time.Minute, Public: true,
	})
	for i := 0; i < 3; i++ {
		e := playlog.NewPlayEvent("track-a", nil, "sess", "SE", time.Minute, 3*time.Minute, time.Now().UTC())
		if err := f.events.Insert(context.Background(), &e); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	h := NewAdminHandlers(f.service, f.charts)

	rec := httptest.NewRecorder()
	h.RunAggregation(rec, httptest.NewRequest(http.MethodPost, "/admin/aggregation/run", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	var resp AggregationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Events != 3 || resp.Groups != 1 || resp.Applied != 1 {
		t.Errorf("response = %+v, want 3 events folded into 1 applied group", resp)
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name       string
		scopeType  string
		region     string
		wantOK     bool
		wantType   chart.ScopeType
		wantRegion string
	}{
		{"empty is match-all", "", "", true, "", ""},
		{"global type", "global", "", true, chart.ScopeGlobal, ""},
		{"country with region normalized", "country", "se", true, chart.ScopeCountry, "SE"},
		{"unknown type rejected", "continent", "", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, ok := parseFilter(tt.scopeType, tt.region)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if filter.Type != tt.wantType || filter.Region != tt.wantRegion {
				t.Errorf("filter = %+v, want %s/%s", filter, tt.wantType, tt.wantRegion)
			}
		})
	}
}
