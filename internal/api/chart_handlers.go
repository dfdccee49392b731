package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/waveline/internal/chart"
	"github.com/onnwee/waveline/internal/chartcache"
)

// MaxServingLimit caps the limit query parameter so one request cannot ask
// for arbitrarily large responses.
const MaxServingLimit = 200

// ChartHandlers holds dependencies for the public chart read endpoints.
type ChartHandlers struct {
	charts *chartcache.Service
}

// NewChartHandlers creates a new ChartHandlers instance.
func NewChartHandlers(charts *chartcache.Service) *ChartHandlers {
	return &ChartHandlers{charts: charts}
}

// ChartResponse is the envelope for chart listing endpoints.
type ChartResponse struct {
	Scope   string           `json:"scope"`
	Entries []chartcache.Row `json:"entries"`
}

// HandleCharts routes everything under /charts/.
//
//	GET /charts/global              current global chart
//	GET /charts/country/{region}    current country chart
//	GET /charts/{region}/trending   momentum ordering (new entries first)
//	GET /charts/{region}/movers     biggest climbers or fallers
//	GET /charts/stats               operational freshness and backlog
func (h *ChartHandlers) HandleCharts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/charts/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "stats":
		h.stats(w, r)
	case len(parts) == 1 && parts[0] != "":
		// /charts/global or /charts/{region} shorthand
		h.serveChart(w, r, chart.ScopeForRegion(parts[0]))
	case len(parts) == 2 && parts[0] == "country":
		h.serveChart(w, r, chart.CountryScope(parts[1]))
	case len(parts) == 2 && parts[1] == "trending":
		h.trending(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "movers":
		h.movers(w, r, parts[0])
	default:
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Unknown chart route")
	}
}

func (h *ChartHandlers) serveChart(w http.ResponseWriter, r *http.Request, scope chart.Scope) {
	rows, err := h.charts.GetChart(r.Context(), scope, parseLimit(r))
	if err != nil {
		h.writeChartError(w, r, scope.Key(), err)
		return
	}
	WriteJSON(w, http.StatusOK, ChartResponse{Scope: scope.Key(), Entries: rows})
}

func (h *ChartHandlers) trending(w http.ResponseWriter, r *http.Request, region string) {
	scope := chart.ScopeForRegion(region)
	rows, err := h.charts.GetTrendingTracks(r.Context(), region, parseLimit(r))
	if err != nil {
		h.writeChartError(w, r, scope.Key(), err)
		return
	}
	WriteJSON(w, http.StatusOK, ChartResponse{Scope: scope.Key(), Entries: rows})
}

func (h *ChartHandlers) movers(w http.ResponseWriter, r *http.Request, region string) {
	direction := chartcache.MoverDirection(r.URL.Query().Get("direction"))
	if direction == "" {
		direction = chartcache.MoversUp
	}

	scope := chart.ScopeForRegion(region)
	rows, err := h.charts.GetTopMovers(r.Context(), region, parseLimit(r), direction)
	if err != nil {
		if errors.Is(err, chartcache.ErrInvalidDirection) {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidDirection,
				"direction must be 'up' or 'down'")
			return
		}
		h.writeChartError(w, r, scope.Key(), err)
		return
	}
	WriteJSON(w, http.StatusOK, ChartResponse{Scope: scope.Key(), Entries: rows})
}

func (h *ChartHandlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.charts.Stats(r.Context())
	if err != nil {
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal,
			"Failed to collect chart stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// writeChartError maps read failures to responses. A missing chart is 404
// with a distinct code so clients can tell "not computed yet" from a bad
// route.
func (h *ChartHandlers) writeChartError(w http.ResponseWriter, r *http.Request, scopeKey string, err error) {
	if errors.Is(err, chartcache.ErrNoChart) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeChartUnavailable,
			"No chart is currently published for "+scopeKey)
		return
	}
	WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal,
		"Failed to load chart for "+scopeKey)
}

// parseLimit reads the limit query parameter. Invalid or missing values
// fall back to the service default; oversized values are clamped.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0
	}
	if limit > MaxServingLimit {
		return MaxServingLimit
	}
	return limit
}
