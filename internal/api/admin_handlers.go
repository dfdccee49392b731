package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/waveline/internal/chart"
	"github.com/onnwee/waveline/internal/chartcache"
	"github.com/onnwee/waveline/internal/playlog"
	"github.com/onnwee/waveline/internal/refresh"
)

// AdminHandlers holds dependencies for the operator surface.
type AdminHandlers struct {
	refresher *refresh.Service
	charts    *chartcache.Service
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(refresher *refresh.Service, charts *chartcache.Service) *AdminHandlers {
	return &AdminHandlers{refresher: refresher, charts: charts}
}

// RefreshRequest selects what to refresh. An empty scope refreshes the
// global chart plus every configured region.
type RefreshRequest struct {
	Scope string `json:"scope,omitempty"` // canonical "type:REGION" form
}

// RefreshResponse reports what was triggered.
type RefreshResponse struct {
	Refreshed []string `json:"refreshed"`
}

// ClearRequest selects which published generations to drop. Empty fields
// match everything.
type ClearRequest struct {
	Type   string `json:"type,omitempty"`
	Region string `json:"region,omitempty"`
}

// ClearResponse reports how many scopes were cleared.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

// AggregationResponse reports one aggregation pass.
type AggregationResponse struct {
	Events  int `json:"events"`
	Groups  int `json:"groups"`
	Applied int `json:"applied"`
}

// Refresh handles POST /admin/charts/refresh.
// With a scope in the body, recomputes that scope synchronously; without
// one, recomputes every configured scope. Returns 409 when the scope is
// already being refreshed.
func (h *AdminHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req RefreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
			return
		}
	}

	if req.Scope == "" {
		if err := h.refresher.RefreshAllScopes(r.Context()); err != nil {
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal,
				"One or more scope refreshes failed")
			return
		}
		WriteJSON(w, http.StatusOK, RefreshResponse{Refreshed: []string{"all"}})
		return
	}

	scope, err := chart.ParseScopeKey(req.Scope)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidScope, err.Error())
		return
	}

	if err := h.refresher.ForceRefresh(r.Context(), scope); err != nil {
		if errors.Is(err, refresh.ErrRefreshInFlight) {
			WriteError(w, r.Context(), http.StatusConflict, ErrCodeRefreshInFlight,
				"A refresh for "+scope.Key()+" is already running")
			return
		}
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal,
			"Refresh failed for "+scope.Key())
		return
	}
	WriteJSON(w, http.StatusOK, RefreshResponse{Refreshed: []string{scope.Key()}})
}

// Clear handles POST /admin/charts/clear.
// Drops published generations matching the filter; subsequent reads return
// chart_unavailable until the next refresh republishes.
func (h *AdminHandlers) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req ClearRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
			return
		}
	}

	filter, ok := parseFilter(req.Type, req.Region)
	if !ok {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidScope,
			"type must be 'global' or 'country'")
		return
	}

	cleared, err := h.refresher.ClearCache(r.Context(), filter)
	if err != nil {
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Cache clear failed")
		return
	}
	WriteJSON(w, http.StatusOK, ClearResponse{Cleared: cleared})
}

// Inspect handles GET /admin/charts/inspect.
// Returns per-scope generation summaries, optionally filtered by the type
// and region query parameters.
func (h *AdminHandlers) Inspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	filter, ok := parseFilter(r.URL.Query().Get("type"), r.URL.Query().Get("region"))
	if !ok {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidScope,
			"type must be 'global' or 'country'")
		return
	}

	scopes, err := h.charts.Inspect(r.Context(), filter)
	if err != nil {
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Inspect failed")
		return
	}
	WriteJSON(w, http.StatusOK, scopes)
}

// RunAggregation handles POST /admin/aggregation/run.
// Triggers one aggregation pass outside the scheduled cadence. Returns 409
// when a pass is already running.
func (h *AdminHandlers) RunAggregation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	summary, err := h.refresher.RunAggregationPass(r.Context())
	if err != nil {
		if errors.Is(err, refresh.ErrRefreshInFlight) {
			WriteError(w, r.Context(), http.StatusConflict, ErrCodeRefreshInFlight,
				"An aggregation pass is already running")
			return
		}
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Aggregation pass failed")
		return
	}
	WriteJSON(w, http.StatusOK, AggregationResponse{
		Events:  summary.Events,
		Groups:  summary.Groups,
		Applied: summary.Applied,
	})
}

// parseFilter validates and builds a scope filter from raw inputs.
func parseFilter(scopeType, region string) (chartcache.Filter, bool) {
	filter := chartcache.Filter{Region: playlog.NormalizeRegion(strings.TrimSpace(region))}
	if region == "" {
		filter.Region = ""
	}
	switch chart.ScopeType(strings.TrimSpace(scopeType)) {
	case "":
	case chart.ScopeGlobal:
		filter.Type = chart.ScopeGlobal
	case chart.ScopeCountry:
		filter.Type = chart.ScopeCountry
	default:
		return chartcache.Filter{}, false
	}
	return filter, true
}
