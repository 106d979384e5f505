package audit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// ViewCapability gates every audit route
const ViewCapability = "org.audit.view"

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Guard wraps a handler with a capability check. A nil Guard leaves routes
// ungated.
type Guard func(capability string) func(http.Handler) http.Handler

// Handlers provides HTTP handlers for the org-scoped audit API
type Handlers struct {
	store Store
	guard Guard
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store, guard Guard) *Handlers {
	return &Handlers{
		store: store,
		guard: guard,
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/orgs/{org_id}/audit/events", h.gated(h.listEvents)).Methods("GET")
	router.Handle("/orgs/{org_id}/audit/events/{id}", h.gated(h.getEvent)).Methods("GET")
	router.Handle("/orgs/{org_id}/audit/export", h.gated(h.exportEvents)).Methods("GET")
	router.Handle("/orgs/{org_id}/audit/stats", h.gated(h.getStats)).Methods("GET")
}

func (h *Handlers) gated(fn http.HandlerFunc) http.Handler {
	if h.guard == nil {
		return fn
	}
	return h.guard(ViewCapability)(fn)
}

// listEvents handles GET /orgs/{org_id}/audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /orgs/{org_id}/audit/events/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid event ID")
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	if event == nil || event.OrgID != mux.Vars(r)["org_id"] {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "event not found")
		return
	}

	_ = httputil.WriteSuccess(w, event)
}

// exportEvents handles GET /orgs/{org_id}/audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	// Exports are unpaginated unless a limit was asked for
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = 0
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	if !format.Valid() {
		httputil.WriteBadRequest(w, "format must be one of json, ndjson, csv")
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// getStats handles GET /orgs/{org_id}/audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	stats, err := h.store.GetStats(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	_ = httputil.WriteSuccess(w, stats)
}

// parseFilter reads query parameters into a filter pinned to the path org
func parseFilter(w http.ResponseWriter, r *http.Request) (SearchFilter, bool) {
	query := r.URL.Query()
	filter := SearchFilter{
		OrgID:      mux.Vars(r)["org_id"],
		ActorID:    strings.TrimSpace(query.Get("actor_id")),
		ResourceID: strings.TrimSpace(query.Get("resource_id")),
		Limit:      defaultPageSize,
	}

	for _, name := range []string{"start_time", "end_time"} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, name+" must be RFC3339")
			return filter, false
		}
		if name == "start_time" {
			filter.StartTime = &t
		} else {
			filter.EndTime = &t
		}
	}

	for _, et := range query["event_type"] {
		if et = strings.TrimSpace(et); et != "" {
			filter.EventTypes = append(filter.EventTypes, EventType(et))
		}
	}

	if s := query.Get("status"); s != "" {
		status := EventStatus(s)
		filter.Status = &status
	}
	if rt := query.Get("resource_type"); rt != "" {
		filter.ResourceType = ResourceType(rt)
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteBadRequest(w, "limit must be a positive integer")
			return filter, false
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
		filter.Limit = limit
	}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			httputil.WriteBadRequest(w, "offset must be a non-negative integer")
			return filter, false
		}
		filter.Offset = offset
	}

	return filter, true
}
