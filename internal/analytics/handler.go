package analytics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/newdaksh/incident-agent/internal/pkg/httputil"
)

// Default aggregation windows.
const (
	defaultDashboardWindow = 7 * 24 * time.Hour
	defaultReportWindow    = 30 * 24 * time.Hour
)

// Handler serves analytics queries. Routes are registered on the
// authenticated router; every endpoint is read-only.
type Handler struct {
	service *Service
}

// NewHandler creates a new analytics handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers analytics query routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/dashboard", h.Dashboard)
		r.Get("/hotspots", h.Hotspots)
		r.Get("/trends", h.Trends)
		r.Get("/mttr", h.ResolutionTimes)
		r.Get("/sla-compliance", h.SLACompliance)
		r.Get("/user-performance", h.UserPerformance)
	})
}

// Dashboard handles GET /analytics/dashboard. The window defaults to the
// last seven days.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r, defaultDashboardWindow)
	if !ok {
		return
	}

	report, err := h.service.Dashboard(r.Context(), window)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, report)
}

// Hotspots handles GET /analytics/hotspots.
func (h *Handler) Hotspots(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r, defaultReportWindow)
	if !ok {
		return
	}

	stats, err := h.service.Hotspots(r.Context(), window)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]any{"services": stats})
}

// Trends handles GET /analytics/trends with an optional service filter.
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r, defaultReportWindow)
	if !ok {
		return
	}

	buckets, err := h.service.Trends(r.Context(), optional(r, "service"), window)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]any{"trends": buckets})
}

// ResolutionTimes handles GET /analytics/mttr with an optional service
// filter.
func (h *Handler) ResolutionTimes(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r, defaultReportWindow)
	if !ok {
		return
	}

	stats, err := h.service.ResolutionTimes(r.Context(), optional(r, "service"), window)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]any{"services": stats})
}

// SLACompliance handles GET /analytics/sla-compliance.
func (h *Handler) SLACompliance(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r, defaultReportWindow)
	if !ok {
		return
	}

	report, err := h.service.SLACompliance(r.Context(), window)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, report)
}

// UserPerformance handles GET /analytics/user-performance with an optional
// assignee filter.
func (h *Handler) UserPerformance(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r, defaultReportWindow)
	if !ok {
		return
	}

	rows, err := h.service.UserPerformance(r.Context(), optional(r, "assignee"), window)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]any{"users": rows})
}

// parseWindow reads optional from/to RFC3339 query params, defaulting to the
// trailing fallback period. It writes the error response itself on bad input.
func parseWindow(w http.ResponseWriter, r *http.Request, fallback time.Duration) (Window, bool) {
	q := r.URL.Query()
	window := Window{To: time.Now().UTC()}

	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid to timestamp")
			return Window{}, false
		}
		window.To = to
	}
	window.From = window.To.Add(-fallback)
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid from timestamp")
			return Window{}, false
		}
		window.From = from
	}
	if !window.From.Before(window.To) {
		httputil.Error(w, http.StatusBadRequest, "from must precede to")
		return Window{}, false
	}
	return window, true
}

func optional(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}
