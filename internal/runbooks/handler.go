package runbooks

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/newdaksh/incident-agent/internal/pkg/httputil"
)

// Handler handles HTTP requests for the runbooks module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new runbooks handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validator: validator.New()}
}

// RegisterReadRoutes registers routes available to any authenticated user.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/runbooks", h.List)
	r.Get("/runbooks/{id}", h.Get)
	r.Get("/runbooks/{id}/versions", h.ListVersions)
	r.Get("/runbooks/{id}/versions/{version}", h.GetVersion)
}

// RegisterRoutes registers mutating routes (responder and above).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/runbooks", h.Create)
	r.Put("/runbooks/{id}", h.Update)
	r.Post("/runbooks/{id}/archive", h.Archive)
}

// CreateRunbookRequest represents the request body for creating a runbook.
type CreateRunbookRequest struct {
	Title       string   `json:"title" validate:"required,min=1,max=500"`
	Service     string   `json:"service" validate:"required,min=1,max=255"`
	Description string   `json:"description"`
	Body        string   `json:"body" validate:"required,min=1"`
	Tags        []string `json:"tags"`
}

// UpdateRunbookRequest represents the request body for updating a runbook.
type UpdateRunbookRequest struct {
	Title       string   `json:"title" validate:"required,min=1,max=500"`
	Description string   `json:"description"`
	Body        string   `json:"body" validate:"required,min=1"`
	Tags        []string `json:"tags"`
}

// Create handles POST /runbooks.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRunbookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	runbook, err := h.service.Create(r.Context(), CreateInput{
		Title:       req.Title,
		Service:     req.Service,
		Description: req.Description,
		Body:        req.Body,
		Tags:        req.Tags,
	}, httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, runbook)
}

// Get handles GET /runbooks/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	runbook, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, runbook)
}

// List handles GET /runbooks with optional filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{}
	if v := q.Get("service"); v != "" {
		filter.Service = &v
	}
	if v := q.Get("tag"); v != "" {
		filter.Tag = &v
	}
	if q.Get("include_archived") == "true" {
		filter.IncludeArchived = true
	}

	runbooks, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]any{"runbooks": runbooks, "total": len(runbooks)})
}

// Update handles PUT /runbooks/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRunbookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	runbook, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Body:        req.Body,
		Tags:        req.Tags,
	}, httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, runbook)
}

// ListVersions handles GET /runbooks/{id}/versions.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.ListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]any{"versions": versions, "total": len(versions)})
}

// GetVersion handles GET /runbooks/{id}/versions/{version}.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		httputil.Error(w, http.StatusBadRequest, "invalid version")
		return
	}

	snapshot, err := h.service.GetVersion(r.Context(), chi.URLParam(r, "id"), version)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, snapshot)
}

// Archive handles POST /runbooks/{id}/archive.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Archive(r.Context(), chi.URLParam(r, "id"), httputil.GetPrincipal(r.Context())); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrRunbookNotFound, Status: http.StatusNotFound},
		{Error: ErrVersionNotFound, Status: http.StatusNotFound},
		{Error: ErrRunbookArchived, Status: http.StatusConflict},
	})
}
