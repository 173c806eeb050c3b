// Package incidents provides HTTP handlers for the incident API, backed by
// the lifecycle engine.
package incidents

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/lifecycle"
	"github.com/newdaksh/incident-agent/internal/pkg/httputil"
)

// Pagination constants.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	engine    *lifecycle.Engine
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(engine *lifecycle.Engine) *Handler {
	return &Handler{
		engine:    engine,
		validator: validator.New(),
	}
}

// RegisterReadRoutes registers routes available to any authenticated user.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/incidents", h.List)
	r.Get("/incidents/{id}", h.Get)
}

// RegisterRoutes registers routes requiring the responder role.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/incidents", h.Create)
	r.Post("/incidents/{id}/status", h.Transition)
	r.Post("/incidents/{id}/assign", h.Assign)
	r.Post("/incidents/{id}/chat", h.AddChatMessage)
	r.Post("/incidents/{id}/remediations", h.AddRemediation)
	r.Post("/incidents/{id}/tickets", h.AttachTicket)
	r.Put("/incidents/{id}/rca", h.UpdateRCA)
}

// RegisterManagerRoutes registers routes requiring the manager role.
func (h *Handler) RegisterManagerRoutes(r chi.Router) {
	r.Patch("/incidents/{id}/remediations/{remediationID}", h.SetRemediationStatus)
	r.Post("/incidents/{id}/archive", h.Archive)
}

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	Title       string   `json:"title" validate:"required,min=1,max=500"`
	Description string   `json:"description"`
	Service     string   `json:"service" validate:"required,min=1,max=255"`
	Severity    string   `json:"severity" validate:"required,oneof=critical high medium low info"`
	Source      string   `json:"source" validate:"omitempty,oneof=manual webhook monitoring api user_report"`
	Environment string   `json:"environment" validate:"required,min=1,max=255"`
	Tags        []string `json:"tags"`
}

// ToInput converts the request to engine input.
func (r *CreateIncidentRequest) ToInput() lifecycle.CreateIncidentInput {
	return lifecycle.CreateIncidentInput{
		Title:       r.Title,
		Description: r.Description,
		Service:     r.Service,
		Severity:    domain.Severity(r.Severity),
		Source:      domain.IncidentSource(r.Source),
		Environment: r.Environment,
		Tags:        r.Tags,
	}
}

// Create handles POST /incidents.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.engine.CreateIncident(r.Context(), req.ToInput(), httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// Get handles GET /incidents/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	incident, err := h.engine.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// List handles GET /incidents with optional filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := lifecycle.Filters{Limit: DefaultListLimit}

	if v := q.Get("service"); v != "" {
		filters.Service = &v
	}
	if v := q.Get("severity"); v != "" {
		sev := domain.Severity(v)
		if !sev.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity")
			return
		}
		filters.Severity = &sev
	}
	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filters.Status = &status
	}
	if v := q.Get("assignee"); v != "" {
		filters.Assignee = &v
	}
	if v := q.Get("reporter"); v != "" {
		filters.Reporter = &v
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > MaxListLimit {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filters.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filters.Offset = offset
	}

	incidents, total, err := h.engine.ListIncidents(r.Context(), filters)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"total":     total,
	})
}

// TransitionRequest represents the status change request body.
type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=open acknowledged investigating resolving resolved closed"`
}

// Transition handles POST /incidents/{id}/status.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.engine.Transition(r.Context(), chi.URLParam(r, "id"), domain.IncidentStatus(req.Status), httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// AssignRequest represents the assignment request body.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id" validate:"required"`
}

// Assign handles POST /incidents/{id}/assign.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.engine.Assign(r.Context(), chi.URLParam(r, "id"), req.AssigneeID, httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ChatMessageRequest represents the chat message request body.
type ChatMessageRequest struct {
	Text string `json:"text" validate:"required,min=1,max=4000"`
}

// AddChatMessage handles POST /incidents/{id}/chat.
func (h *Handler) AddChatMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	msg, err := h.engine.AddChatMessage(r.Context(), chi.URLParam(r, "id"), domain.ChatMessage{
		Author: domain.ChatAuthorUser,
		Text:   req.Text,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, msg)
}

// AddRemediationRequest represents the remediation proposal request body.
type AddRemediationRequest struct {
	Step             string  `json:"step" validate:"required,min=1,max=1000"`
	Description      string  `json:"description"`
	RequiresApproval bool    `json:"requires_approval"`
	Safe             bool    `json:"safe"`
	RunbookID        *string `json:"runbook_id"`
}

// AddRemediation handles POST /incidents/{id}/remediations.
func (h *Handler) AddRemediation(w http.ResponseWriter, r *http.Request) {
	var req AddRemediationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	step, err := h.engine.AddRemediation(r.Context(), chi.URLParam(r, "id"), lifecycle.AddRemediationInput{
		Step:             req.Step,
		Description:      req.Description,
		RequiresApproval: req.RequiresApproval,
		Safe:             req.Safe,
		RunbookID:        req.RunbookID,
	}, httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, step)
}

// SetRemediationStatusRequest represents the remediation status request body.
type SetRemediationStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending approved rejected executing completed failed"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// SetRemediationStatus handles PATCH /incidents/{id}/remediations/{remediationID}.
func (h *Handler) SetRemediationStatus(w http.ResponseWriter, r *http.Request) {
	var req SetRemediationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.engine.SetRemediationStatus(
		r.Context(),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "remediationID"),
		domain.RemediationStatus(req.Status),
		httputil.GetPrincipal(r.Context()),
		req.Result,
		req.Error,
	)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// AttachTicketRequest represents the ticket link request body.
type AttachTicketRequest struct {
	Provider   string `json:"provider" validate:"required,oneof=jira pagerduty servicenow"`
	ExternalID string `json:"external_id" validate:"required"`
	URL        string `json:"url" validate:"omitempty,url"`
	Status     string `json:"status"`
}

// AttachTicket handles POST /incidents/{id}/tickets.
func (h *Handler) AttachTicket(w http.ResponseWriter, r *http.Request) {
	var req AttachTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	status := req.Status
	if status == "" {
		status = "open"
	}

	incident, err := h.engine.AttachTicket(r.Context(), chi.URLParam(r, "id"), domain.TicketLink{
		Provider:   domain.TicketProvider(req.Provider),
		ExternalID: req.ExternalID,
		URL:        req.URL,
		Status:     status,
	}, httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// UpdateRCARequest represents the RCA request body.
type UpdateRCARequest struct {
	Summary             string   `json:"summary" validate:"required,min=1"`
	Timeline            string   `json:"timeline"`
	RootCause           string   `json:"root_cause"`
	Impact              string   `json:"impact"`
	ContributingFactors []string `json:"contributing_factors"`
	PreventionMeasures  []string `json:"prevention_measures"`
	Status              string   `json:"status" validate:"omitempty,oneof=draft pending approved published"`
}

// UpdateRCA handles PUT /incidents/{id}/rca.
func (h *Handler) UpdateRCA(w http.ResponseWriter, r *http.Request) {
	var req UpdateRCARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.engine.UpdateRCA(r.Context(), chi.URLParam(r, "id"), &domain.RCA{
		Summary:             req.Summary,
		Timeline:            req.Timeline,
		RootCause:           req.RootCause,
		Impact:              req.Impact,
		ContributingFactors: req.ContributingFactors,
		PreventionMeasures:  req.PreventionMeasures,
		GeneratedBy:         domain.ChatAuthorUser,
		Status:              domain.RCAStatus(req.Status),
	}, httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Archive handles POST /incidents/{id}/archive.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Archive(r.Context(), chi.URLParam(r, "id"), httputil.GetPrincipal(r.Context())); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: lifecycle.ErrIncidentNotFound, Status: http.StatusNotFound},
		{Error: lifecycle.ErrRemediationNotFound, Status: http.StatusNotFound},
		{Error: lifecycle.ErrPolicyNotFound, Status: http.StatusNotFound},
		{Error: lifecycle.ErrValidation, Status: http.StatusBadRequest},
		{Error: lifecycle.ErrInvalidStatus, Status: http.StatusBadRequest},
		{Error: lifecycle.ErrInvalidSeverity, Status: http.StatusBadRequest},
		{Error: lifecycle.ErrIncidentArchived, Status: http.StatusConflict},
	})
}
