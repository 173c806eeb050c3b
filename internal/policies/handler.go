package policies

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/pkg/httputil"
)

// Handler handles HTTP requests for the policies module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new policies handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validator: validator.New()}
}

// RegisterReadRoutes registers routes available to responders and above.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/policies", h.List)
	r.Get("/policies/{id}", h.Get)
}

// RegisterRoutes registers mutating routes (manager and above).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/policies", h.Create)
	r.Put("/policies/{id}", h.Update)
	r.Delete("/policies/{id}", h.Delete)
}

// EscalationLevelRequest is one ladder rung in a policy request.
type EscalationLevelRequest struct {
	Level          int      `json:"level" validate:"required,min=1"`
	TriggerAt      int      `json:"trigger_at" validate:"required,min=1,max=100"`
	NotifyUsers    []string `json:"notify_users"`
	NotifyChannels []string `json:"notify_channels"`
	Actions        []string `json:"actions" validate:"dive,oneof=notify reassign escalate auto-resolve"`
}

// PolicyRequest represents the request body for creating or updating a policy.
type PolicyRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description"`
	Conditions  struct {
		Severity []string `json:"severity" validate:"dive,oneof=critical high medium low info"`
		Service  []string `json:"service"`
		Tags     []string `json:"tags"`
	} `json:"conditions"`
	Targets struct {
		AcknowledgmentTime  int `json:"acknowledgment_time" validate:"required,min=1"`
		ResolutionTime      int `json:"resolution_time" validate:"required,min=1"`
		EscalationThreshold int `json:"escalation_threshold" validate:"min=0"`
	} `json:"targets"`
	Escalation struct {
		Enabled bool                     `json:"enabled"`
		Levels  []EscalationLevelRequest `json:"levels" validate:"dive"`
	} `json:"escalation"`
	IsActive bool `json:"is_active"`
}

// ToInput converts the request to service input.
func (r *PolicyRequest) ToInput() PolicyInput {
	severities := make([]domain.Severity, 0, len(r.Conditions.Severity))
	for _, s := range r.Conditions.Severity {
		severities = append(severities, domain.Severity(s))
	}

	levels := make([]domain.EscalationLevel, 0, len(r.Escalation.Levels))
	for _, l := range r.Escalation.Levels {
		actions := make([]domain.EscalationAction, 0, len(l.Actions))
		for _, a := range l.Actions {
			actions = append(actions, domain.EscalationAction(a))
		}
		levels = append(levels, domain.EscalationLevel{
			Level:          l.Level,
			TriggerAt:      l.TriggerAt,
			NotifyUsers:    l.NotifyUsers,
			NotifyChannels: l.NotifyChannels,
			Actions:        actions,
		})
	}

	return PolicyInput{
		Name:        r.Name,
		Description: r.Description,
		Conditions: domain.PolicyConditions{
			Severity: severities,
			Service:  r.Conditions.Service,
			Tags:     r.Conditions.Tags,
		},
		Targets: domain.PolicyTargets{
			AcknowledgmentTime:  r.Targets.AcknowledgmentTime,
			ResolutionTime:      r.Targets.ResolutionTime,
			EscalationThreshold: r.Targets.EscalationThreshold,
		},
		Escalation: domain.EscalationLadder{
			Enabled: r.Escalation.Enabled,
			Levels:  levels,
		},
		IsActive: r.IsActive,
	}
}

// Create handles POST /policies.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	policy, err := h.service.Create(r.Context(), req.ToInput(), httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, policy)
}

// Get handles GET /policies/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	policy, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, policy)
}

// List handles GET /policies.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.List(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]any{"policies": policies, "total": len(policies)})
}

// Update handles PUT /policies/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	policy, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req.ToInput(), httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, policy)
}

// Delete handles DELETE /policies/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), httputil.GetPrincipal(r.Context())); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrPolicyNotFound, Status: http.StatusNotFound},
		{Error: ErrInvalidLadder, Status: http.StatusBadRequest},
		{Error: ErrNoConditions, Status: http.StatusBadRequest},
	})
}
