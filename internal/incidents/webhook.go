package incidents

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/lifecycle"
	"github.com/newdaksh/incident-agent/internal/pkg/ctxlog"
	"github.com/newdaksh/incident-agent/internal/pkg/httputil"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

const maxWebhookBody = 256 * 1024

// WebhookHandler ingests alert payloads from external monitoring systems and
// normalizes them into incidents. Signatures are verified when a secret is
// configured; ingestion is rate limited as webhooks are unauthenticated
// beyond the shared secret.
type WebhookHandler struct {
	engine    *lifecycle.Engine
	publisher lifecycle.EventPublisher
	secret    string
	limiter   *rate.Limiter
	titler    cases.Caser
}

// NewWebhookHandler creates a new webhook handler. An empty secret disables
// signature verification.
func NewWebhookHandler(engine *lifecycle.Engine, publisher lifecycle.EventPublisher, secret string, perSecond float64, burst int) *WebhookHandler {
	return &WebhookHandler{
		engine:    engine,
		publisher: publisher,
		secret:    secret,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		titler:    cases.Title(language.English),
	}
}

// RegisterRoutes registers webhook ingestion routes. These sit outside the
// authenticated router; the signature is the credential.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/alerts", h.HandleAlert)
	r.Post("/webhooks/monitoring/{provider}", h.HandleMonitoring)
}

// alertPayload is the loosely-typed shape monitoring systems post. Aliased
// fields cover the common variations.
type alertPayload struct {
	Title       string   `json:"title"`
	AlertName   string   `json:"alert_name"`
	Description string   `json:"description"`
	Message     string   `json:"message"`
	Service     string   `json:"service"`
	Source      string   `json:"source"`
	Severity    string   `json:"severity"`
	Priority    string   `json:"priority"`
	Environment string   `json:"environment"`
	Tags        []string `json:"tags"`
}

// HandleAlert handles POST /webhooks/alerts.
func (h *WebhookHandler) HandleAlert(w http.ResponseWriter, r *http.Request) {
	body, ok := h.admit(w, r)
	if !ok {
		return
	}

	var payload alertPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	origin := payload.Source
	if origin == "" {
		origin = "monitoring system"
	}

	h.createFromAlert(w, r, normalizeAlert(payload, domain.SourceWebhook), fmt.Sprintf("Alert received from %s", origin))
}

// HandleMonitoring handles POST /webhooks/monitoring/{provider}, accepting
// provider-specific payload shapes.
func (h *WebhookHandler) HandleMonitoring(w http.ResponseWriter, r *http.Request) {
	body, ok := h.admit(w, r)
	if !ok {
		return
	}

	provider := strings.ToLower(chi.URLParam(r, "provider"))

	payload, err := parseProviderAlert(provider, body)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	h.createFromAlert(w, r, normalizeAlert(payload, domain.SourceMonitoring),
		fmt.Sprintf("Alert received from %s", h.titler.String(provider)))
}

func (h *WebhookHandler) createFromAlert(w http.ResponseWriter, r *http.Request, input lifecycle.CreateIncidentInput, detail string) {
	logger := ctxlog.FromContext(r.Context())

	incident, err := h.engine.CreateIncident(r.Context(), input, domain.SystemPrincipal())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
			{Error: lifecycle.ErrValidation, Status: http.StatusBadRequest},
			{Error: lifecycle.ErrInvalidSeverity, Status: http.StatusBadRequest},
		})
		return
	}

	logger.Info("incident created from webhook",
		"incident_id", incident.ID,
		"severity", incident.Severity,
		"detail", detail,
	)

	// On-call responders get a direct heads-up for urgent alerts.
	if incident.Severity == domain.SeverityCritical || incident.Severity == domain.SeverityHigh {
		h.publisher.NotifyRole(domain.RoleResponder, domain.Notification{
			Type:    "critical_incident",
			Message: fmt.Sprintf("Critical incident created: %s", incident.Title),
			Data:    map[string]any{"incident_id": incident.ID, "severity": incident.Severity},
		})
	}

	httputil.Success(w, http.StatusCreated, map[string]any{
		"id":       incident.ID,
		"title":    incident.Title,
		"severity": incident.Severity,
		"status":   incident.Status,
	})
}

// admit applies rate limiting and signature verification, returning the raw
// body when the request may proceed.
func (h *WebhookHandler) admit(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if !h.limiter.Allow() {
		httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}

	if h.secret == "" {
		ctxlog.FromContext(r.Context()).Warn("webhook secret not configured, skipping signature verification")
		return body, true
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature-256")
	}
	if signature == "" {
		httputil.Error(w, http.StatusUnauthorized, "missing webhook signature")
		return nil, false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		ctxlog.FromContext(r.Context()).Warn("invalid webhook signature received")
		httputil.Error(w, http.StatusUnauthorized, "invalid webhook signature")
		return nil, false
	}

	return body, true
}

// normalizeAlert maps a loosely-typed alert into engine input with the
// fallbacks external systems expect.
func normalizeAlert(p alertPayload, source domain.IncidentSource) lifecycle.CreateIncidentInput {
	title := firstNonEmpty(p.Title, p.AlertName, "Unknown Alert")
	service := firstNonEmpty(p.Service, p.Source, "unknown")
	severity := firstNonEmpty(p.Severity, p.Priority)
	environment := firstNonEmpty(p.Environment, "production")

	return lifecycle.CreateIncidentInput{
		Title:       title,
		Description: firstNonEmpty(p.Description, p.Message),
		Service:     service,
		Severity:    mapAlertSeverity(severity),
		Source:      source,
		Environment: environment,
		Tags:        p.Tags,
	}
}

// mapAlertSeverity translates provider severity vocabularies. Unknown values
// default to medium.
func mapAlertSeverity(severity string) domain.Severity {
	switch strings.ToLower(severity) {
	case "critical":
		return domain.SeverityCritical
	case "high", "error":
		return domain.SeverityHigh
	case "medium", "warning":
		return domain.SeverityMedium
	case "low":
		return domain.SeverityLow
	case "info":
		return domain.SeverityInfo
	default:
		return domain.SeverityMedium
	}
}

// parseProviderAlert translates provider-specific webhook formats into the
// common alert shape.
func parseProviderAlert(provider string, body []byte) (alertPayload, error) {
	switch provider {
	case "prometheus":
		// Alertmanager webhook format.
		var p struct {
			GroupLabels       map[string]string `json:"groupLabels"`
			CommonAnnotations map[string]string `json:"commonAnnotations"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return alertPayload{}, err
		}
		return alertPayload{
			Title:       firstNonEmpty(p.GroupLabels["alertname"], "Prometheus Alert"),
			Description: p.CommonAnnotations["description"],
			Service:     firstNonEmpty(p.GroupLabels["service"], p.GroupLabels["job"], "unknown"),
			Severity:    p.GroupLabels["severity"],
			Environment: p.GroupLabels["environment"],
			Tags:        mapKeys(p.GroupLabels),
		}, nil

	case "grafana":
		var p struct {
			Title    string            `json:"title"`
			RuleName string            `json:"ruleName"`
			Message  string            `json:"message"`
			State    string            `json:"state"`
			Tags     map[string]string `json:"tags"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return alertPayload{}, err
		}
		return alertPayload{
			Title:       firstNonEmpty(p.Title, p.RuleName, "Grafana Alert"),
			Description: p.Message,
			Service:     firstNonEmpty(p.Tags["service"], "unknown"),
			Severity:    p.State,
			Environment: p.Tags["environment"],
			Tags:        mapKeys(p.Tags),
		}, nil

	default:
		var p alertPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return alertPayload{}, err
		}
		return p, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
