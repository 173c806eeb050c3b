package incidents

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookServer(t *testing.T, secret string) (*httptest.Server, *fakeRepo, *fakePublisher) {
	t.Helper()
	engine, repo, publisher := newTestEngine()
	handler := NewWebhookHandler(engine, publisher, secret, 100, 100)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo, publisher
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postAlert(t *testing.T, url string, body []byte, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"title":"DB down","service":"payments","severity":"critical"}`)

	t.Run("missing signature is rejected", func(t *testing.T) {
		srv, repo, _ := newWebhookServer(t, "s3cret")
		resp := postAlert(t, srv.URL+"/webhooks/alerts", body, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, repo.incidents)
	})

	t.Run("wrong signature is rejected", func(t *testing.T) {
		srv, repo, _ := newWebhookServer(t, "s3cret")
		resp := postAlert(t, srv.URL+"/webhooks/alerts", body, map[string]string{
			"X-Webhook-Signature": sign("wrong-secret", body),
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, repo.incidents)
	})

	t.Run("valid signature is accepted", func(t *testing.T) {
		srv, repo, _ := newWebhookServer(t, "s3cret")
		resp := postAlert(t, srv.URL+"/webhooks/alerts", body, map[string]string{
			"X-Webhook-Signature": sign("s3cret", body),
		})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Len(t, repo.incidents, 1)
	})

	t.Run("github style header is accepted", func(t *testing.T) {
		srv, _, _ := newWebhookServer(t, "s3cret")
		resp := postAlert(t, srv.URL+"/webhooks/alerts", body, map[string]string{
			"X-Hub-Signature-256": sign("s3cret", body),
		})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("no configured secret skips verification", func(t *testing.T) {
		srv, _, _ := newWebhookServer(t, "")
		resp := postAlert(t, srv.URL+"/webhooks/alerts", body, nil)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})
}

func TestWebhookNormalization(t *testing.T) {
	srv, repo, publisher := newWebhookServer(t, "")

	t.Run("fallbacks fill missing fields", func(t *testing.T) {
		resp := postAlert(t, srv.URL+"/webhooks/alerts", []byte(`{"alert_name":"HighLatency","source":"pingdom"}`), nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var envelope struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))

		incident := repo.incidents[envelope.Data.ID]
		require.NotNil(t, incident)
		assert.Equal(t, "HighLatency", incident.Title)
		assert.Equal(t, "pingdom", incident.Service, "source doubles as service")
		assert.Equal(t, domain.SeverityMedium, incident.Severity, "unknown severity defaults to medium")
		assert.Equal(t, "production", incident.Environment)
		assert.Equal(t, domain.SourceWebhook, incident.Source)
		assert.Equal(t, domain.SystemActor, incident.Reporter)
	})

	t.Run("provider severity vocabulary is translated", func(t *testing.T) {
		tests := []struct {
			raw  string
			want domain.Severity
		}{
			{"critical", domain.SeverityCritical},
			{"error", domain.SeverityHigh},
			{"warning", domain.SeverityMedium},
			{"low", domain.SeverityLow},
			{"info", domain.SeverityInfo},
			{"P0-PAGE-EVERYONE", domain.SeverityMedium},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, mapAlertSeverity(tt.raw), tt.raw)
		}
	})

	t.Run("critical alerts notify on-call responders", func(t *testing.T) {
		before := len(publisher.roleNotices[domain.RoleResponder])
		resp := postAlert(t, srv.URL+"/webhooks/alerts", []byte(`{"title":"API down","service":"api","severity":"critical"}`), nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Len(t, publisher.roleNotices[domain.RoleResponder], before+1)
	})

	t.Run("low severity alerts do not page", func(t *testing.T) {
		before := len(publisher.roleNotices[domain.RoleResponder])
		resp := postAlert(t, srv.URL+"/webhooks/alerts", []byte(`{"title":"Minor blip","service":"api","severity":"low"}`), nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Len(t, publisher.roleNotices[domain.RoleResponder], before)
	})
}

func TestWebhookProviderFormats(t *testing.T) {
	srv, repo, _ := newWebhookServer(t, "")

	t.Run("prometheus alertmanager payload", func(t *testing.T) {
		body := []byte(`{
			"groupLabels": {"alertname": "InstanceDown", "service": "payments", "severity": "critical"},
			"commonAnnotations": {"description": "Instance payments-1 is down"}
		}`)
		resp := postAlert(t, srv.URL+"/webhooks/monitoring/prometheus", body, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var envelope struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))

		incident := repo.incidents[envelope.Data.ID]
		require.NotNil(t, incident)
		assert.Equal(t, "InstanceDown", incident.Title)
		assert.Equal(t, "payments", incident.Service)
		assert.Equal(t, domain.SeverityCritical, incident.Severity)
		assert.Equal(t, domain.SourceMonitoring, incident.Source)
	})

	t.Run("grafana payload", func(t *testing.T) {
		body := []byte(`{"ruleName": "High CPU", "message": "CPU above 90%", "state": "warning", "tags": {"service": "search"}}`)
		resp := postAlert(t, srv.URL+"/webhooks/monitoring/grafana", body, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("unknown provider falls back to generic shape", func(t *testing.T) {
		body := []byte(`{"title": "Queue backlog", "service": "jobs", "severity": "high"}`)
		resp := postAlert(t, srv.URL+"/webhooks/monitoring/homegrown", body, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	})
}

func TestWebhookRateLimit(t *testing.T) {
	engine, _, publisher := newTestEngine()
	handler := NewWebhookHandler(engine, publisher, "", 1, 2)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	body := []byte(`{"title":"x","service":"api","severity":"low"}`)
	statuses := make(map[int]int)
	for i := 0; i < 5; i++ {
		resp := postAlert(t, srv.URL+"/webhooks/alerts", body, nil)
		statuses[resp.StatusCode]++
	}

	assert.Equal(t, 2, statuses[http.StatusCreated], "burst of 2 admitted")
	assert.Equal(t, 3, statuses[http.StatusTooManyRequests])
}
