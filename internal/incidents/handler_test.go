package incidents

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asPrincipal injects a fixed principal the way the auth middleware would.
func asPrincipal(p domain.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), httputil.PrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newAPIServer(t *testing.T) (*httptest.Server, *fakeRepo) {
	t.Helper()
	engine, repo, _ := newTestEngine()
	handler := NewHandler(engine)

	r := chi.NewRouter()
	r.Use(asPrincipal(domain.Principal{
		Kind: domain.PrincipalUser,
		ID:   "user-1",
		Name: "Dana",
		Role: domain.RoleManager,
	}))
	handler.RegisterReadRoutes(r)
	handler.RegisterRoutes(r)
	handler.RegisterManagerRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func createTestIncident(t *testing.T, srv *httptest.Server) domain.Incident {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/incidents", CreateIncidentRequest{
		Title:       "Checkout latency spike",
		Service:     "payments",
		Severity:    "high",
		Environment: "production",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var incident domain.Incident
	decodeData(t, resp, &incident)
	return incident
}

func TestCreateIncidentEndpoint(t *testing.T) {
	srv, _ := newAPIServer(t)

	t.Run("creates open incident attributed to the caller", func(t *testing.T) {
		incident := createTestIncident(t, srv)

		assert.Equal(t, domain.IncidentStatusOpen, incident.Status)
		assert.Equal(t, "user-1", incident.Reporter)
		require.Len(t, incident.Timeline, 1)
		assert.Equal(t, "Dana", incident.Timeline[0].Actor)
	})

	t.Run("missing required fields are rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/incidents", CreateIncidentRequest{Title: "no service"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown severity is rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/incidents", map[string]string{
			"title": "t", "service": "s", "severity": "catastrophic", "environment": "production",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestTransitionEndpoint(t *testing.T) {
	srv, _ := newAPIServer(t)
	incident := createTestIncident(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/incidents/"+incident.ID+"/status", TransitionRequest{Status: "acknowledged"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated domain.Incident
	decodeData(t, resp, &updated)
	assert.Equal(t, domain.IncidentStatusAcknowledged, updated.Status)
	assert.NotNil(t, updated.AcknowledgedAt)

	resp = doJSON(t, http.MethodPost, srv.URL+"/incidents/missing/status", TransitionRequest{Status: "acknowledged"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/incidents/"+incident.ID+"/status", map[string]string{"status": "on-fire"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssignEndpoint(t *testing.T) {
	srv, _ := newAPIServer(t)
	incident := createTestIncident(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/incidents/"+incident.ID+"/assign", AssignRequest{AssigneeID: "user-2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated domain.Incident
	decodeData(t, resp, &updated)
	require.NotNil(t, updated.Assignee)
	assert.Equal(t, "user-2", *updated.Assignee)
}

func TestRemediationEndpoints(t *testing.T) {
	srv, _ := newAPIServer(t)
	incident := createTestIncident(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/incidents/"+incident.ID+"/remediations", AddRemediationRequest{
		Step:             "Restart workers",
		RequiresApproval: true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var step domain.RemediationStep
	decodeData(t, resp, &step)
	assert.Equal(t, domain.RemediationPending, step.Status)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/incidents/"+incident.ID+"/remediations/"+step.ID, SetRemediationStatusRequest{Status: "approved"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/incidents/"+incident.ID+"/remediations/missing", SetRemediationStatusRequest{Status: "approved"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArchiveEndpoint(t *testing.T) {
	srv, _ := newAPIServer(t)
	incident := createTestIncident(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/incidents/"+incident.ID+"/archive", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Archived incidents refuse further transitions.
	resp = doJSON(t, http.MethodPost, srv.URL+"/incidents/"+incident.ID+"/status", TransitionRequest{Status: "acknowledged"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
