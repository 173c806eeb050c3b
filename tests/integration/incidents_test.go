//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/newdaksh/incident-agent/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentLifecycleFlow(t *testing.T) {
	manager, user := loginAs(t, "manager")
	incident := createIncident(t, manager, nil)
	id := incident["id"].(string)

	require.Equal(t, "open", incident["status"])
	assert.Equal(t, user.ID, incident["reporter"])

	t.Run("acknowledge records the milestone", func(t *testing.T) {
		resp, err := manager.POST("/api/v1/incidents/"+id+"/status", map[string]string{"status": "acknowledged"})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var env envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &env)
		assert.Equal(t, "acknowledged", env.Data["status"])
		assert.NotNil(t, env.Data["acknowledged_at"])
	})

	t.Run("assign", func(t *testing.T) {
		resp, err := manager.POST("/api/v1/incidents/"+id+"/assign", map[string]string{"assignee_id": user.ID})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var env envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &env)
		assert.Equal(t, user.ID, env.Data["assignee"])
	})

	t.Run("chat append", func(t *testing.T) {
		resp, err := manager.POST("/api/v1/incidents/"+id+"/chat", map[string]string{"text": "Looking into it"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("remediation proposal and approval", func(t *testing.T) {
		resp, err := manager.POST("/api/v1/incidents/"+id+"/remediations", map[string]any{
			"step":              "Restart the payment workers",
			"requires_approval": true,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var step envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &step)
		require.Equal(t, "pending", step.Data["status"])
		stepID := step.Data["id"].(string)

		resp, err = manager.PATCH("/api/v1/incidents/"+id+"/remediations/"+stepID, map[string]string{
			"status": "completed",
			"result": "workers restarted, latency normal",
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("attach ticket", func(t *testing.T) {
		resp, err := manager.POST("/api/v1/incidents/"+id+"/tickets", map[string]string{
			"provider":    "jira",
			"external_id": "OPS-1234",
			"url":         "https://example.atlassian.net/browse/OPS-1234",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("resolve sets mttr", func(t *testing.T) {
		resp, err := manager.POST("/api/v1/incidents/"+id+"/status", map[string]string{"status": "resolved"})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var env envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &env)
		assert.NotNil(t, env.Data["resolved_at"])
	})

	t.Run("rca draft", func(t *testing.T) {
		resp, err := manager.PUT("/api/v1/incidents/"+id+"/rca", map[string]any{
			"summary":    "Connection pool exhaustion under peak load",
			"root_cause": "Pool sized for average traffic",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("archive hides and freezes the incident", func(t *testing.T) {
		resp, err := manager.POST("/api/v1/incidents/"+id+"/archive", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, err = manager.WithoutValidation().POST("/api/v1/incidents/"+id+"/status", map[string]string{"status": "closed"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()

		// Archived incidents disappear from default listings
		resp, err = manager.GET("/api/v1/incidents?service=payments")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &list)
		for _, item := range list.Data["incidents"].([]any) {
			assert.NotEqual(t, id, item.(map[string]any)["id"])
		}
	})
}

func TestIncidentValidationAndNotFound(t *testing.T) {
	client, _ := loginAs(t, "responder")

	resp, err := client.WithoutValidation().POST("/api/v1/incidents", map[string]any{
		"title": "missing fields",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.WithoutValidation().GET("/api/v1/incidents/00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestIncidentListFilters(t *testing.T) {
	client, _ := loginAs(t, "responder")

	createIncident(t, client, map[string]any{
		"title": "Search cluster red", "service": "search", "severity": "critical", "environment": "production",
	})
	createIncident(t, client, map[string]any{
		"title": "Search index lag", "service": "search", "severity": "low", "environment": "staging",
	})

	resp, err := client.GET("/api/v1/incidents?service=search&severity=critical")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list envelope[map[string]any]
	testutil.DecodeJSON(t, resp, &list)
	for _, item := range list.Data["incidents"].([]any) {
		incident := item.(map[string]any)
		assert.Equal(t, "search", incident["service"])
		assert.Equal(t, "critical", incident["severity"])
	}
}
