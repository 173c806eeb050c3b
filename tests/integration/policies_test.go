//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/newdaksh/incident-agent/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyCRUD(t *testing.T) {
	manager, user := loginAs(t, "manager")
	policy := createPolicy(t, manager, "policy-crud")
	id := policy["id"].(string)

	require.Equal(t, user.ID, policy["created_by"])

	t.Run("get and list", func(t *testing.T) {
		resp, err := manager.GET("/api/v1/policies/" + id)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var env envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &env)
		assert.Equal(t, "Policy for policy-crud", env.Data["name"])

		resp, err = manager.GET("/api/v1/policies")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &list)
		found := false
		for _, item := range list.Data["policies"].([]any) {
			if item.(map[string]any)["id"] == id {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("update preserves creator", func(t *testing.T) {
		resp, err := manager.PUT("/api/v1/policies/"+id, map[string]any{
			"name": "Tightened policy",
			"conditions": map[string]any{
				"severity": []string{"critical"},
			},
			"targets": map[string]any{
				"acknowledgment_time": 15,
				"resolution_time":     120,
			},
			"is_active": true,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var env envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &env)
		assert.Equal(t, "Tightened policy", env.Data["name"])
		assert.Equal(t, user.ID, env.Data["created_by"])
	})

	t.Run("delete", func(t *testing.T) {
		resp, err := manager.DELETE("/api/v1/policies/" + id)
		require.NoError(t, err)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()

		resp, err = manager.WithoutValidation().GET("/api/v1/policies/" + id)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestPolicyValidation(t *testing.T) {
	manager, _ := loginAs(t, "manager")

	// No conditions at all.
	resp, err := manager.WithoutValidation().POST("/api/v1/policies", map[string]any{
		"name": "unscoped",
		"targets": map[string]any{
			"acknowledgment_time": 15,
			"resolution_time":     120,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Escalation ladder out of order.
	resp, err = manager.WithoutValidation().POST("/api/v1/policies", map[string]any{
		"name":       "bad ladder",
		"conditions": map[string]any{"severity": []string{"critical"}},
		"targets": map[string]any{
			"acknowledgment_time": 15,
			"resolution_time":     120,
		},
		"escalation": map[string]any{
			"enabled": true,
			"levels": []map[string]any{
				{"level": 1, "trigger_at": 80, "actions": []string{"notify"}},
				{"level": 2, "trigger_at": 50, "actions": []string{"notify"}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRunbookCRUDAndVersioning(t *testing.T) {
	responder, _ := loginAs(t, "responder")

	resp, err := responder.POST("/api/v1/runbooks", map[string]any{
		"title":   "Database failover",
		"service": "database",
		"body":    "1. Promote replica\n2. Repoint DNS",
		"tags":    []string{"database", "failover"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created envelope[map[string]any]
	testutil.DecodeJSON(t, resp, &created)
	id := created.Data["id"].(string)
	require.EqualValues(t, 1, created.Data["version"])

	t.Run("body change bumps version and snapshots", func(t *testing.T) {
		resp, err := responder.PUT("/api/v1/runbooks/"+id, map[string]any{
			"title": "Database failover",
			"body":  "1. Verify replica lag\n2. Promote replica\n3. Repoint DNS",
			"tags":  []string{"database", "failover"},
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var env envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &env)
		require.EqualValues(t, 2, env.Data["version"])

		resp, err = responder.GET("/api/v1/runbooks/" + id + "/versions/1")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var v1 envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &v1)
		assert.Equal(t, "1. Promote replica\n2. Repoint DNS", v1.Data["body"])
	})

	t.Run("list filters by tag", func(t *testing.T) {
		resp, err := responder.GET("/api/v1/runbooks?tag=failover")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &list)
		found := false
		for _, item := range list.Data["runbooks"].([]any) {
			if item.(map[string]any)["id"] == id {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("archive freezes the runbook", func(t *testing.T) {
		resp, err := responder.POST("/api/v1/runbooks/"+id+"/archive", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()

		resp, err = responder.WithoutValidation().PUT("/api/v1/runbooks/"+id, map[string]any{
			"title": "Database failover",
			"body":  "edited after archive",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()

		// Hidden from the default listing, visible with include_archived.
		resp, err = responder.GET("/api/v1/runbooks?service=database")
		require.NoError(t, err)
		var list envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &list)
		for _, item := range list.Data["runbooks"].([]any) {
			assert.NotEqual(t, id, item.(map[string]any)["id"])
		}

		resp, err = responder.GET("/api/v1/runbooks?service=database&include_archived=true")
		require.NoError(t, err)
		testutil.DecodeJSON(t, resp, &list)
		found := false
		for _, item := range list.Data["runbooks"].([]any) {
			if item.(map[string]any)["id"] == id {
				found = true
			}
		}
		assert.True(t, found)
	})
}
