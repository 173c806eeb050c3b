//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/newdaksh/incident-agent/internal/testutil"
	"github.com/stretchr/testify/require"
)

// createPolicy posts an SLA policy scoped to the given service so tests do
// not interfere with each other's incidents.
func createPolicy(t *testing.T, client *testutil.Client, service string) map[string]any {
	t.Helper()

	resp, err := client.POST("/api/v1/policies", map[string]any{
		"name": "Policy for " + service,
		"conditions": map[string]any{
			"severity": []string{"high", "critical"},
			"service":  []string{service},
		},
		"targets": map[string]any{
			"acknowledgment_time": 30,
			"resolution_time":     240,
		},
		"escalation": map[string]any{
			"enabled": true,
			"levels": []map[string]any{
				{"level": 1, "trigger_at": 50, "actions": []string{"notify"}},
				{"level": 2, "trigger_at": 90, "actions": []string{"notify", "escalate"}},
			},
		},
		"is_active": true,
	})
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create policy: status %d: %s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var env envelope[map[string]any]
	testutil.DecodeJSON(t, resp, &env)
	return env.Data
}

func TestPolicyAppliedOnIncidentCreation(t *testing.T) {
	manager, _ := loginAs(t, "manager")
	policy := createPolicy(t, manager, "checkout")

	incident := createIncident(t, manager, map[string]any{
		"title": "Checkout errors spiking", "service": "checkout", "severity": "high", "environment": "production",
	})

	sla := incident["sla"].(map[string]any)
	require.Equal(t, policy["id"], sla["policy_id"])
	require.NotNil(t, sla["acknowledgment_deadline"])
	require.NotNil(t, sla["resolution_deadline"])

	// Conditions are disjunctive, so only an incident matching none of them
	// stays unbound.
	quiet := createIncident(t, manager, map[string]any{
		"title": "Minor docs glitch", "service": "docs", "severity": "low", "environment": "production",
	})
	sla = quiet["sla"].(map[string]any)
	require.Nil(t, sla["policy_id"])
}

func TestSweepMarksBreachAndEscalates(t *testing.T) {
	manager, _ := loginAs(t, "manager")
	createPolicy(t, manager, "billing")

	incident := createIncident(t, manager, map[string]any{
		"title": "Billing jobs stuck", "service": "billing", "severity": "critical", "environment": "production",
	})
	id := incident["id"].(string)

	// Backdate both deadlines so the next sweep tick sees a missed SLA.
	_, err := testDB.Exec(context.Background(),
		`UPDATE incidents SET ack_deadline = $1, resolution_deadline = $1, created_at = $2 WHERE id = $3`,
		time.Now().Add(-time.Hour), time.Now().Add(-5*time.Hour), id)
	require.NoError(t, err)

	waitFor(t, 15*time.Second, func() bool {
		resp, err := manager.GET("/api/v1/incidents/" + id)
		require.NoError(t, err)
		var env envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &env)
		sla := env.Data["sla"].(map[string]any)
		return sla["breached"] == true
	}, "incident never marked breached")

	resp, err := manager.GET("/api/v1/incidents/" + id)
	require.NoError(t, err)
	var env envelope[map[string]any]
	testutil.DecodeJSON(t, resp, &env)

	sla := env.Data["sla"].(map[string]any)
	require.Equal(t, "both", sla["breach_type"])

	// Both escalation levels are past due.
	waitFor(t, 15*time.Second, func() bool {
		resp, err := manager.GET("/api/v1/incidents/" + id)
		require.NoError(t, err)
		var env envelope[map[string]any]
		testutil.DecodeJSON(t, resp, &env)
		history, _ := env.Data["escalation_history"].([]any)
		return len(history) >= 2
	}, "escalation ladder never fully applied")
}

func TestAcknowledgeStopsAckClock(t *testing.T) {
	manager, _ := loginAs(t, "manager")
	createPolicy(t, manager, "notifications")

	incident := createIncident(t, manager, map[string]any{
		"title": "Push delivery delayed", "service": "notifications", "severity": "high", "environment": "production",
	})
	id := incident["id"].(string)

	resp, err := manager.POST("/api/v1/incidents/"+id+"/status", map[string]string{"status": "acknowledged"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Only the ack deadline is in the past; an acknowledged incident must not
	// be reported as an acknowledgment breach.
	_, err = testDB.Exec(context.Background(),
		`UPDATE incidents SET ack_deadline = $1 WHERE id = $2`, time.Now().Add(-time.Hour), id)
	require.NoError(t, err)

	time.Sleep(3 * time.Second)

	resp, err = manager.GET("/api/v1/incidents/" + id)
	require.NoError(t, err)
	var env envelope[map[string]any]
	testutil.DecodeJSON(t, resp, &env)
	sla := env.Data["sla"].(map[string]any)
	require.NotEqual(t, true, sla["breached"])
}
