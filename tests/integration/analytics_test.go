//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/newdaksh/incident-agent/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dashboardReport struct {
	TotalIncidents    int     `json:"total_incidents"`
	ResolvedIncidents int     `json:"resolved_incidents"`
	SLACompliance     float64 `json:"sla_compliance"`
}

type serviceStats struct {
	Service       string  `json:"service"`
	IncidentCount int     `json:"incident_count"`
	AvgSeverity   float64 `json:"avg_severity"`
	Hotspot       bool    `json:"hotspot"`
}

type trendBucket struct {
	Date       string         `json:"date"`
	BySeverity map[string]int `json:"by_severity"`
	Total      int            `json:"total"`
}

type resolutionStats struct {
	Service    string  `json:"service"`
	Resolved   int     `json:"resolved"`
	AvgMinutes float64 `json:"avg_minutes"`
}

type assigneePerformance struct {
	AssigneeID     string  `json:"assignee_id"`
	Name           string  `json:"name"`
	Assigned       int     `json:"assigned"`
	Resolved       int     `json:"resolved"`
	ResolutionRate float64 `json:"resolution_rate"`
}

func getAnalytics[T any](t *testing.T, client *testutil.Client, path string) T {
	t.Helper()

	resp, err := client.GET("/api/v1/analytics" + path)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, testutil.ReadBody(t, resp))

	var env envelope[T]
	testutil.DecodeJSON(t, resp, &env)
	return env.Data
}

func transition(t *testing.T, client *testutil.Client, id, status string) {
	t.Helper()
	resp, err := client.POST("/api/v1/incidents/"+id+"/status", map[string]string{"status": status})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, testutil.ReadBody(t, resp))
	resp.Body.Close()
}

func TestAnalyticsReports(t *testing.T) {
	manager, owner := loginAs(t, "manager")

	const service = "report-pipeline"
	first := createIncident(t, manager, map[string]any{
		"title": "Pipeline stalled", "service": service, "severity": "high", "environment": "production",
	})
	createIncident(t, manager, map[string]any{
		"title": "Pipeline slow", "service": service, "severity": "low", "environment": "production",
	})

	firstID := first["id"].(string)

	// Assign and resolve one of the two.
	resp, err := manager.POST("/api/v1/incidents/"+firstID+"/assign", map[string]string{"assignee_id": owner.ID})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	transition(t, manager, firstID, "acknowledged")
	transition(t, manager, firstID, "resolved")

	t.Run("dashboard counts the window", func(t *testing.T) {
		report := getAnalytics[dashboardReport](t, manager, "/dashboard")
		assert.GreaterOrEqual(t, report.TotalIncidents, 2)
		assert.GreaterOrEqual(t, report.ResolvedIncidents, 1)
		assert.LessOrEqual(t, report.SLACompliance, 100.0)
	})

	t.Run("hotspots break down by service", func(t *testing.T) {
		data := getAnalytics[struct {
			Services []serviceStats `json:"services"`
		}](t, manager, "/hotspots")

		var found *serviceStats
		for i := range data.Services {
			if data.Services[i].Service == service {
				found = &data.Services[i]
				break
			}
		}
		require.NotNil(t, found, "service missing from breakdown")
		assert.Equal(t, 2, found.IncidentCount)
		assert.False(t, found.Hotspot)
		// One high (3) and one low (1).
		assert.Equal(t, 2.0, found.AvgSeverity)
	})

	t.Run("trends bucket by day and severity", func(t *testing.T) {
		data := getAnalytics[struct {
			Trends []trendBucket `json:"trends"`
		}](t, manager, "/trends?service="+service)

		require.Len(t, data.Trends, 1)
		assert.Equal(t, 2, data.Trends[0].Total)
		assert.Equal(t, 1, data.Trends[0].BySeverity["high"])
		assert.Equal(t, 1, data.Trends[0].BySeverity["low"])
	})

	t.Run("resolution stats cover resolved incidents only", func(t *testing.T) {
		data := getAnalytics[struct {
			Services []resolutionStats `json:"services"`
		}](t, manager, "/mttr?service="+service)

		require.Len(t, data.Services, 1)
		assert.Equal(t, 1, data.Services[0].Resolved)
	})

	t.Run("user performance tracks the assignee", func(t *testing.T) {
		data := getAnalytics[struct {
			Users []assigneePerformance `json:"users"`
		}](t, manager, "/user-performance?assignee="+owner.ID)

		require.Len(t, data.Users, 1)
		row := data.Users[0]
		assert.Equal(t, owner.Name, row.Name)
		assert.Equal(t, 1, row.Assigned)
		assert.Equal(t, 1, row.Resolved)
		assert.Equal(t, 100.0, row.ResolutionRate)
	})

	t.Run("sla compliance lists breaches", func(t *testing.T) {
		report := getAnalytics[struct {
			Total      int     `json:"total"`
			Breached   int     `json:"breached"`
			Compliance float64 `json:"compliance"`
		}](t, manager, "/sla-compliance")

		assert.GreaterOrEqual(t, report.Total, 2)
		assert.GreaterOrEqual(t, report.Total, report.Breached)
	})

	t.Run("rejects malformed window", func(t *testing.T) {
		resp, err := manager.GET("/api/v1/analytics/dashboard?from=lastweek")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}
