//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newdaksh/incident-agent/internal/testutil"
	"github.com/stretchr/testify/require"
)

var userSeq atomic.Int64

type testUser struct {
	ID       string
	Name     string
	Email    string
	Password string
}

// registerUser creates a fresh user through the API. New users start as
// viewers; use promoteUser to raise the role.
func registerUser(t *testing.T, client *testutil.Client) testUser {
	t.Helper()

	n := userSeq.Add(1)
	user := testUser{
		Name:     fmt.Sprintf("User %d", n),
		Email:    fmt.Sprintf("user%d@example.com", n),
		Password: "s3cure-password",
	}

	resp, err := client.POST("/api/v1/auth/register", map[string]string{
		"name":     user.Name,
		"email":    user.Email,
		"password": user.Password,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, testutil.ReadBody(t, resp))

	ctx := context.Background()
	require.NoError(t, testDB.QueryRow(ctx,
		`SELECT id FROM users WHERE email = $1`, user.Email).Scan(&user.ID))
	return user
}

// promoteUser raises a user's role directly in the database. Token
// verification re-reads the user, so the change applies to existing tokens.
func promoteUser(t *testing.T, user testUser, role string) {
	t.Helper()
	tag, err := testDB.Exec(context.Background(),
		`UPDATE users SET role = $1 WHERE id = $2`, role, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, tag.RowsAffected())
}

// loginAs registers a user at the given role and returns an authenticated client.
func loginAs(t *testing.T, role string) (*testutil.Client, testUser) {
	t.Helper()
	client := newTestClient(t)
	user := registerUser(t, client)
	if role != "viewer" {
		promoteUser(t, user, role)
	}
	client.LoginAs(t, user.Email, user.Password)
	return client, user
}

type envelope[T any] struct {
	Data T `json:"data"`
}

// createIncident creates an incident and returns its decoded representation.
func createIncident(t *testing.T, client *testutil.Client, body map[string]any) map[string]any {
	t.Helper()

	if body == nil {
		body = map[string]any{
			"title":       "Checkout latency spike",
			"service":     "payments",
			"severity":    "high",
			"environment": "production",
		}
	}

	resp, err := client.POST("/api/v1/incidents", body)
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create incident: status=%d body=%s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var env envelope[map[string]any]
	testutil.DecodeJSON(t, resp, &env)
	return env.Data
}

// waitFor polls until the condition holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
