package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/models"
	"github.com/chatrelay/chatrelay/internal/serviceauth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	minter := serviceauth.NewMinter("test-secret", "chatrelay", time.Minute)
	return NewClient(srv.URL, 5*time.Second, minter), srv
}

func TestEnsureSenderExists(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(UserRecord{UserID: "U123", Status: "active"})
	})

	source := &models.EventSource{Type: models.SourceTypeGroup, UserID: "U123", GroupID: "G456"}
	user, err := client.EnsureSenderExists(context.Background(), "U123", source)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/users/ensure", gotPath)
	assert.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	assert.Equal(t, "U123", gotBody["userId"])
	assert.Equal(t, models.SourceTypeGroup, gotBody["sourceType"])
	assert.Equal(t, "G456", gotBody["contextId"])
	assert.Equal(t, "U123", user.UserID)
	assert.Equal(t, "active", user.Status)
}

func TestEnsureSenderExistsServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.EnsureSenderExists(context.Background(), "U123", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestMarkFollowedSendsTimestamp(t *testing.T) {
	var gotBody map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	})

	at := time.Date(2026, 7, 4, 12, 30, 0, 0, time.UTC)
	require.NoError(t, client.MarkFollowed(context.Background(), "U1", at))
	assert.Equal(t, "2026-07-04T12:30:00Z", gotBody["followedAt"])
}

func TestMembershipPaths(t *testing.T) {
	var calls []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	require.NoError(t, client.AddMember(ctx, "G1", "U1"))
	require.NoError(t, client.RemoveMember(ctx, "G1", "U2"))
	require.NoError(t, client.EnsureGroupSynced(ctx, "G1", models.SourceTypeGroup))
	require.NoError(t, client.SyncRoster(ctx, "G1", "ops", []string{"U1", "U3"}))

	assert.Equal(t, []string{
		"POST /api/v1/groups/G1/members/U1",
		"DELETE /api/v1/groups/G1/members/U2",
		"POST /api/v1/groups/ensure",
		"PUT /api/v1/groups/G1/members",
	}, calls)
}

func TestDoWithoutMinterSkipsAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil)
	require.NoError(t, client.TouchLastActive(context.Background(), "U1"))
	assert.Empty(t, gotAuth)
}
