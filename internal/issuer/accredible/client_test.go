package accredible

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insignia/internal/badges/models"
	"insignia/internal/issuer"
)

func testRequest(t *testing.T) issuer.Request {
	t.Helper()
	template, err := models.NewBadgeTemplate("Data Wrangler", "", models.OriginAccredible, time.Now())
	require.NoError(t, err)
	return issuer.Request{
		Badge:    &models.UserBadge{ExternalID: "314"},
		Template: template,
		User: &models.User{
			Username: "alice",
			Email:    "alice@example.com",
			FullName: "Alice Liddell",
		},
	}
}

func TestAwardCreatesGroupCredential(t *testing.T) {
	var captured issueCredentialRequest
	var authHeader, path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"credential":{"id":314}}`))
	}))
	defer server.Close()

	client, err := New(Config{
		APIBaseURL: server.URL,
		APIKey:     "key",
		GroupID:    77,
	}, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	issuance, err := client.Award(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, "/credentials", path)
	assert.Equal(t, "Bearer key", authHeader)
	assert.Equal(t, int64(77), captured.Credential.GroupID)
	assert.Equal(t, "Alice Liddell", captured.Credential.Recipient.Name)
	assert.Equal(t, "Data Wrangler", captured.Credential.Name)
	assert.True(t, captured.Credential.Complete)
	assert.Equal(t, "314", issuance.ExternalID)
}

func TestAwardFallsBackToUsername(t *testing.T) {
	var captured issueCredentialRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"credential":{"id":1}}`))
	}))
	defer server.Close()

	client, err := New(Config{APIBaseURL: server.URL, APIKey: "key"}, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	req := testRequest(t)
	req.User.FullName = ""
	_, err = client.Award(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "alice", captured.Credential.Recipient.Name)
}

func TestRevokeExpiresCredential(t *testing.T) {
	var method, path string
	var captured expireCredentialRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(Config{APIBaseURL: server.URL, APIKey: "key"}, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	require.NoError(t, client.Revoke(context.Background(), testRequest(t)))
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/credentials/314", path)
	assert.NotEmpty(t, captured.Credential.ExpiredOn)
}
