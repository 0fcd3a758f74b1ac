package credly

import (
	"context"
	"encoding/base64"
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
	template, err := models.NewBadgeTemplate("Champion", "", models.OriginCredly, time.Now())
	require.NoError(t, err)
	return issuer.Request{
		Badge:    &models.UserBadge{ExternalID: "ext-1"},
		Template: template,
		User: &models.User{
			Username: "alice",
			Email:    "alice@example.com",
			FullName: "Alice P Liddell",
		},
	}
}

func TestAwardPostsIssuedBadge(t *testing.T) {
	var captured issueBadgeRequest
	var authHeader, path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"issued-9","state":"pending"}}`))
	}))
	defer server.Close()

	client, err := New(Config{
		APIBaseURL:     server.URL,
		OrganizationID: "org-1",
		APIKey:         "key",
	}, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	issuance, err := client.Award(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, "/organizations/org-1/badges", path)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("key")), authHeader)
	assert.Equal(t, "alice@example.com", captured.RecipientEmail)
	assert.Equal(t, "Alice", captured.IssuedToFirstName)
	assert.Equal(t, "P Liddell", captured.IssuedToLastName)
	assert.Equal(t, "issued-9", issuance.ExternalID)
	assert.Equal(t, "pending", issuance.State)
}

func TestAwardRequiresEmail(t *testing.T) {
	client, err := New(Config{APIBaseURL: "https://api.example.com", OrganizationID: "org-1", APIKey: "key"})
	require.NoError(t, err)

	req := testRequest(t)
	req.User.Email = ""

	_, err = client.Award(context.Background(), req)
	require.Error(t, err)
}

func TestRevokeTargetsExternalBadge(t *testing.T) {
	var method, path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(Config{
		APIBaseURL:     server.URL,
		OrganizationID: "org-1",
		APIKey:         "key",
	}, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	require.NoError(t, client.Revoke(context.Background(), testRequest(t)))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/organizations/org-1/badges/ext-1/revoke", path)
}

func TestAwardSurfacesProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unprocessable"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client, err := New(Config{
		APIBaseURL:     server.URL,
		OrganizationID: "org-1",
		APIKey:         "key",
	}, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	_, err = client.Award(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestSplitFullName(t *testing.T) {
	tests := []struct {
		name  string
		full  string
		first string
		last  string
	}{
		{"two parts", "Alice Liddell", "Alice", "Liddell"},
		{"three parts", "Alice P Liddell", "Alice", "P Liddell"},
		{"single token", "Alice", "Alice", "Alice"},
		{"empty falls back", "", "alice", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := splitFullName(tt.full, "alice")
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}
