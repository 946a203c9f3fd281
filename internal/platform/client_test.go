package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clodoworks/orchestrator/internal/apiclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter() *apiclient.Limiter {
	cfgs := apiclient.DefaultClassConfigs()
	for class, cfg := range cfgs {
		cfg.MinSpacing = 0
		cfgs[class] = cfg
	}
	return apiclient.NewLimiter(cfgs)
}

func TestVerifyTokenParsesSuccessResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/tokens/verify", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"account_id":  "acct-1",
			"permissions": []string{"Workers Scripts:Edit"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "acct-1", "tok", testLimiter())
	result, err := client.VerifyToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "acct-1", result.AccountID)
	assert.Contains(t, result.Permissions, "Workers Scripts:Edit")
}

func TestVerifyTokenNonOKStatusIsInvalidNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "acct-1", "tok", testLimiter())
	result, err := client.VerifyToken(context.Background(), "bad-token")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Error)
}

func TestCheckOwnershipReportsOwnedAndConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"zones": []map[string]interface{}{
				{"owned_by_account": true, "has_conflicting_record": true},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "acct-1", "tok", testLimiter())
	owned, conflict, err := client.CheckOwnership(context.Background(), "example.com", "tok")
	require.NoError(t, err)
	assert.True(t, owned)
	assert.True(t, conflict)
}

func TestCheckOwnershipNoZonesReportsUnowned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"zones": []map[string]interface{}{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "acct-1", "tok", testLimiter())
	owned, conflict, err := client.CheckOwnership(context.Background(), "example.com", "tok")
	require.NoError(t, err)
	assert.False(t, owned)
	assert.False(t, conflict)
}

func TestListDomainsReturnsHostnames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{"hostname": "a.example.com"},
				{"hostname": "b.example.com"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "acct-1", "tok", testLimiter())
	domains, err := client.ListDomains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, domains)
}

func TestPushArtifactReturnsRevisionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]string{"id": "rev-42"}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "acct-1", "tok", testLimiter())
	revision, err := client.PushArtifact(context.Background(), "mydomain", []byte("export default {}"))
	require.NoError(t, err)
	assert.Equal(t, "rev-42", revision)
}

func TestPushArtifactNonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "acct-1", "tok", testLimiter())
	_, err := client.PushArtifact(context.Background(), "mydomain", []byte("x"))
	assert.Error(t, err)
}
