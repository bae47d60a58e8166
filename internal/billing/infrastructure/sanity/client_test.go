package sanity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, breaker resilience.BreakerConfig) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(Config{
		ProjectID:  "proj1",
		Dataset:    "production",
		Token:      "sk-token",
		APIVersion: "2024-01-01",
		BaseURL:    server.URL,
		Breaker:    breaker,
	}, nil, nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{ProjectID: "p", Dataset: "d"}, nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_Patch(t *testing.T) {
	var got struct {
		Mutations []struct {
			Patch struct {
				ID  string         `json:"id"`
				Set map[string]any `json:"set"`
			} `json:"patch"`
		} `json:"mutations"`
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2024-01-01/data/mutate/production", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("returnIds"))
		assert.Equal(t, "sync", r.URL.Query().Get("visibility"))
		assert.Equal(t, "Bearer sk-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"transactionId":"tx1","results":[{"id":"order-doc-1","operation":"update"}]}`))
	}, resilience.BreakerConfig{})

	err := c.Patch(context.Background(), "order-doc-1", domain.Fields{
		"status":        "paid",
		"paymentStatus": "paid",
	}, domain.VisibilitySync)

	require.NoError(t, err)
	require.Len(t, got.Mutations, 1)
	assert.Equal(t, "order-doc-1", got.Mutations[0].Patch.ID)
	assert.Equal(t, map[string]any{"status": "paid", "paymentStatus": "paid"}, got.Mutations[0].Patch.Set)
}

func TestClient_PatchDefaultsToAsyncVisibility(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "async", r.URL.Query().Get("visibility"))
		_, _ = w.Write([]byte(`{}`))
	}, resilience.BreakerConfig{})

	require.NoError(t, c.Patch(context.Background(), "doc-1", domain.Fields{"status": "active"}, ""))
}

func TestClient_PatchRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"description":"The document was not found"}}`))
	}, resilience.BreakerConfig{})

	err := c.Patch(context.Background(), "missing-doc", domain.Fields{"status": "active"}, domain.VisibilityAsync)

	var docErr *domain.DocumentStoreError
	require.ErrorAs(t, err, &docErr)
	assert.Equal(t, "missing-doc", docErr.DocumentID)
	assert.Contains(t, err.Error(), "The document was not found")
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, resilience.BreakerConfig{MaxRequests: 1, Timeout: time.Minute, FailureThreshold: 2})

	for i := 0; i < 2; i++ {
		require.Error(t, c.Patch(context.Background(), "doc-1", domain.Fields{"status": "active"}, ""))
	}
	err := c.Patch(context.Background(), "doc-1", domain.Fields{"status": "active"}, "")

	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}
