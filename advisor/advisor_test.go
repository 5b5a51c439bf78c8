package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide_SuccessPassesThroughResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/decide", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"action": "scale_up", "confidence": 0.9, "source": "rl_brain",
		})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	decision := c.Decide(context.Background(), map[string]interface{}{"app": "demo-api"})
	assert.Equal(t, "scale_up", decision.Action)
	assert.Equal(t, 0.9, decision.Confidence)
}

func TestDecide_NonOKFallsBackToNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	decision := c.Decide(context.Background(), map[string]interface{}{})
	assert.Equal(t, "noop", decision.Action)
	assert.Equal(t, 0.0, decision.Confidence)
	assert.Equal(t, "remote_client_fallback", decision.Source)
}

func TestDecide_MalformedJSONFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	decision := c.Decide(context.Background(), map[string]interface{}{})
	assert.Equal(t, "noop", decision.Action)
}

func TestDecide_TimeoutFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, Timeout: 5 * time.Millisecond})
	decision := c.Decide(context.Background(), map[string]interface{}{})
	assert.Equal(t, "noop", decision.Action)
}

func TestDecide_BreakerTripsAfterMaxFailuresAndRecoversAfterCooldown(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, MaxFailures: 2, Cooldown: 20 * time.Millisecond})

	c.Decide(context.Background(), map[string]interface{}{})
	c.Decide(context.Background(), map[string]interface{}{})
	require.Equal(t, 2, calls)

	// Breaker should now be open; this call must not hit the server.
	decision := c.Decide(context.Background(), map[string]interface{}{})
	assert.Equal(t, "noop", decision.Action)
	assert.Equal(t, 2, calls, "breaker should have skipped the request")

	time.Sleep(25 * time.Millisecond)
	c.Decide(context.Background(), map[string]interface{}{})
	assert.Equal(t, 3, calls, "breaker should allow a request after cooldown elapses")
}

func TestDecide_SuccessResetsFailureCounter(t *testing.T) {
	fail := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"action": "noop", "confidence": 1.0})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, MaxFailures: 2, Cooldown: time.Hour})
	c.Decide(context.Background(), map[string]interface{}{})
	fail = false
	c.Decide(context.Background(), map[string]interface{}{})
	fail = true

	// Only one failure recorded since the last success; breaker stays closed.
	decision := c.Decide(context.Background(), map[string]interface{}{})
	assert.Equal(t, "remote_client_fallback", decision.Source)
	assert.True(t, c.canExecute(), "breaker should still be closed after only one consecutive failure")
}

func TestGetScope_BypassesBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scope", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"actions": []string{"noop", "restart"}})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, MaxFailures: 1})
	c.consecutiveFails.Store(5) // simulate an open breaker

	scope, err := c.GetScope(context.Background())
	require.NoError(t, err)
	assert.Contains(t, scope, "actions")
}

func TestGetHealth_ReturnsErrorOnNonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	_, err := c.GetHealth(context.Background())
	assert.Error(t, err)
}
