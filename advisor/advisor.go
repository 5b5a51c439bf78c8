// Package advisor implements the remote advisor HTTP client: the agent's
// sole channel to an external decision service, guarded by a simple
// consecutive-failure circuit breaker.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/autonomic-run/agentruntime/core"
	"github.com/autonomic-run/agentruntime/telemetry"
)

func init() {
	telemetry.DeclareMetrics("advisor", telemetry.ModuleConfig{
		Metrics: []telemetry.MetricDefinition{
			{Name: "advisor_fallbacks_total", Type: "counter", Help: "Remote advisor calls that fell back to the noop default, by reason.", Labels: []string{"reason"}},
			{Name: "advisor_requests_total", Type: "counter", Help: "Remote advisor decide requests, by outcome.", Labels: []string{"outcome"}},
		},
	})
}

// Decision is the advisor's (or the fallback's) answer to a decide request.
type Decision struct {
	Action     string                 `json:"action"`
	Confidence float64                `json:"confidence"`
	Reason     string                 `json:"reason,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Raw        map[string]interface{} `json:"-"`
}

// Config controls Client construction.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxFailures int
	Cooldown    time.Duration
	HTTPClient  *http.Client
	Logger      core.Logger
}

// Client posts the state adapter's output to a configured decision
// endpoint and returns a Decision, falling back to a safe noop on any
// failure path. It is purely a transport: it never validates the semantic
// safety of what the advisor recommends.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  core.Logger

	maxFailures int64
	cooldown    time.Duration

	scopeCache core.Memory

	mu                sync.Mutex
	consecutiveFails  atomic.Int64
	lastFailureUnixNs atomic.Int64
}

const scopeCacheTTL = 60 * time.Second

// New constructs a Client. BaseURL defaults to "http://localhost:9090";
// Timeout defaults to 2s; MaxFailures defaults to 3; Cooldown defaults to
// 300s, matching the reference implementation's breaker.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:9090"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		timeout:     timeout,
		http:        httpClient,
		logger:      logger,
		maxFailures: int64(maxFailures),
		cooldown:    cooldown,
		scopeCache:  core.NewMemoryStore(),
	}
}

// canExecute reports whether the breaker allows a request right now,
// resetting the failure counter once the cooldown has elapsed. Guarded by
// a single mutex around the check-and-maybe-reset sequence.
func (c *Client) canExecute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consecutiveFails.Load() < c.maxFailures {
		return true
	}
	elapsed := time.Duration(time.Now().UnixNano()-c.lastFailureUnixNs.Load()) * time.Nanosecond
	if elapsed < c.cooldown {
		return false
	}
	c.consecutiveFails.Store(0)
	return true
}

func (c *Client) recordFailure() {
	c.consecutiveFails.Add(1)
	c.lastFailureUnixNs.Store(time.Now().UnixNano())
}

func (c *Client) recordSuccess() {
	c.consecutiveFails.Store(0)
}

// Decide posts state to the configured decide endpoint and returns its
// response, or a noop fallback on any failure (including a breaker trip).
func (c *Client) Decide(ctx context.Context, state map[string]interface{}) Decision {
	if !c.canExecute() {
		telemetry.Counter("advisor_fallbacks_total", "reason", "circuit_open")
		c.logger.Warn("advisor circuit breaker active, skipping remote call", nil)
		return fallback("circuit breaker active (advisor unavailable)")
	}

	decision, err := c.postDecide(ctx, state)
	if err != nil {
		c.recordFailure()
		telemetry.Counter("advisor_fallbacks_total", "reason", "request_failed")
		telemetry.Counter("advisor_requests_total", "outcome", "failure")
		c.logger.Error("advisor decide request failed", map[string]interface{}{"error": err.Error()})
		return fallback(err.Error())
	}

	c.recordSuccess()
	telemetry.Counter("advisor_requests_total", "outcome", "success")
	return decision
}

func (c *Client) postDecide(ctx context.Context, state map[string]interface{}) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(state)
	if err != nil {
		return Decision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decide", bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Decision{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("advisor returned HTTP %d", resp.StatusCode)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return Decision{}, fmt.Errorf("malformed advisor response: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(respBody, &decision); err != nil {
		return Decision{}, fmt.Errorf("malformed advisor response: %w", err)
	}
	decision.Raw = raw
	return decision, nil
}

func fallback(reason string) Decision {
	return Decision{
		Action:     "noop",
		Confidence: 0.0,
		Reason:     "Fallback: " + reason,
		Source:     "remote_client_fallback",
	}
}

// GetScope fetches the advisor's allowed action scope. This bypasses the
// breaker (introspection only) but still honors the per-call timeout. The
// response rarely changes between cycles, so it is memoized for
// scopeCacheTTL rather than fetched on every call.
func (c *Client) GetScope(ctx context.Context) (map[string]interface{}, error) {
	const cacheKey = "scope"

	if cached, err := c.scopeCache.Get(ctx, cacheKey); err == nil && cached != "" {
		var scope map[string]interface{}
		if err := json.Unmarshal([]byte(cached), &scope); err == nil {
			return scope, nil
		}
	}

	scope, err := c.getJSON(ctx, "/scope")
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(scope); err == nil {
		_ = c.scopeCache.Set(ctx, cacheKey, string(encoded), scopeCacheTTL)
	}
	return scope, nil
}

// GetHealth checks the advisor's reported health. This also bypasses the
// breaker.
func (c *Client) GetHealth(ctx context.Context) (map[string]interface{}, error) {
	return c.getJSON(ctx, "/health")
}

func (c *Client) getJSON(ctx context.Context, path string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisor %s returned HTTP %d", path, resp.StatusCode)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("malformed advisor response: %w", err)
	}
	return out, nil
}
