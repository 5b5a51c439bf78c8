package stateadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonomic-run/agentruntime/memory"
)

func TestAdaptState_MapsRequiredFieldsFromMetrics(t *testing.T) {
	a := New("prod", nil)
	event := Event{
		AppID:     "demo-api",
		EventType: "health_check",
		Metrics: map[string]interface{}{
			"latency_ms":      120.5,
			"errors_last_min": 4,
		},
	}
	req := a.AdaptState(event, "Observing", memory.Signals{})

	assert.Equal(t, "demo-api", req.App)
	assert.Equal(t, "prod", req.Env)
	assert.Equal(t, "health_check", req.EventType)
	assert.Equal(t, "observing", req.State)
	assert.Equal(t, 120.5, req.LatencyMs)
	assert.Equal(t, 4, req.ErrorsLastMin)
	assert.Equal(t, 3, req.Workers)
}

func TestAdaptState_DerivesErrorsFromErrorRateWhenMissing(t *testing.T) {
	a := New("dev", nil)
	event := Event{
		AppID:   "demo-api",
		Metrics: map[string]interface{}{"error_rate": 0.5},
	}
	req := a.AdaptState(event, "deciding", memory.Signals{})
	assert.Equal(t, 5, req.ErrorsLastMin)
}

func TestAdaptState_FallsBackToAppNameAndUnknownEventType(t *testing.T) {
	a := New("dev", nil)
	req := a.AdaptState(Event{AppName: "fallback-app"}, "idle", memory.Signals{})
	assert.Equal(t, "fallback-app", req.App)
	assert.Equal(t, "unknown", req.EventType)
}

func TestAdaptState_DefaultsAppWhenBothIDAndNameMissing(t *testing.T) {
	a := New("dev", nil)
	req := a.AdaptState(Event{}, "idle", memory.Signals{})
	assert.Equal(t, "unknown-app", req.App)
}

func TestAdaptState_PrefersExplicitWorkersOverMetrics(t *testing.T) {
	a := New("dev", nil)
	event := Event{AppID: "demo-api", Workers: 7, Metrics: map[string]interface{}{"workers": 12}}
	req := a.AdaptState(event, "idle", memory.Signals{})
	assert.Equal(t, 7, req.Workers)
}

func TestAdaptState_ReadsLatencyFromNestedData(t *testing.T) {
	a := New("dev", nil)
	event := Event{AppID: "demo-api", Data: map[string]interface{}{"latency_ms": 42.0}}
	req := a.AdaptState(event, "idle", memory.Signals{})
	assert.Equal(t, 42.0, req.LatencyMs)
}

func TestToVector_ScalesPercentagesIntoUnitRange(t *testing.T) {
	vec := ToVector(map[string]interface{}{"cpu_percent": 50.0, "memory_percent": 75.0, "error_rate": 0.2})
	require.Len(t, vec, 3)
	assert.InDelta(t, 0.5, vec[0], 0.0001)
	assert.InDelta(t, 0.75, vec[1], 0.0001)
	assert.InDelta(t, 0.2, vec[2], 0.0001)
}
