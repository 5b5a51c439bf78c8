// Package stateadapter bridges the agent's heterogeneous internal
// observation (an event plus memory signals) into the flat schema the
// remote advisor expects.
package stateadapter

import (
	"strings"

	"github.com/autonomic-run/agentruntime/memory"
	"github.com/autonomic-run/agentruntime/proof"
)

// Event is the normalized shape StateAdapter reads from; callers populate
// only the fields they have, leaving the rest at their zero value.
type Event struct {
	AppID     string
	AppName   string
	EventType string
	LatencyMs float64
	Workers   int
	Data      map[string]interface{}
	Metrics   map[string]interface{}
}

// Request is the advisor's flat input schema. Required fields are always
// present, coerced to their declared numeric types; missing metrics
// default to zero.
type Request struct {
	App           string  `json:"app"`
	Env           string  `json:"env"`
	EventType     string  `json:"event_type"`
	State         string  `json:"state"`
	LatencyMs     float64 `json:"latency_ms"`
	ErrorsLastMin int     `json:"errors_last_min"`
	Workers       int     `json:"workers"`
}

// ToMap flattens a Request for JSON transport to the advisor.
func (r Request) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"app":             r.App,
		"env":             r.Env,
		"event_type":      r.EventType,
		"state":           r.State,
		"latency_ms":      r.LatencyMs,
		"errors_last_min": r.ErrorsLastMin,
		"workers":         r.Workers,
	}
}

// StateAdapter converts an Event, the current FSM state, and memory
// signals into the advisor's Request schema.
type StateAdapter struct {
	Env       string
	ProofLog  *proof.Log
}

// New constructs a StateAdapter scoped to one environment.
func New(env string, proofLog *proof.Log) *StateAdapter {
	return &StateAdapter{Env: env, ProofLog: proofLog}
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0.0
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func metricValue(metrics map[string]interface{}, key string) (float64, bool) {
	if metrics == nil {
		return 0, false
	}
	return asFloat(metrics[key])
}

// AdaptState produces the advisor's flat input record.
func (a *StateAdapter) AdaptState(event Event, agentState string, memSignals memory.Signals) Request {
	metrics := event.Metrics
	if metrics == nil && event.Data != nil {
		if m, ok := event.Data["metrics"].(map[string]interface{}); ok {
			metrics = m
		}
	}

	app := event.AppID
	if app == "" {
		app = event.AppName
	}
	if app == "" {
		app = "unknown-app"
	}

	eventType := event.EventType
	if eventType == "" {
		eventType = "unknown"
	}

	var latencyFromMetrics, latencyFromData float64
	if metrics != nil {
		latencyFromMetrics, _ = metricValue(metrics, "latency_ms")
	}
	if event.Data != nil {
		latencyFromData, _ = asFloat(event.Data["latency_ms"])
	}
	latency := firstNonZero(latencyFromMetrics, latencyFromData, event.LatencyMs)

	errorsLastMin := 0
	if metrics != nil {
		if v, ok := metricValue(metrics, "errors_last_min"); ok && v != 0 {
			errorsLastMin = int(v)
		} else if rate, ok := metricValue(metrics, "error_rate"); ok && rate != 0 {
			errorsLastMin = int(rate * 10)
		}
	}

	workers := event.Workers
	if workers == 0 {
		if w, ok := metricValue(metrics, "workers"); ok && w != 0 {
			workers = int(w)
		} else {
			workers = 3
		}
	}

	request := Request{
		App:           app,
		Env:           a.Env,
		EventType:     eventType,
		State:         strings.ToLower(agentState),
		LatencyMs:     latency,
		ErrorsLastMin: errorsLastMin,
		Workers:       workers,
	}

	if a.ProofLog != nil {
		a.ProofLog.Write(proof.EventRLInput, map[string]interface{}{
			"mapped_payload":       request.ToMap(),
			"original_event_type": event.EventType,
		})
	}

	return request
}

// ToVector scales cpu_percent, memory_percent, and error_rate from metrics
// into [0,1] for future vector-based model consumers.
func ToVector(metrics map[string]interface{}) [3]float64 {
	cpu, _ := metricValue(metrics, "cpu_percent")
	mem, _ := metricValue(metrics, "memory_percent")
	errRate, _ := metricValue(metrics, "error_rate")
	return [3]float64{cpu / 100.0, mem / 100.0, errRate}
}
