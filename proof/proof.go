// Package proof implements the append-only proof log: a JSONL sink that
// every gated decision and execution path writes through, so the full
// history of a run can be reconstructed from one file.
package proof

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/autonomic-run/agentruntime/core"
	"github.com/autonomic-run/agentruntime/telemetry"
)

func init() {
	telemetry.DeclareMetrics("proof", telemetry.ModuleConfig{
		Metrics: []telemetry.MetricDefinition{
			{Name: "proof_write_failures_total", Type: "counter", Help: "Proof log lines that failed to write, by event name.", Labels: []string{"event"}},
			{Name: "proof_writes_total", Type: "counter", Help: "Proof log lines written successfully, by event name.", Labels: []string{"event"}},
		},
	})
}

// Event names a proof log entry. The set mirrors the reference runtime's
// event vocabulary; readers must tolerate event names outside this list,
// since new call sites can introduce their own without a schema change.
type Event string

const (
	EventRuntimeEmit                Event = "RUNTIME_EMIT"
	EventRLInput                    Event = "RL_INPUT"
	EventRLConsume                  Event = "RL_CONSUME"
	EventRLDecision                 Event = "RL_DECISION"
	EventOrchExec                   Event = "ORCH_EXEC"
	EventOrchRefuse                 Event = "ORCH_REFUSE"
	EventSystemStable               Event = "SYSTEM_STABLE"
	EventFailureInjected            Event = "FAILURE_INJECTED"
	EventRefusalEmitSuccess         Event = "REFUSAL_EMIT_SUCCESS"
	EventDemoModeBlock              Event = "DEMO_MODE_BLOCK"
	EventExecutionGatePassed        Event = "EXECUTION_GATE_PASSED"
	EventUnsafeActionRefused        Event = "UNSAFE_ACTION_REFUSED"
	EventRLIntakeValidated          Event = "RL_INTAKE_VALIDATED"
	EventOnboardingStarted          Event = "ONBOARDING_STARTED"
	EventOnboardingValidationPassed Event = "ONBOARDING_VALIDATION_PASSED"
	EventOnboardingRejected         Event = "ONBOARDING_REJECTED"
	EventSpecGenerated              Event = "SPEC_GENERATED"
	EventDeploymentTriggered        Event = "DEPLOYMENT_TRIGGERED"
)

// Log is an append-only JSONL writer guarded by a single mutex, matching
// the teacher's append-only file-handling style elsewhere in this module.
// It is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger core.Logger
	clock  func() time.Time
}

// Open creates (or truncate-safely reopens, via O_APPEND) the proof log at
// path, creating parent directories as needed.
func Open(path string, logger core.Logger) (*Log, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, core.NewFrameworkError("proof.Open", core.KindPersistence, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, core.NewFrameworkError("proof.Open", core.KindPersistence, err)
	}
	return &Log{file: f, path: path, logger: logger, clock: time.Now}, nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Write appends one proof event. Failures are logged and counted against
// proof_write_failures_total; they are never returned to the caller, since
// every call site in this system treats the proof log as fire-and-forget.
func (l *Log) Write(event Event, data map[string]interface{}) {
	line := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		line[k] = v
	}
	line["event_name"] = string(event)
	line["timestamp"] = l.clock().UTC().Format(time.RFC3339Nano)

	encoded, err := json.Marshal(line)
	if err != nil {
		l.fail(event, err)
		return
	}
	encoded = append(encoded, '\n')

	l.mu.Lock()
	_, err = l.file.Write(encoded)
	l.mu.Unlock()
	if err != nil {
		l.fail(event, err)
		return
	}
	telemetry.Counter("proof_writes_total", "event", string(event))
}

func (l *Log) fail(event Event, err error) {
	telemetry.Counter("proof_write_failures_total", "event", string(event))
	l.logger.Error("proof log write failed", map[string]interface{}{
		"event_name": string(event),
		"path":       l.path,
		"error":      err.Error(),
	})
}
