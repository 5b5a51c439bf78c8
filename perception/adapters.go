package perception

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/autonomic-run/agentruntime/core"
)

// EventSource is satisfied by anything that can produce recent runtime
// events: an in-memory ring buffer, or a Redis-backed one (A4).
type EventSource interface {
	RecentEvents(ctx context.Context, limit int) ([]map[string]interface{}, error)
}

// RuntimeEventAdapter surfaces recent events from an EventSource, mapping
// keywords in the event type to a priority.
type RuntimeEventAdapter struct {
	Source EventSource
	Limit  int
}

// NewRuntimeEventAdapter constructs an adapter pulling up to 5 recent
// events per cycle by default.
func NewRuntimeEventAdapter(source EventSource) *RuntimeEventAdapter {
	return &RuntimeEventAdapter{Source: source, Limit: 5}
}

func (a *RuntimeEventAdapter) Perceive(ctx context.Context) ([]Perception, error) {
	limit := a.Limit
	if limit <= 0 {
		limit = 5
	}
	events, err := a.Source.RecentEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	perceptions := make([]Perception, 0, len(events))
	for _, event := range events {
		perceptions = append(perceptions, newPerception(
			TypeRuntimeEvent, "redis_event_bus", event, runtimeEventPriority(event)))
	}
	return perceptions, nil
}

func runtimeEventPriority(event map[string]interface{}) int {
	eventType := strings.ToLower(stringField(event, "type"))
	switch {
	case containsAny(eventType, "failure", "error", "crash", "down"):
		return PriorityCritical
	case containsAny(eventType, "deploy", "rollback", "alert"):
		return PriorityHigh
	case containsAny(eventType, "scale", "update", "config"):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// HealthSignals is the metric bundle a HealthSource reports.
type HealthSignals struct {
	Status       string
	CPUPercent   float64
	MemoryPercent float64
	ErrorRate    float64
}

// HealthSource is satisfied by anything that can report current health;
// supplants the reference implementation's hardcoded stub with a real
// seam that production monitors can implement.
type HealthSource interface {
	CurrentHealth(ctx context.Context) (HealthSignals, error)
}

// HealthSignalAdapter surfaces health signals from a HealthSource.
type HealthSignalAdapter struct {
	Source HealthSource
}

func NewHealthSignalAdapter(source HealthSource) *HealthSignalAdapter {
	return &HealthSignalAdapter{Source: source}
}

func (a *HealthSignalAdapter) Perceive(ctx context.Context) ([]Perception, error) {
	if a.Source == nil {
		return nil, nil
	}
	signals, err := a.Source.CurrentHealth(ctx)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"status":      signals.Status,
		"cpu":         signals.CPUPercent,
		"memory":      signals.MemoryPercent,
		"error_rate":  signals.ErrorRate,
	}
	priority := healthPriority(signals)
	return []Perception{newPerception(TypeHealthSignal, "health_monitor", data, priority)}, nil
}

func healthPriority(s HealthSignals) int {
	status := strings.ToLower(s.Status)
	switch {
	case status == "critical" || status == "down" || status == "failing":
		return PriorityCritical
	case s.ErrorRate > 0.05:
		return PriorityHigh
	case s.CPUPercent > 90 || s.MemoryPercent > 90:
		return PriorityHigh
	case status == "degraded" || status == "warning":
		return PriorityMedium
	default:
		return PriorityInfo
	}
}

// OnboardingInputAdapter treats a newline-delimited JSON file as an
// append-only queue of app-registration requests, watched with fsnotify:
// debounced Write/Create events trigger a re-read rather than polling.
// Each line is processed at most once per process lifetime.
type OnboardingInputAdapter struct {
	path   string
	logger core.Logger

	mu            sync.Mutex
	processedLines int
	pending       []Perception

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewOnboardingInputAdapter ensures the watch file exists and returns an
// adapter ready to have Start called on it.
func NewOnboardingInputAdapter(path string, logger core.Logger) (*OnboardingInputAdapter, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	f.Close()

	return &OnboardingInputAdapter{path: path, logger: logger}, nil
}

// Start begins watching the file in a background goroutine, debouncing
// rapid writes the way a file-backed rule watcher elsewhere in this
// ecosystem does. Non-blocking.
func (a *OnboardingInputAdapter) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(a.path)); err != nil {
		watcher.Close()
		return err
	}
	a.watcher = watcher
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.run(ctx)
	return nil
}

// Stop halts the background watcher.
func (a *OnboardingInputAdapter) Stop() {
	if a.watcher == nil {
		return
	}
	close(a.stopCh)
	<-a.doneCh
	a.watcher.Close()
}

func (a *OnboardingInputAdapter) run(ctx context.Context) {
	defer close(a.doneCh)

	debounce := time.NewTicker(200 * time.Millisecond)
	defer debounce.Stop()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(a.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				dirty = true
			}
		case <-a.watcher.Errors:
			// Watcher errors are discarded; they do not reach Perceive's caller.
		case <-debounce.C:
			if dirty {
				dirty = false
				a.readNewLines()
			}
		}
	}
}

func (a *OnboardingInputAdapter) readNewLines() {
	f, err := os.Open(a.path)
	if err != nil {
		a.logger.Error("onboarding watcher failed to open file", map[string]interface{}{"error": err.Error()})
		return
	}
	defer f.Close()

	var fresh []Perception
	scanner := bufio.NewScanner(f)
	lineNum := 0
	a.mu.Lock()
	alreadyProcessed := a.processedLines
	a.mu.Unlock()

	for scanner.Scan() {
		line := lineNum
		lineNum++
		if line < alreadyProcessed {
			continue
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			a.logger.Warn("invalid JSON in onboarding file, skipping", map[string]interface{}{"line": line})
			continue
		}
		if _, ok := data["app_id"]; !ok {
			a.logger.Warn("onboarding request missing app_id, skipping", map[string]interface{}{"line": line})
			continue
		}
		fresh = append(fresh, newPerception(TypeOnboardingInput, "file_watcher", data, PriorityHigh))
	}

	a.mu.Lock()
	a.processedLines = lineNum
	a.pending = append(a.pending, fresh...)
	a.mu.Unlock()
}

// Perceive drains the onboarding perceptions readNewLines has queued since
// the last call; it never reads the file itself. Safe to call even if Start
// was never invoked.
func (a *OnboardingInputAdapter) Perceive(ctx context.Context) ([]Perception, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out, nil
}

// AddOnboardingRequest appends a request to the watch file, for
// programmatic callers and tests.
func (a *OnboardingInputAdapter) AddOnboardingRequest(data map[string]interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(string(encoded) + "\n")
	return err
}

// SystemAlertAdapter is an in-process queue populated by the runtime;
// drains on each Perceive.
type SystemAlertAdapter struct {
	mu     sync.Mutex
	alerts []alert
}

type alert struct {
	alertType string
	message   string
	severity  string
	timestamp time.Time
}

func NewSystemAlertAdapter() *SystemAlertAdapter {
	return &SystemAlertAdapter{}
}

// AddAlert queues an alert for the next Perceive call.
func (a *SystemAlertAdapter) AddAlert(alertType, message, severity string) {
	if severity == "" {
		severity = "medium"
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert{alertType: alertType, message: message, severity: severity, timestamp: time.Now().UTC()})
}

func (a *SystemAlertAdapter) Perceive(ctx context.Context) ([]Perception, error) {
	a.mu.Lock()
	pending := a.alerts
	a.alerts = nil
	a.mu.Unlock()

	perceptions := make([]Perception, 0, len(pending))
	for _, al := range pending {
		data := map[string]interface{}{
			"type":      al.alertType,
			"message":   al.message,
			"severity":  al.severity,
			"timestamp": al.timestamp,
		}
		perceptions = append(perceptions, newPerception(TypeSystemAlert, "system", data, alertPriority(al.severity)))
	}
	return perceptions, nil
}

func alertPriority(severity string) int {
	switch severity {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}
