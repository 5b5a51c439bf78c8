// Package memory implements the agent's bounded short-term memory: a FIFO
// of recent decisions and a per-app FIFO of state snapshots, plus the
// derived signals (instability, repetition, recent failures) that feed the
// self-restraint and governance layers.
package memory

import (
	"encoding/json"
	"time"
)

// DecisionRecord captures one decision made by the agent.
type DecisionRecord struct {
	Timestamp    time.Time              `json:"timestamp"`
	DecisionType string                 `json:"decision_type"`
	DecisionData map[string]interface{} `json:"decision_data"`
	Outcome      string                 `json:"outcome,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// AppStateSnapshot captures an application's state at a point in time.
type AppStateSnapshot struct {
	Timestamp    time.Time              `json:"timestamp"`
	AppID        string                 `json:"app_id"`
	Status       string                 `json:"status"`
	Health       map[string]interface{} `json:"health"`
	RecentEvents []string               `json:"recent_events"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
}

// Signals are the derived values memory exposes to decision-making:
// instability, repetition, and recent failure/success counts.
type Signals struct {
	RecentFailures       int                    `json:"recent_failures"`
	RecentSuccesses      int                    `json:"recent_successes"`
	RecentActions        []string               `json:"recent_actions"`
	RepeatedActions      int                    `json:"repeated_actions"`
	InstabilityScore     int                    `json:"instability_score"`
	LastActionOutcome    string                 `json:"last_action_outcome,omitempty"`
	TotalRecentDecisions int                    `json:"total_recent_decisions"`
	EntityID             string                 `json:"entity_id,omitempty"`
	AppContext           map[string]interface{} `json:"app_context,omitempty"`
}

// Override describes should_override_decision's recommendation.
type Override struct {
	Applied  bool
	Decision string
	Reason   string
	Signals  Signals
}

var failureOutcomes = map[string]bool{"failure": true, "failed": true, "error": true}
var successOutcomes = map[string]bool{"success": true, "executed": true}

// Memory is a bounded, FIFO-backed short-term memory for one agent.
// Not safe for concurrent use without an external lock; the runtime (C12)
// serializes all cycle access through its own mutex.
type Memory struct {
	AgentID          string
	maxDecisions     int
	maxStatesPerApp  int
	createdAt        time.Time
	decisions        []DecisionRecord
	appStates        map[string][]AppStateSnapshot
	totalDecisions   int
	totalStates      int
	now              func() time.Time
}

// New constructs a Memory with the given bounded capacities.
func New(agentID string, maxDecisions, maxStatesPerApp int) *Memory {
	if maxDecisions <= 0 {
		maxDecisions = 50
	}
	if maxStatesPerApp <= 0 {
		maxStatesPerApp = 10
	}
	return &Memory{
		AgentID:         agentID,
		maxDecisions:    maxDecisions,
		maxStatesPerApp: maxStatesPerApp,
		createdAt:       time.Now().UTC(),
		appStates:       make(map[string][]AppStateSnapshot),
		now:             time.Now,
	}
}

// RememberDecision appends a decision record, evicting the oldest if the
// FIFO is at capacity.
func (m *Memory) RememberDecision(decisionType string, data map[string]interface{}, outcome string, context map[string]interface{}) DecisionRecord {
	record := DecisionRecord{
		Timestamp:    m.now().UTC(),
		DecisionType: decisionType,
		DecisionData: data,
		Outcome:      outcome,
		Context:      context,
	}
	m.decisions = appendBounded(m.decisions, record, m.maxDecisions)
	m.totalDecisions++
	return record
}

// RememberAppState appends a per-app snapshot, creating the app's FIFO on
// first use.
func (m *Memory) RememberAppState(appID, status string, health map[string]interface{}, recentEvents []string, metrics map[string]interface{}) AppStateSnapshot {
	snapshot := AppStateSnapshot{
		Timestamp:    m.now().UTC(),
		AppID:        appID,
		Status:       status,
		Health:       health,
		RecentEvents: recentEvents,
		Metrics:      metrics,
	}
	m.appStates[appID] = appendBounded(m.appStates[appID], snapshot, m.maxStatesPerApp)
	m.totalStates++
	return snapshot
}

func appendBounded[T any](fifo []T, item T, capacity int) []T {
	fifo = append(fifo, item)
	if len(fifo) > capacity {
		fifo = fifo[len(fifo)-capacity:]
	}
	return fifo
}

// RecallRecentDecisions returns the last n decisions in arrival order.
// n <= 0 returns all.
func (m *Memory) RecallRecentDecisions(n int) []DecisionRecord {
	return lastN(m.decisions, n)
}

// RecallAppHistory returns the last n snapshots for appID in arrival order.
func (m *Memory) RecallAppHistory(appID string, n int) []AppStateSnapshot {
	return lastN(m.appStates[appID], n)
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		out := make([]T, len(items))
		copy(out, items)
		return out
	}
	out := make([]T, n)
	copy(out, items[len(items)-n:])
	return out
}

// LastDecision returns the most recent decision, if any.
func (m *Memory) LastDecision() (DecisionRecord, bool) {
	if len(m.decisions) == 0 {
		return DecisionRecord{}, false
	}
	return m.decisions[len(m.decisions)-1], true
}

// AppCurrentState returns the most recent snapshot for appID, if any.
func (m *Memory) AppCurrentState(appID string) (AppStateSnapshot, bool) {
	states := m.appStates[appID]
	if len(states) == 0 {
		return AppStateSnapshot{}, false
	}
	return states[len(states)-1], true
}

// DecisionsEvicted is the monotonic count of decisions dropped from the
// FIFO: total seen minus what's currently held.
func (m *Memory) DecisionsEvicted() int {
	return m.totalDecisions - len(m.decisions)
}

// TotalDecisionsSeen is monotonic across the Memory's lifetime.
func (m *Memory) TotalDecisionsSeen() int {
	return m.totalDecisions
}

func actionOf(d DecisionRecord) string {
	if v, ok := d.DecisionData["rl_action"]; ok {
		return toString(v)
	}
	if v, ok := d.DecisionData["action"]; ok {
		return toString(v)
	}
	return "unknown"
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// GetMemoryContext computes Signals from the tail of the decision FIFO,
// optionally scoped to entityID (matched against the app_id key of each
// record's context), looking back at most `lookback` decisions.
func (m *Memory) GetMemoryContext(entityID string, lookback int) Signals {
	if lookback <= 0 {
		lookback = 10
	}
	decisions := m.RecallRecentDecisions(lookback)

	if entityID != "" {
		filtered := make([]DecisionRecord, 0, len(decisions))
		for _, d := range decisions {
			if d.Context != nil && toString(d.Context["app_id"]) == entityID {
				filtered = append(filtered, d)
			}
		}
		decisions = filtered
	}

	recentFailures := 0
	recentSuccesses := 0
	recentActions := make([]string, 0, len(decisions))
	for _, d := range decisions {
		if failureOutcomes[d.Outcome] {
			recentFailures++
		}
		if successOutcomes[d.Outcome] {
			recentSuccesses++
		}
		recentActions = append(recentActions, actionOf(d))
	}

	repeatedActions := 0
	if len(recentActions) >= 2 {
		consecutive := 1
		for i := 1; i < len(recentActions); i++ {
			if recentActions[i] == recentActions[i-1] {
				consecutive++
			} else {
				consecutive = 1
			}
			if consecutive > repeatedActions {
				repeatedActions = consecutive
			}
		}
	}

	total := len(decisions)
	instability := 0
	if total > 0 {
		instability = int(float64(recentFailures) / float64(total) * 100)
	}

	var lastOutcome string
	if total > 0 {
		lastOutcome = decisions[total-1].Outcome
	}

	var appContext map[string]interface{}
	if entityID != "" {
		if state, ok := m.AppCurrentState(entityID); ok {
			appContext = map[string]interface{}{
				"current_status": state.Status,
				"health":         state.Health,
				"recent_events":  state.RecentEvents,
			}
		}
	}

	return Signals{
		RecentFailures:       recentFailures,
		RecentSuccesses:      recentSuccesses,
		RecentActions:        recentActions,
		RepeatedActions:      repeatedActions,
		InstabilityScore:     instability,
		LastActionOutcome:    lastOutcome,
		TotalRecentDecisions: total,
		EntityID:             entityID,
		AppContext:           appContext,
	}
}

// ShouldOverrideDecision applies the memory override rules, in priority
// order: recent failures, then repetition suppression, then instability.
func (m *Memory) ShouldOverrideDecision(entityID string, failureThreshold, repetitionThreshold int) Override {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if repetitionThreshold <= 0 {
		repetitionThreshold = 3
	}
	signals := m.GetMemoryContext(entityID, 0)

	switch {
	case signals.RecentFailures >= failureThreshold:
		return Override{Applied: true, Decision: "noop", Reason: "recent failures", Signals: signals}
	case signals.RepeatedActions >= repetitionThreshold:
		return Override{Applied: true, Decision: "observe", Reason: "repetition suppression", Signals: signals}
	case signals.InstabilityScore > 66:
		return Override{Applied: true, Decision: "noop", Reason: "instability", Signals: signals}
	default:
		return Override{Signals: signals}
	}
}
