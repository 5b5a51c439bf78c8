package memory

import "time"

// Snapshot is the JSON-serializable form of a Memory, used for persistence
// (A4) across restarts.
type Snapshot struct {
	AgentID         string                        `json:"agent_id"`
	CreatedAt       time.Time                     `json:"created_at"`
	Timestamp       time.Time                     `json:"timestamp"`
	MaxDecisions    int                           `json:"max_decisions"`
	MaxStatesPerApp int                           `json:"max_states_per_app"`
	Decisions       []DecisionRecord              `json:"recent_decisions"`
	AppStates       map[string][]AppStateSnapshot `json:"app_states"`
	TotalDecisions  int                           `json:"total_decisions_seen"`
	TotalStates     int                           `json:"total_states_seen"`
}

// ToSnapshot exports the full memory state, both FIFOs and their
// capacities, for persistence. FromSnapshot enforces the capacities its
// caller supplies at load time, not the stored ones.
func (m *Memory) ToSnapshot() Snapshot {
	appStates := make(map[string][]AppStateSnapshot, len(m.appStates))
	for appID, states := range m.appStates {
		copied := make([]AppStateSnapshot, len(states))
		copy(copied, states)
		appStates[appID] = copied
	}
	decisions := make([]DecisionRecord, len(m.decisions))
	copy(decisions, m.decisions)

	return Snapshot{
		AgentID:         m.AgentID,
		CreatedAt:       m.createdAt,
		Timestamp:       m.now().UTC(),
		MaxDecisions:    m.maxDecisions,
		MaxStatesPerApp: m.maxStatesPerApp,
		Decisions:       decisions,
		AppStates:       appStates,
		TotalDecisions:  m.totalDecisions,
		TotalStates:     m.totalStates,
	}
}

// FromSnapshot constructs a Memory from a previously exported Snapshot,
// re-applying the given capacities (which may differ from whatever was in
// effect when the snapshot was taken) so bounds are enforced on load.
func FromSnapshot(snap Snapshot, maxDecisions, maxStatesPerApp int) *Memory {
	m := New(snap.AgentID, maxDecisions, maxStatesPerApp)
	m.createdAt = snap.CreatedAt

	for _, d := range snap.Decisions {
		m.decisions = appendBounded(m.decisions, d, m.maxDecisions)
	}
	for appID, states := range snap.AppStates {
		for _, s := range states {
			m.appStates[appID] = appendBounded(m.appStates[appID], s, m.maxStatesPerApp)
		}
	}
	m.totalDecisions = snap.TotalDecisions
	m.totalStates = snap.TotalStates
	return m
}
