// Package fsm manages the agent's state machine through the
// sense-validate-decide-enforce-act-observe-explain loop, recording every
// transition for audit and replay.
package fsm

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/autonomic-run/agentruntime/core"
)

// State is one stop in the agent's control loop.
type State string

const (
	Idle              State = "idle"
	Observing         State = "observing"
	Validating        State = "validating"
	Deciding          State = "deciding"
	Enforcing         State = "enforcing"
	Acting            State = "acting"
	ObservingResults  State = "observing_results"
	Explaining        State = "explaining"
	Blocked           State = "blocked"
	ShuttingDown      State = "shutting_down"
)

// validTransitions is the legal transition table. ShuttingDown is
// terminal: it has no outgoing edges.
var validTransitions = map[State]map[State]bool{
	Idle:             {Observing: true, ShuttingDown: true},
	Observing:        {Validating: true, Idle: true, Blocked: true},
	Validating:       {Deciding: true, Idle: true, Blocked: true},
	Deciding:         {Enforcing: true, Blocked: true},
	Enforcing:        {Acting: true, Idle: true, Blocked: true},
	Acting:           {ObservingResults: true, Blocked: true},
	ObservingResults: {Explaining: true, Blocked: true},
	Explaining:       {Idle: true, Blocked: true},
	Blocked:          {Idle: true, ShuttingDown: true},
	ShuttingDown:     {},
}

// Entry records one transition (or, for the first entry, the initial
// state) in the manager's history.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	AgentID    string    `json:"agent_id"`
	State      State     `json:"state"`
	Reason     string    `json:"reason"`
	FromState  State     `json:"from_state,omitempty"`
	Transition string    `json:"transition,omitempty"`
}

// StateInfo summarizes the manager's current position for introspection.
type StateInfo struct {
	AgentID         string    `json:"agent_id"`
	CurrentState    State     `json:"current_state"`
	EnteredAt       time.Time `json:"entered_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Reason          string    `json:"reason"`
}

// Manager tracks the agent's current state, enforces the legal transition
// table, and records every transition. An illegal transition is a bug in
// the calling code, not a recoverable condition: Transition returns a
// typed error the caller is expected to treat as fatal for the cycle.
type Manager struct {
	AgentID string

	current State
	history []Entry
	logger  core.Logger
	clock   func() time.Time
}

// New constructs a Manager starting in Idle, recording the initial entry.
func New(agentID string, logger core.Logger) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	m := &Manager{AgentID: agentID, current: Idle, logger: logger, clock: time.Now}
	m.record(Idle, "initialization", "")
	return m
}

// Current returns the manager's current state.
func (m *Manager) Current() State {
	return m.current
}

// CanTransitionTo reports whether a transition to newState is legal from
// the current state.
func (m *Manager) CanTransitionTo(newState State) bool {
	return validTransitions[m.current][newState]
}

// Transition moves the manager to newState, recording the transition. It
// returns a *core.FrameworkError of KindIllegalTransition if the edge is
// not in the legal table.
func (m *Manager) Transition(newState State, reason string) error {
	if !m.CanTransitionTo(newState) {
		err := fmt.Errorf("invalid state transition: %s -> %s", m.current, newState)
		m.logger.Error("illegal fsm transition attempted", map[string]interface{}{
			"agent_id": m.AgentID, "from": string(m.current), "to": string(newState), "reason": reason,
		})
		return core.NewFrameworkErrorWithID("fsm.Transition", core.KindIllegalTransition, m.AgentID, err)
	}
	from := m.current
	m.current = newState
	m.record(newState, reason, from)
	return nil
}

func (m *Manager) record(state State, reason string, from State) {
	entry := Entry{
		Timestamp: m.clock().UTC(),
		AgentID:   m.AgentID,
		State:     state,
		Reason:    reason,
	}
	if from != "" {
		entry.FromState = from
		entry.Transition = fmt.Sprintf("%s -> %s", from, state)
	}
	m.history = append(m.history, entry)
}

// History returns the last limit entries, most recent last. limit <= 0
// returns the full history.
func (m *Manager) History(limit int) []Entry {
	if limit <= 0 || limit >= len(m.history) {
		out := make([]Entry, len(m.history))
		copy(out, m.history)
		return out
	}
	out := make([]Entry, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}

// CurrentStateInfo describes the manager's position for introspection.
func (m *Manager) CurrentStateInfo() StateInfo {
	if len(m.history) == 0 {
		return StateInfo{AgentID: m.AgentID, CurrentState: m.current}
	}
	last := m.history[len(m.history)-1]
	return StateInfo{
		AgentID:         m.AgentID,
		CurrentState:    m.current,
		EnteredAt:       last.Timestamp,
		DurationSeconds: m.clock().UTC().Sub(last.Timestamp).Seconds(),
		Reason:          last.Reason,
	}
}

// snapshot is the JSON shape SaveToFile/LoadFromFile persist.
type snapshot struct {
	AgentID      string  `json:"agent_id"`
	CurrentState State   `json:"current_state"`
	History      []Entry `json:"history"`
}

// SaveToFile persists the manager's full state and history.
func (m *Manager) SaveToFile(path string) error {
	data := snapshot{AgentID: m.AgentID, CurrentState: m.current, History: m.history}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return core.NewFrameworkError("fsm.SaveToFile", core.KindPersistence, err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return core.NewFrameworkError("fsm.SaveToFile", core.KindPersistence, err)
	}
	return nil
}

// LoadFromFile restores a manager from a snapshot, rejecting the load if
// the persisted agent_id doesn't match the caller's expectation.
func LoadFromFile(path, agentID string, logger core.Logger) (*Manager, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewFrameworkError("fsm.LoadFromFile", core.KindPersistence, err)
	}
	var data snapshot
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, core.NewFrameworkError("fsm.LoadFromFile", core.KindPersistence, err)
	}
	if data.AgentID != agentID {
		err := fmt.Errorf("agent id mismatch: expected %s, got %s", agentID, data.AgentID)
		return nil, core.NewFrameworkErrorWithID("fsm.LoadFromFile", core.KindValidation, agentID, err)
	}
	return &Manager{
		AgentID: agentID,
		current: data.CurrentState,
		history: data.History,
		logger:  logger,
		clock:   time.Now,
	}, nil
}
