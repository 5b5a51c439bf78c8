// Package perception implements the agent's environmental awareness: a set
// of adapters that each surface a slice of Perception, and a layer that
// aggregates, sorts, and remembers them.
package perception

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a perception's origin category.
type Type string

const (
	TypeRuntimeEvent    Type = "runtime_event"
	TypeHealthSignal    Type = "health_signal"
	TypeOnboardingInput Type = "onboarding_input"
	TypeSystemAlert     Type = "system_alert"
)

// Priority levels, matching the reference implementation's scale.
const (
	PriorityCritical = 10
	PriorityHigh     = 7
	PriorityMedium   = 5
	PriorityLow      = 3
	PriorityInfo     = 1
)

// Perception is a single observation surfaced by an adapter.
type Perception struct {
	ID        string
	Type      Type
	Source    string
	Timestamp time.Time
	Data      map[string]interface{}
	Priority  int
}

func newPerception(t Type, source string, data map[string]interface{}, priority int) Perception {
	return Perception{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Priority:  priority,
	}
}

// Adapter surfaces perceptions from one source. Unlike the reference
// implementation's perceive(), which swallows its own errors, Adapter
// surfaces them so the Layer can log with full context; adapters must
// still never panic.
type Adapter interface {
	Perceive(ctx context.Context) ([]Perception, error)
}

// Layer aggregates every registered adapter's output, sorts it by
// priority (stable, ties keep registration order), and keeps a bounded
// history.
type Layer struct {
	AgentID string

	mu         sync.Mutex
	adapters   []Adapter
	history    []Perception
	maxHistory int

	onAdapterError func(adapterIndex int, err error)
}

// NewLayer constructs a Layer for one agent with the default history
// bound of 100.
func NewLayer(agentID string) *Layer {
	return &Layer{AgentID: agentID, maxHistory: 100}
}

// OnAdapterError installs a callback invoked whenever an adapter's
// Perceive returns an error; the layer treats that adapter's contribution
// as empty for the cycle regardless.
func (l *Layer) OnAdapterError(fn func(adapterIndex int, err error)) {
	l.onAdapterError = fn
}

// RegisterAdapter adds an adapter to the layer's rotation.
func (l *Layer) RegisterAdapter(a Adapter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.adapters = append(l.adapters, a)
}

// Perceive calls every registered adapter, concatenates results, sorts
// descending by priority (stable, so ties keep adapter-registration
// order), appends to history, and returns the sorted list.
func (l *Layer) Perceive(ctx context.Context) []Perception {
	l.mu.Lock()
	adapters := make([]Adapter, len(l.adapters))
	copy(adapters, l.adapters)
	l.mu.Unlock()

	var all []Perception
	for i, adapter := range adapters {
		perceptions, err := adapter.Perceive(ctx)
		if err != nil {
			if l.onAdapterError != nil {
				l.onAdapterError(i, err)
			}
			continue
		}
		all = append(all, perceptions...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Priority > all[j].Priority
	})

	l.mu.Lock()
	l.history = append(l.history, all...)
	if len(l.history) > l.maxHistory {
		l.history = l.history[len(l.history)-l.maxHistory:]
	}
	l.mu.Unlock()

	return all
}

// FilterByType returns the subset of perceptions matching t.
func FilterByType(perceptions []Perception, t Type) []Perception {
	out := make([]Perception, 0, len(perceptions))
	for _, p := range perceptions {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// FilterByMinPriority returns perceptions with priority >= minPriority.
func FilterByMinPriority(perceptions []Perception, minPriority int) []Perception {
	out := make([]Perception, 0, len(perceptions))
	for _, p := range perceptions {
		if p.Priority >= minPriority {
			out = append(out, p)
		}
	}
	return out
}

// HighestPriority returns the perception with the highest priority, and
// false if perceptions is empty.
func HighestPriority(perceptions []Perception) (Perception, bool) {
	if len(perceptions) == 0 {
		return Perception{}, false
	}
	best := perceptions[0]
	for _, p := range perceptions[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, true
}

// RecentHistory returns the n most recent perceptions, most recent last.
// n <= 0 returns the full (bounded) history.
func (l *Layer) RecentHistory(n int) []Perception {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n >= len(l.history) {
		out := make([]Perception, len(l.history))
		copy(out, l.history)
		return out
	}
	out := make([]Perception, n)
	copy(out, l.history[len(l.history)-n:])
	return out
}

// ClearHistory empties the bounded history.
func (l *Layer) ClearHistory() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = nil
}
