// Package governance evaluates a candidate action against environment
// policy: eligibility, prerequisites, cooldowns, and repetition, so the
// orchestrator never has to execute an action the agent shouldn't have
// attempted in the first place.
package governance

import (
	"time"
)

// Reason names why a GovernanceDecision blocked.
type Reason string

const (
	ReasonCooldownActive           Reason = "cooldown_active"
	ReasonRepetitionLimitExceeded  Reason = "repetition_limit_exceeded"
	ReasonActionNotEligible        Reason = "action_not_eligible"
	ReasonPrerequisiteNotMet       Reason = "prerequisite_not_met"
)

// Decision is the outcome of EvaluateAction.
type Decision struct {
	ShouldBlock bool
	Reason      Reason
	Details     map[string]interface{}
}

func allow() Decision { return Decision{ShouldBlock: false} }

// actionRecord is one recorded, passed action; the bounded history behind
// the repetition check.
type actionRecord struct {
	action    string
	timestamp time.Time
	context   map[string]interface{}
}

// defaultCooldowns mirrors the reference implementation's per-action
// defaults, in seconds.
func defaultCooldowns() map[string]float64 {
	return map[string]float64{
		"restart":    60,
		"scale_up":   120,
		"scale_down": 120,
		"rollback":   300,
		"noop":       0,
	}
}

// defaultEligibility maps environment name to its allowed action set.
func defaultEligibility() map[string][]string {
	return map[string][]string{
		"prod":  {"noop"},
		"stage": {"restart", "noop", "scale_up", "scale_down"},
		"dev":   {"restart", "scale_up", "noop", "scale_down", "rollback"},
	}
}

// Config controls one ActionGovernance instance.
type Config struct {
	Env               string
	CooldownPeriods   map[string]float64
	RepetitionLimit   int
	RepetitionWindow  time.Duration
	EligibilityRules  map[string][]string // overrides defaultEligibility when non-nil
}

// ActionGovernance is environment-scoped and per-agent; there is no
// cross-agent state. Not safe for concurrent use without an external lock.
type ActionGovernance struct {
	env              string
	cooldowns        map[string]float64
	repetitionLimit  int
	repetitionWindow time.Duration
	eligibility      map[string][]string

	lastExecution map[string]time.Time
	history       []actionRecord

	now func() time.Time
}

const historyCapacity = 100

// New constructs an ActionGovernance for one environment.
func New(cfg Config) *ActionGovernance {
	cooldowns := cfg.CooldownPeriods
	if cooldowns == nil {
		cooldowns = defaultCooldowns()
	}
	limit := cfg.RepetitionLimit
	if limit <= 0 {
		limit = 3
	}
	window := cfg.RepetitionWindow
	if window <= 0 {
		window = 300 * time.Second
	}
	eligibility := cfg.EligibilityRules
	if eligibility == nil {
		eligibility = defaultEligibility()
	}
	return &ActionGovernance{
		env:              cfg.Env,
		cooldowns:        cooldowns,
		repetitionLimit:  limit,
		repetitionWindow: window,
		eligibility:      eligibility,
		lastExecution:    make(map[string]time.Time),
		now:              time.Now,
	}
}

// EvaluateAction checks eligibility, prerequisites, cooldown, and
// repetition in order, recording the action on full pass.
func (g *ActionGovernance) EvaluateAction(action string, context map[string]interface{}, source string) Decision {
	now := g.now()

	if decision := g.checkEligibility(action, context); decision.ShouldBlock {
		return decision
	}
	if decision := g.checkCooldown(action, now); decision.ShouldBlock {
		return decision
	}
	if decision := g.checkRepetition(action, now); decision.ShouldBlock {
		return decision
	}

	g.recordAction(action, now, context)
	return allow()
}

func (g *ActionGovernance) allowedActions() []string {
	if allowed, ok := g.eligibility[g.env]; ok {
		return allowed
	}
	return []string{"noop"}
}

func (g *ActionGovernance) checkEligibility(action string, context map[string]interface{}) Decision {
	allowed := g.allowedActions()
	eligible := false
	for _, a := range allowed {
		if a == action {
			eligible = true
			break
		}
	}
	if !eligible {
		return Decision{
			ShouldBlock: true,
			Reason:      ReasonActionNotEligible,
			Details: map[string]interface{}{
				"action":          action,
				"env":             g.env,
				"allowed_actions": allowed,
				"message":         "action " + action + " not eligible in " + g.env + " environment",
			},
		}
	}
	return g.checkPrerequisites(action, context)
}

func (g *ActionGovernance) checkPrerequisites(action string, context map[string]interface{}) Decision {
	switch action {
	case "restart", "scale_up", "scale_down":
		appName, _ := context["app_name"].(string)
		if appName == "" {
			return Decision{
				ShouldBlock: true,
				Reason:      ReasonPrerequisiteNotMet,
				Details: map[string]interface{}{
					"action":                action,
					"missing_prerequisite": "app_name",
					"message":               "action " + action + " requires app_name in context",
				},
			}
		}
	case "rollback":
		hasPrevious := true
		if v, ok := context["has_previous_version"]; ok {
			if b, ok := v.(bool); ok {
				hasPrevious = b
			}
		}
		if !hasPrevious {
			return Decision{
				ShouldBlock: true,
				Reason:      ReasonPrerequisiteNotMet,
				Details: map[string]interface{}{
					"action":                action,
					"missing_prerequisite": "previous_version",
					"message":               "cannot rollback without previous version",
				},
			}
		}
	}
	return allow()
}

func (g *ActionGovernance) checkCooldown(action string, now time.Time) Decision {
	cooldown := g.cooldowns[action]
	if cooldown <= 0 {
		return allow()
	}
	last, ok := g.lastExecution[action]
	if !ok {
		return allow()
	}
	sinceLast := now.Sub(last).Seconds()
	if sinceLast < cooldown {
		remaining := cooldown - sinceLast
		return Decision{
			ShouldBlock: true,
			Reason:      ReasonCooldownActive,
			Details: map[string]interface{}{
				"action":          action,
				"last_execution":  last,
				"cooldown_period": cooldown,
				"time_since_last": sinceLast,
				"time_remaining":  remaining,
				"message":         "action on cooldown",
			},
		}
	}
	return allow()
}

func (g *ActionGovernance) checkRepetition(action string, now time.Time) Decision {
	cutoff := now.Add(-g.repetitionWindow)
	count := 0
	for _, rec := range g.history {
		if rec.action == action && rec.timestamp.After(cutoff) {
			count++
		}
	}
	if count >= g.repetitionLimit {
		return Decision{
			ShouldBlock: true,
			Reason:      ReasonRepetitionLimitExceeded,
			Details: map[string]interface{}{
				"action":  action,
				"window":  g.repetitionWindow.Seconds(),
				"limit":   g.repetitionLimit,
				"actual":  count,
				"message": "action repeated too often in window",
			},
		}
	}
	return allow()
}

func (g *ActionGovernance) recordAction(action string, now time.Time, context map[string]interface{}) {
	g.lastExecution[action] = now
	g.history = append(g.history, actionRecord{action: action, timestamp: now, context: context})
	if len(g.history) > historyCapacity {
		g.history = g.history[len(g.history)-historyCapacity:]
	}
}

// ActionHistory returns recent recorded actions, most recent first,
// optionally filtered by action name.
func (g *ActionGovernance) ActionHistory(action string, limit int) []map[string]interface{} {
	if limit <= 0 {
		limit = 10
	}
	out := make([]map[string]interface{}, 0, limit)
	for i := len(g.history) - 1; i >= 0 && len(out) < limit; i-- {
		rec := g.history[i]
		if action != "" && rec.action != action {
			continue
		}
		out = append(out, map[string]interface{}{
			"action":    rec.action,
			"timestamp": rec.timestamp,
			"context":   rec.context,
		})
	}
	return out
}

// Reset clears cooldown and history state; useful for tests.
func (g *ActionGovernance) Reset() {
	g.lastExecution = make(map[string]time.Time)
	g.history = nil
}
