// Package arbitrate mediates between the remote advisor's decision and the
// rule-based fallback decision, picking a single action to carry forward
// into governance and execution.
package arbitrate

import "fmt"

// Decision is the minimal shape either input source contributes.
type Decision struct {
	Action     string
	Confidence float64
	Reason     string
}

// Result is the arbitrated output, carrying both inputs for audit.
type Result struct {
	Action      string
	Source      string // "rl_brain" or "rule_based"
	Reason      string
	Confidence  float64
	Details     Details
}

// Details records both original decisions plus the comparison that
// produced Result, for the proof log and explainer.
type Details struct {
	RLInput   Decision
	RuleInput Decision
	Original  OriginalDecisions
}

// OriginalDecisions is the untouched pair arbitration chose between.
type OriginalDecisions struct {
	RL   Decision
	Rule Decision
}

// Arbitrator holds the confidence threshold above which the advisor's
// decision is trusted over the rule-based fallback.
type Arbitrator struct {
	ConfidenceThreshold float64
}

// New constructs an Arbitrator; threshold <= 0 defaults to 0.7.
func New(threshold float64) *Arbitrator {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Arbitrator{ConfidenceThreshold: threshold}
}

// Arbitrate chooses the advisor's decision when its confidence meets the
// threshold, otherwise falls back to the rule-based decision.
func (a *Arbitrator) Arbitrate(rl, rule Decision) Result {
	var chosen Decision
	var source, reason string
	var confidence float64

	if rl.Confidence >= a.ConfidenceThreshold {
		chosen = rl
		source = "rl_brain"
		reason = fmt.Sprintf("RL confidence (%.2f) >= threshold (%.2f)", rl.Confidence, a.ConfidenceThreshold)
		confidence = rl.Confidence
	} else {
		chosen = rule
		source = "rule_based"
		reason = fmt.Sprintf("RL confidence (%.2f) too low, falling back to rules. Rule reason: %s", rl.Confidence, rule.Reason)
		confidence = 1.0
	}

	action := chosen.Action
	if action == "" {
		action = "noop"
	}

	return Result{
		Action:     action,
		Source:     source,
		Reason:     reason,
		Confidence: confidence,
		Details: Details{
			RLInput:   rl,
			RuleInput: rule,
			Original:  OriginalDecisions{RL: rl, Rule: rule},
		},
	}
}
