// Package restraint implements the agent's self-imposed blocking rules: a
// stateless evaluator that can veto a decision before it ever reaches
// governance, independent of what any external advisor recommended.
package restraint

import (
	"fmt"

	"github.com/autonomic-run/agentruntime/memory"
)

// BlockReason names why a BlockDecision blocked.
type BlockReason string

const (
	ReasonConflictingSignals        BlockReason = "conflicting_signals"
	ReasonLowConfidence              BlockReason = "low_confidence"
	ReasonMemoryInstabilityRisk      BlockReason = "memory_instability_risk"
	ReasonInsufficientData           BlockReason = "insufficient_data"
	ReasonUncertaintyTooHigh         BlockReason = "uncertainty_too_high"
	ReasonSignalConflictObservation  BlockReason = "signal_conflict_requires_observation"
)

// HealthSignals is the raw set of boolean health flags self-restraint looks
// for conflicts in. Only the fields it inspects are named; callers may
// carry additional fields elsewhere (e.g. in the perception layer) that
// restraint never sees.
type HealthSignals struct {
	CPUHigh       bool
	CPULow        bool
	MemoryHigh    bool
	MemoryLow     bool
	ErrorRateHigh bool
	ErrorRateZero bool
}

// IsZero reports whether no field was set, used to detect an "absent"
// HealthSignals for the insufficient-data check.
func (h HealthSignals) IsZero() bool {
	return h == HealthSignals{}
}

// DecisionData is the subset of a candidate decision self-restraint reads.
// A zero-value Confidence with HasConfidence=false defaults to 1.0,
// matching the reference behavior that a decision with no confidence field
// never blocks on confidence alone.
type DecisionData struct {
	Confidence    float64
	HasConfidence bool
}

func (d DecisionData) confidenceOrDefault() float64 {
	if !d.HasConfidence {
		return 1.0
	}
	return d.Confidence
}

func (d DecisionData) isZero() bool {
	return !d.HasConfidence
}

// BlockDecision is the outcome of an evaluation: whether to block, why, and
// supporting details for the proof log / explainer.
type BlockDecision struct {
	ShouldBlock bool
	Reason      BlockReason
	Details     map[string]interface{}
	SelfImposed bool
}

func noBlock() BlockDecision {
	return BlockDecision{ShouldBlock: false, SelfImposed: true}
}

// Config holds the evaluator's thresholds.
type Config struct {
	MinConfidence       float64
	MaxInstabilityScore int
	MaxRecentFailures   int
}

// DefaultConfig matches the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{MinConfidence: 0.6, MaxInstabilityScore: 75, MaxRecentFailures: 5}
}

// SelfRestraint is a stateless rule evaluator; safe for concurrent use.
type SelfRestraint struct {
	cfg Config
}

// New constructs a SelfRestraint with the given configuration.
func New(cfg Config) *SelfRestraint {
	return &SelfRestraint{cfg: cfg}
}

// Input bundles the three optional signal groups EvaluateBlock considers.
// A nil/zero group is treated as absent.
type Input struct {
	Decision *DecisionData
	Memory   *memory.Signals
	Health   *HealthSignals
}

// EvaluateBlock runs the block rules in priority order: conflicting
// signals, memory instability, low confidence, insufficient data.
func (s *SelfRestraint) EvaluateBlock(in Input) BlockDecision {
	if in.Health != nil {
		if block := checkConflictingSignals(*in.Health); block.ShouldBlock {
			return block
		}
	}
	if in.Memory != nil {
		if block := s.checkMemoryRisk(*in.Memory); block.ShouldBlock {
			return block
		}
	}
	if in.Decision != nil {
		if block := s.checkConfidence(*in.Decision); block.ShouldBlock {
			return block
		}
	}
	if block := checkInsufficientData(in); block.ShouldBlock {
		return block
	}
	return noBlock()
}

func checkConflictingSignals(h HealthSignals) BlockDecision {
	var conflicts []string
	if h.CPUHigh && h.CPULow {
		conflicts = append(conflicts, "cpu: both high and low")
	}
	if h.MemoryHigh && h.MemoryLow {
		conflicts = append(conflicts, "memory: both high and low")
	}
	if h.ErrorRateHigh && h.ErrorRateZero {
		conflicts = append(conflicts, "error_rate: both high and zero")
	}
	if len(conflicts) == 0 {
		return noBlock()
	}
	return BlockDecision{
		ShouldBlock: true,
		Reason:      ReasonConflictingSignals,
		Details:     map[string]interface{}{"conflicts": conflicts},
		SelfImposed: true,
	}
}

func (s *SelfRestraint) checkMemoryRisk(sig memory.Signals) BlockDecision {
	if sig.InstabilityScore > s.cfg.MaxInstabilityScore {
		return BlockDecision{
			ShouldBlock: true,
			Reason:      ReasonMemoryInstabilityRisk,
			Details: map[string]interface{}{
				"instability_score": sig.InstabilityScore,
				"threshold":         s.cfg.MaxInstabilityScore,
				"recent_failures":   sig.RecentFailures,
			},
			SelfImposed: true,
		}
	}
	if sig.RecentFailures > s.cfg.MaxRecentFailures {
		return BlockDecision{
			ShouldBlock: true,
			Reason:      ReasonMemoryInstabilityRisk,
			Details: map[string]interface{}{
				"recent_failures":   sig.RecentFailures,
				"threshold":         s.cfg.MaxRecentFailures,
				"instability_score": sig.InstabilityScore,
			},
			SelfImposed: true,
		}
	}
	return noBlock()
}

func (s *SelfRestraint) checkConfidence(d DecisionData) BlockDecision {
	confidence := d.confidenceOrDefault()
	if confidence < s.cfg.MinConfidence {
		return BlockDecision{
			ShouldBlock: true,
			Reason:      ReasonLowConfidence,
			Details: map[string]interface{}{
				"confidence": confidence,
				"threshold":  s.cfg.MinConfidence,
			},
			SelfImposed: true,
		}
	}
	return noBlock()
}

func checkInsufficientData(in Input) BlockDecision {
	noDecision := in.Decision == nil || in.Decision.isZero()
	noMemory := in.Memory == nil
	noHealth := in.Health == nil || in.Health.IsZero()
	if noDecision && noMemory && noHealth {
		return BlockDecision{
			ShouldBlock: true,
			Reason:      ReasonInsufficientData,
			Details:     map[string]interface{}{"message": "No decision, memory, or health data available"},
			SelfImposed: true,
		}
	}
	return noBlock()
}

// CheckUncertainty blocks with a recommendation to noop when
// 1 - confidence exceeds threshold. It is independently callable, not only
// reachable through EvaluateBlock.
func (s *SelfRestraint) CheckUncertainty(d DecisionData, threshold float64) BlockDecision {
	if threshold <= 0 {
		threshold = 0.5
	}
	confidence := d.confidenceOrDefault()
	uncertainty := 1.0 - confidence
	if uncertainty > threshold {
		return BlockDecision{
			ShouldBlock: true,
			Reason:      ReasonUncertaintyTooHigh,
			Details: map[string]interface{}{
				"confidence":         confidence,
				"uncertainty":        uncertainty,
				"threshold":          threshold,
				"recommended_action": "noop",
				"message":            fmt.Sprintf("Uncertainty %.2f exceeds threshold %.2f -> NOOP", uncertainty, threshold),
			},
			SelfImposed: true,
		}
	}
	return noBlock()
}

// ShouldObserveInsteadOfAct blocks with a recommendation to observe when
// health signals conflict, or when memory instability exceeds a lower,
// moderate threshold (50) distinct from EvaluateBlock's configured
// max_instability_score.
func (s *SelfRestraint) ShouldObserveInsteadOfAct(health *HealthSignals, mem *memory.Signals) BlockDecision {
	if health != nil {
		if conflict := checkConflictingSignals(*health); conflict.ShouldBlock {
			return BlockDecision{
				ShouldBlock: true,
				Reason:      ReasonSignalConflictObservation,
				Details: map[string]interface{}{
					"conflicts":           conflict.Details["conflicts"],
					"recommended_action":  "observe",
					"message":             "Conflicting signals detected -> observe instead of act",
				},
				SelfImposed: true,
			}
		}
	}
	if mem != nil && mem.InstabilityScore > 50 {
		return BlockDecision{
			ShouldBlock: true,
			Reason:      ReasonSignalConflictObservation,
			Details: map[string]interface{}{
				"instability_score":  mem.InstabilityScore,
				"recommended_action": "observe",
				"message":            fmt.Sprintf("Moderate instability (%d) -> observe for stability", mem.InstabilityScore),
			},
			SelfImposed: true,
		}
	}
	return noBlock()
}
