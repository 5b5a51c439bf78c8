// Package runtime wires every other package in this module into the
// agent's seven-phase control loop: sense, validate, decide, enforce,
// act, observe, explain. AgentRuntime owns the FSM transitions and the
// proof-log narration around each phase; the phases themselves only
// ever call into already-gated packages (restraint, governance,
// orchestrator) and never reach a side effect on their own.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/autonomic-run/agentruntime/advisor"
	"github.com/autonomic-run/agentruntime/arbitrate"
	"github.com/autonomic-run/agentruntime/core"
	"github.com/autonomic-run/agentruntime/explain"
	"github.com/autonomic-run/agentruntime/fsm"
	"github.com/autonomic-run/agentruntime/governance"
	"github.com/autonomic-run/agentruntime/memory"
	"github.com/autonomic-run/agentruntime/orchestrator"
	"github.com/autonomic-run/agentruntime/perception"
	"github.com/autonomic-run/agentruntime/persistence"
	"github.com/autonomic-run/agentruntime/proof"
	"github.com/autonomic-run/agentruntime/restraint"
	"github.com/autonomic-run/agentruntime/stateadapter"
	"github.com/autonomic-run/agentruntime/telemetry"
)

func init() {
	telemetry.DeclareMetrics("runtime", telemetry.ModuleConfig{
		Metrics: []telemetry.MetricDefinition{
			{Name: "runtime_cycles_total", Type: "counter", Help: "Completed control loop cycles, by terminal decision status.", Labels: []string{"status"}},
			{Name: "runtime_cycle_duration_seconds", Type: "histogram", Help: "Wall-clock duration of one full control loop cycle."},
		},
	})
}

// rlActionNames maps the arbitrator's chosen action name onto the
// numeric code the Safe Orchestrator's ValidateAndExecute expects, and
// back again for logging. Mirrors orchestrator.actionIndex.
var rlActionNames = map[string]int{
	"noop": 0, "restart": 1, "scale_up": 2, "scale_down": 3, "rollback": 4,
}

func rlActionCode(name string) int {
	if code, ok := rlActionNames[name]; ok {
		return code
	}
	return 0
}

// Dependencies bundles every collaborator AgentRuntime drives through a
// cycle. All fields are required except Explainer, which defaults to a
// TemplateExplainer, and Logger, which defaults to a no-op.
type Dependencies struct {
	ProofLog     *proof.Log
	Memory       *memory.Memory
	Perception   *perception.Layer
	StateAdapter *stateadapter.StateAdapter
	Advisor      *advisor.Client
	Restraint    *restraint.SelfRestraint
	Governance   *governance.ActionGovernance
	Arbitrator   *arbitrate.Arbitrator
	Orchestrator *orchestrator.SafeOrchestrator
	FSM          *fsm.Manager
	Store        persistence.Store
	Explainer    explain.Explainer
	Logger       core.Logger
}

// AgentRuntime drives one agent's control loop. Run and HandleExternalEvent
// both fold onto runCycle, serialized by mu the same way the reference
// implementation guards execute_agent_loop with a single lock.
type AgentRuntime struct {
	agentID      string
	env          string
	loopInterval time.Duration

	deps Dependencies

	mu                sync.Mutex
	loopCount         int
	startedAt         time.Time
	shutdownRequested bool
	lastDecision      map[string]interface{}

	logger core.Logger
	now    func() time.Time
}

// New constructs an AgentRuntime. agentID and env must be non-empty;
// loopInterval must be positive.
func New(agentID, env string, loopInterval time.Duration, deps Dependencies) *AgentRuntime {
	if deps.Explainer == nil {
		deps.Explainer = explain.NewTemplateExplainer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AgentRuntime{
		agentID:      agentID,
		env:          env,
		loopInterval: loopInterval,
		deps:         deps,
		logger:       logger,
		now:          time.Now,
	}
}

// RequestShutdown marks the runtime to stop after its current cycle.
// Safe to call concurrently with Run.
func (r *AgentRuntime) RequestShutdown() {
	r.mu.Lock()
	r.shutdownRequested = true
	r.mu.Unlock()
}

// Run drives the continuous loop until ctx is canceled or RequestShutdown
// is called, sleeping loopInterval between cycles. It always attempts a
// graceful Shutdown on the way out, regardless of how the loop ended.
func (r *AgentRuntime) Run(ctx context.Context) error {
	r.mu.Lock()
	r.startedAt = r.now().UTC()
	r.mu.Unlock()

	defer r.shutdown(context.Background())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		r.mu.Lock()
		stop := r.shutdownRequested
		r.mu.Unlock()
		if stop {
			return nil
		}

		r.mu.Lock()
		r.runCycle(ctx, nil)
		r.loopCount++
		count := r.loopCount
		r.mu.Unlock()

		r.logger.Info("agent heartbeat", map[string]interface{}{
			"agent_id":       r.agentID,
			"loop_count":     count,
			"uptime_seconds": r.now().UTC().Sub(r.startedAt).Seconds(),
		})
		r.writeProof(proof.Event("HEARTBEAT"), map[string]interface{}{
			"agent_id":   r.agentID,
			"env":        r.env,
			"loop_count": count,
		})

		timer.Reset(r.loopInterval)
	}
}

// HandleExternalEvent runs exactly one cycle seeded with payload instead
// of polling the perception adapters, then synchronously returns the
// decision that cycle explained. If the cycle exits before reaching the
// explain phase (an early-return short-circuit upstream of it), it
// returns the same partial-loop fallback shape the reference
// implementation does, so callers can tell the two apart.
func (r *AgentRuntime) HandleExternalEvent(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdownRequested {
		return nil, fmt.Errorf("runtime is shutting down, external events are no longer accepted")
	}

	r.lastDecision = nil
	r.runCycle(ctx, payload)
	r.loopCount++

	if r.lastDecision != nil {
		return r.lastDecision, nil
	}
	return map[string]interface{}{
		"status":  "error",
		"message": "Cycle complete but no decision was explained (partial loop)",
		"decision": map[string]interface{}{
			"action_name": "noop",
			"source":      "fsm_early_exit",
			"confidence":  0.0,
		},
	}, nil
}

// runCycle executes one sense->explain pass, returning to idle right after
// sensing when there is nothing to act on. A panic in any phase is
// recovered here: it is logged and proof-logged, and the FSM moves to
// blocked and then idle. Caller holds r.mu.
func (r *AgentRuntime) runCycle(ctx context.Context, manual map[string]interface{}) {
	started := r.now()
	loopCount := r.loopCount

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("control loop cycle panicked", map[string]interface{}{"loop_count": loopCount, "panic": fmt.Sprint(p)})
			r.writeProof(proof.Event("CYCLE_ERROR"), map[string]interface{}{"env": r.env, "loop_count": loopCount, "error": fmt.Sprint(p)})
			r.transition(fsm.Blocked, "cycle panicked")
			r.transition(fsm.Idle, "recovered from cycle panic")
		}
	}()

	r.transition(fsm.Observing, "sensing cycle")
	perceptions := r.sense(ctx, manual)
	if len(perceptions) == 0 {
		r.transition(fsm.Idle, "no perceptions")
		return
	}

	r.transition(fsm.Validating, "validating perceptions")
	validated := r.validate(ctx, perceptions)

	r.transition(fsm.Deciding, "deciding next action")
	d := r.decide(ctx, validated)

	var act actOutcome
	var obs observationOutcome

	if d.Status == "observe" {
		// Mirrors the reference implementation's explicit early return
		// when self-restraint recommends observing instead of acting:
		// enforcement and execution are skipped entirely.
		act = actOutcome{Status: "observe_mode", Action: d.ActionName, Timestamp: r.now().UTC()}
	} else {
		r.transition(fsm.Enforcing, "enforcing governance")
		enf := r.enforce(ctx, d)

		r.transition(fsm.Acting, "executing safe action")
		act = r.act(ctx, enf)
	}

	r.transition(fsm.ObservingResults, "observing outcome")
	obs = r.observe(ctx, act, d)

	r.transition(fsm.Explaining, "explaining cycle")
	conclusion := r.explainCycle(ctx, loopCount, d, act, obs)

	r.lastDecision = map[string]interface{}{
		"status":        "ok",
		"loop_count":    loopCount,
		"decision":      decisionToMap(d),
		"action_result": actOutcomeToMap(act),
		"observation":   observationToMap(obs),
		"conclusion":    conclusion,
	}

	r.transition(fsm.Idle, "loop_complete")

	telemetry.Counter("runtime_cycles_total", "status", act.Status)
	telemetry.Histogram("runtime_cycle_duration_seconds", r.now().Sub(started).Seconds())
}

// transition moves the FSM forward, logging instead of panicking on an
// illegal edge: a rejected transition is a programming bug in the phase
// sequence, not a reason to crash a running agent.
func (r *AgentRuntime) transition(state fsm.State, reason string) {
	if r.deps.FSM == nil {
		return
	}
	if err := r.deps.FSM.Transition(state, reason); err != nil {
		r.logger.Error("rejected fsm transition", map[string]interface{}{
			"target_state": string(state),
			"reason":       reason,
			"error":        err.Error(),
		})
	}
}

// sense gathers this cycle's raw observations: either everything the
// registered perception adapters currently offer, or, for a
// synchronously handled external event, a single synthetic perception
// carrying the event payload.
func (r *AgentRuntime) sense(ctx context.Context, manual map[string]interface{}) []perception.Perception {
	if manual != nil {
		eventType, _ := manual["event_type"].(string)
		if eventType == "" {
			eventType = "external_event"
		}
		return []perception.Perception{{
			ID:        fmt.Sprintf("external-%d", r.now().UnixNano()),
			Type:      perception.TypeRuntimeEvent,
			Source:    "handle_external_event",
			Timestamp: r.now().UTC(),
			Data:      manual,
			Priority:  perception.PriorityHigh,
		}}
	}
	if r.deps.Perception == nil {
		return nil
	}
	return r.deps.Perception.Perceive(ctx)
}

// validatedData is everything decide/enforce/act need out of this
// cycle's highest-priority perception, normalized once up front.
type validatedData struct {
	HasPerception bool
	AppID         string
	AppName       string
	EventType     string
	Data          map[string]interface{}
	Health        *restraint.HealthSignals
	RawHealth     perception.HealthSignals
	HasHealth     bool
	MemSignals    memory.Signals
}

// validate picks the highest-priority perception and normalizes it,
// computing this cycle's memory signals scoped to whatever app it names.
func (r *AgentRuntime) validate(ctx context.Context, perceptions []perception.Perception) validatedData {
	top, has := perception.HighestPriority(perceptions)

	v := validatedData{HasPerception: has, AppID: "unknown", AppName: "unknown", EventType: "none"}
	if has {
		v.EventType = string(top.Type)
		v.Data = top.Data
		if id, ok := v.Data["app_id"].(string); ok && id != "" {
			v.AppID = id
		}
		if name, ok := v.Data["app_name"].(string); ok && name != "" {
			v.AppName = name
		} else {
			v.AppName = v.AppID
		}
		if top.Type == perception.TypeHealthSignal {
			v.RawHealth = healthFromData(v.Data)
			v.HasHealth = true
			flags := deriveHealthFlags(v.RawHealth)
			v.Health = &flags
		}
	}

	if r.deps.Memory != nil {
		v.MemSignals = r.deps.Memory.GetMemoryContext(v.AppID, 0)
	}
	return v
}

func healthFromData(data map[string]interface{}) perception.HealthSignals {
	asFloat := func(v interface{}) float64 {
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		}
		return 0
	}
	status, _ := data["status"].(string)
	return perception.HealthSignals{
		Status:        status,
		CPUPercent:    asFloat(data["cpu"]),
		MemoryPercent: asFloat(data["memory"]),
		ErrorRate:     asFloat(data["error_rate"]),
	}
}

// deriveHealthFlags turns one raw health snapshot into the boolean
// conflict-detection flags self-restraint inspects. A single snapshot
// can only report a value as high or low, never both for the same
// metric, so the "conflicting signals" check only fires across several
// independently reported dimensions in practice.
func deriveHealthFlags(h perception.HealthSignals) restraint.HealthSignals {
	return restraint.HealthSignals{
		CPUHigh:       h.CPUPercent > 90,
		CPULow:        h.CPUPercent > 0 && h.CPUPercent < 1,
		MemoryHigh:    h.MemoryPercent > 90,
		MemoryLow:     h.MemoryPercent > 0 && h.MemoryPercent < 1,
		ErrorRateHigh: h.ErrorRate > 0.05,
		ErrorRateZero: h.ErrorRate == 0,
	}
}

// decision is this cycle's candidate (or final, if refused/blocked)
// action, carried through enforce/act/observe/explain.
type decision struct {
	ActionName      string
	RLAction        int
	Source          string
	Reason          string
	Confidence      float64
	OverrideApplied bool
	SelfBlocked     bool
	Status          string // "decided", "refused", "blocked", "observe"
	AppID           string
	AppName         string
	Context         map[string]interface{}
}

func noopDecision(source, reason, status string, v validatedData) decision {
	return decision{
		ActionName: "noop", RLAction: 0, Source: source, Reason: reason,
		Status: status, AppID: v.AppID, AppName: v.AppName,
		Context: map[string]interface{}{"app_id": v.AppID, "app_name": v.AppName},
	}
}

// decide is the arbitration core of the loop. It replicates the
// reference implementation's priority order (memory override, then
// self-restraint block, then arbitrated advisor/rule decision, then
// uncertainty check, then observe-instead-of-act) but, unlike it,
// actually threads the gathered advisor and rule-based inputs through
// the arbitrator rather than referencing a result that was never
// computed.
func (r *AgentRuntime) decide(ctx context.Context, v validatedData) decision {
	if r.deps.Memory != nil {
		override := r.deps.Memory.ShouldOverrideDecision(v.AppID, 3, 3)
		if override.Applied {
			d := noopDecision("memory_override", override.Reason, "refused", v)
			d.OverrideApplied = true
			r.remember("memory_override", d, "refused", v)
			return d
		}
	}

	if r.deps.Restraint != nil {
		block := r.deps.Restraint.EvaluateBlock(restraint.Input{Memory: &v.MemSignals, Health: v.Health})
		if block.ShouldBlock {
			r.transition(fsm.Blocked, string(block.Reason))
			d := noopDecision("self_restraint", string(block.Reason), "blocked", v)
			d.SelfBlocked = true
			r.remember("self_restraint", d, "blocked", v)
			return d
		}
	}

	rl := r.adviseFromRemote(ctx, v)
	rule := r.adviseFromRules(v)

	arbitrated := arbitrate.Result{Action: "noop", Source: "rule_based", Confidence: 0}
	if r.deps.Arbitrator != nil {
		arbitrated = r.deps.Arbitrator.Arbitrate(
			arbitrate.Decision{Action: rl.Action, Confidence: rl.Confidence, Reason: rl.Reason},
			arbitrate.Decision{Action: rule.Action, Confidence: rule.Confidence, Reason: rule.Reason},
		)
	}

	r.writeProof(proof.EventRLDecision, map[string]interface{}{
		"env":         r.env,
		"app_id":      v.AppID,
		"event_type":  v.EventType,
		"decision":    arbitrated.Action,
		"source":      arbitrated.Source,
		"confidence":  arbitrated.Confidence,
		"status":      "decided",
	})

	d := decision{
		ActionName: arbitrated.Action,
		RLAction:   rlActionCode(arbitrated.Action),
		Source:     arbitrated.Source,
		Reason:     arbitrated.Reason,
		Confidence: arbitrated.Confidence,
		Status:     "decided",
		AppID:      v.AppID,
		AppName:    v.AppName,
		Context:    map[string]interface{}{"app_id": v.AppID, "app_name": v.AppName},
	}

	if r.deps.Restraint != nil {
		uncertain := r.deps.Restraint.CheckUncertainty(restraint.DecisionData{Confidence: d.Confidence, HasConfidence: true}, 0.4)
		if uncertain.ShouldBlock {
			forced := noopDecision("self_restraint", string(uncertain.Reason), "blocked", v)
			r.remember("self_restraint_uncertainty", forced, "blocked", v)
			return forced
		}

		observe := r.deps.Restraint.ShouldObserveInsteadOfAct(v.Health, &v.MemSignals)
		if observe.ShouldBlock {
			// CRITICAL: return immediately, without finalizing or
			// remembering the arbitrated decision above, matching the
			// reference implementation's early exit for this branch.
			// Transition to Blocked exactly as the EvaluateBlock branch
			// above does: runCycle skips straight to ObservingResults for
			// an "observe" decision, and Deciding has no direct edge to
			// ObservingResults or the final Idle, so this loop only
			// recovers through the legal Blocked->Idle edge at the end.
			r.transition(fsm.Blocked, string(observe.Reason))
			r.remember("self_restraint_observe", d, "blocked", v)
			observeDecision := noopDecision("self_restraint", string(observe.Reason), "observe", v)
			observeDecision.ActionName = "observe"
			return observeDecision
		}
	}

	outcome := "pending"
	r.remember("rl_decision", d, outcome, v)
	return d
}

func (r *AgentRuntime) remember(decisionType string, d decision, outcome string, v validatedData) {
	if r.deps.Memory == nil {
		return
	}
	r.deps.Memory.RememberDecision(decisionType, decisionToMap(d), outcome, map[string]interface{}{"app_id": v.AppID})
}

// adviseFromRemote asks the remote advisor, adapting this cycle's
// validated observation into its flat input schema first.
func (r *AgentRuntime) adviseFromRemote(ctx context.Context, v validatedData) advisor.Decision {
	if r.deps.Advisor == nil {
		return advisor.Decision{Action: "noop", Confidence: 0, Source: "advisor_unconfigured"}
	}
	var request stateadapter.Request
	if r.deps.StateAdapter != nil {
		state := "idle"
		if r.deps.FSM != nil {
			state = string(r.deps.FSM.Current())
		}
		event := stateadapter.Event{AppID: v.AppID, AppName: v.AppName, EventType: v.EventType, Data: v.Data}
		request = r.deps.StateAdapter.AdaptState(event, state, v.MemSignals)
	}
	return r.deps.Advisor.Decide(ctx, request.ToMap())
}

// adviseFromRules is the local, always-available fallback the
// arbitrator compares the remote advisor against: a small heuristic over
// the same health and memory signals self-restraint already reads,
// since this deployment has no standalone rule engine of its own.
func (r *AgentRuntime) adviseFromRules(v validatedData) arbitrate.Decision {
	switch {
	case v.Health != nil && (v.Health.ErrorRateHigh || v.Health.MemoryHigh):
		return arbitrate.Decision{Action: "restart", Confidence: 0.55, Reason: "health signals indicate degraded service"}
	case v.Health != nil && v.Health.CPUHigh:
		return arbitrate.Decision{Action: "scale_up", Confidence: 0.5, Reason: "cpu_high health signal"}
	case v.MemSignals.InstabilityScore > 60:
		return arbitrate.Decision{Action: "rollback", Confidence: 0.45, Reason: "high recent instability score"}
	case v.MemSignals.RecentFailures > 0:
		return arbitrate.Decision{Action: "restart", Confidence: 0.4, Reason: "recent failures recorded in memory"}
	default:
		return arbitrate.Decision{Action: "noop", Confidence: 0.3, Reason: "no actionable signal"}
	}
}

// enforcement is what enforce hands to act.
type enforcement struct {
	Allowed   bool
	Reason    string
	BlockType string
	Decision  decision
}

// enforce runs the arbitrated decision past governance, unless the
// decision already carries a terminal "refused" status from an earlier
// phase, in which case governance is never consulted (mirroring the
// reference implementation's short-circuit).
func (r *AgentRuntime) enforce(ctx context.Context, d decision) enforcement {
	if d.Status == "refused" {
		return enforcement{Allowed: false, Reason: d.Reason, BlockType: "self_restraint", Decision: d}
	}

	if r.deps.Governance == nil {
		return enforcement{Allowed: true, Decision: d}
	}

	govContext := map[string]interface{}{"app_name": d.AppName, "confidence": d.Confidence}
	ruling := r.deps.Governance.EvaluateAction(d.ActionName, govContext, "agent_runtime")
	if ruling.ShouldBlock {
		r.transition(fsm.Blocked, string(ruling.Reason))
		r.writeProof(proof.Event("GOVERNANCE_BLOCK"), map[string]interface{}{
			"env":    r.env,
			"app_id": d.AppID,
			"action": d.ActionName,
			"reason": string(ruling.Reason),
		})
		r.remember("governance_block", d, "blocked", validatedData{AppID: d.AppID})
		blocked := d
		blocked.ActionName = "noop"
		blocked.RLAction = 0
		return enforcement{
			Allowed: false, Reason: fmt.Sprintf("%v", ruling.Details["message"]),
			BlockType: "governance", Decision: blocked,
		}
	}

	return enforcement{Allowed: true, Decision: d}
}

// actOutcome is what act produces and observe/explain consume.
type actOutcome struct {
	Status    string // "executed", "refused", "observe_mode"
	Action    string
	Details   map[string]interface{}
	Timestamp time.Time
}

// act calls the Safe Orchestrator through the one numeric entry point
// every recovery action in this system uses.
func (r *AgentRuntime) act(ctx context.Context, enf enforcement) actOutcome {
	if !enf.Allowed {
		return actOutcome{Status: "refused", Action: "noop", Details: map[string]interface{}{"reason": enf.Reason, "block_type": enf.BlockType}, Timestamp: r.now().UTC()}
	}
	if r.deps.Orchestrator == nil {
		return actOutcome{Status: "refused", Action: "noop", Details: map[string]interface{}{"reason": "orchestrator not configured"}, Timestamp: r.now().UTC()}
	}

	execContext := map[string]interface{}{
		"app_name":   enf.Decision.AppName,
		"event_type": enf.Decision.Source,
	}
	result := r.deps.Orchestrator.ValidateAndExecute(enf.Decision.RLAction, execContext, "rl_decision_layer")

	status := "executed"
	if !result.Success {
		status = "refused"
	}
	return actOutcome{Status: status, Action: result.ActionExecuted, Details: result.Details, Timestamp: result.Timestamp}
}

// observationOutcome is what observe records to memory and hands to
// the explainer.
type observationOutcome struct {
	ActionStatus string
	SystemStable bool
	AppID        string
	Timestamp    time.Time
}

// observe records this cycle's outcome into the app's state history, so
// future cycles' memory signals reflect it. Skipped for an unknown app,
// matching the reference implementation.
func (r *AgentRuntime) observe(ctx context.Context, act actOutcome, d decision) observationOutcome {
	stable := act.Status == "executed"
	obs := observationOutcome{ActionStatus: act.Status, SystemStable: stable, AppID: d.AppID, Timestamp: r.now().UTC()}

	if r.deps.Memory != nil && d.AppID != "unknown" && d.AppID != "" {
		status := "unstable"
		if stable {
			status = "active"
		}
		r.deps.Memory.RememberAppState(
			d.AppID, status,
			map[string]interface{}{"last_action": act.Status},
			[]string{fmt.Sprintf("action_%s", act.Status)},
			map[string]interface{}{"timestamp": obs.Timestamp},
		)
	}
	return obs
}

// explainCycle narrates this cycle's outcome and remembers the final
// decision (outside the blocked/refused/observe early-return paths,
// which already recorded their own decision memory record).
func (r *AgentRuntime) explainCycle(ctx context.Context, loopCount int, d decision, act actOutcome, obs observationOutcome) string {
	summary := explain.CycleSummary{
		LoopCount:      loopCount,
		ActionName:     d.ActionName,
		ActionExecuted: act.Status == "executed",
		Refused:        act.Status == "refused",
		RefusalReason:  d.Reason,
		Source:         d.Source,
		AppName:        d.AppName,
	}
	conclusion, err := r.deps.Explainer.Explain(ctx, summary)
	if err != nil {
		r.logger.Warn("explainer returned an error, using raw summary", map[string]interface{}{"error": err.Error()})
		conclusion = fmt.Sprintf("action %s %s", d.ActionName, act.Status)
	}

	if d.Status == "decided" {
		outcome := "success"
		switch act.Status {
		case "refused":
			outcome = "refused"
		case "observe_mode":
			outcome = "blocked"
		}
		r.remember("rl_decision_final", d, outcome, validatedData{AppID: d.AppID, AppName: d.AppName})
	}

	return conclusion
}

func decisionToMap(d decision) map[string]interface{} {
	return map[string]interface{}{
		"action_name":      d.ActionName,
		"rl_action":        d.RLAction,
		"source":           d.Source,
		"reason":           d.Reason,
		"confidence":       d.Confidence,
		"override_applied": d.OverrideApplied,
		"self_blocked":     d.SelfBlocked,
		"status":           d.Status,
		"app_id":           d.AppID,
		"app_name":         d.AppName,
	}
}

func actOutcomeToMap(a actOutcome) map[string]interface{} {
	return map[string]interface{}{
		"status":            a.Status,
		"action":            a.Action,
		"execution_details": a.Details,
		"timestamp":         a.Timestamp,
	}
}

func observationToMap(o observationOutcome) map[string]interface{} {
	return map[string]interface{}{
		"action_status": o.ActionStatus,
		"system_stable": o.SystemStable,
		"app_id":        o.AppID,
		"timestamp":     o.Timestamp,
	}
}

func (r *AgentRuntime) writeProof(event proof.Event, data map[string]interface{}) {
	if r.deps.ProofLog != nil {
		r.deps.ProofLog.Write(event, data)
	}
}

// Status reports a snapshot of the runtime's own bookkeeping, analogous
// to the reference implementation's get_agent_status.
func (r *AgentRuntime) Status() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := map[string]interface{}{
		"agent_id":   r.agentID,
		"env":        r.env,
		"loop_count": r.loopCount,
		"started_at": r.startedAt,
	}
	if r.deps.FSM != nil {
		info := r.deps.FSM.CurrentStateInfo()
		status["current_state"] = string(info.CurrentState)
		status["state_duration_seconds"] = info.DurationSeconds
	}
	if r.deps.Memory != nil {
		status["memory"] = map[string]interface{}{
			"total_decisions_seen": r.deps.Memory.TotalDecisionsSeen(),
			"decisions_evicted":    r.deps.Memory.DecisionsEvicted(),
		}
	}
	return status
}

// shutdown persists the FSM and memory snapshots and logs final stats.
// Called once, from a deferred call in Run; errors are logged, never
// returned, since there is nothing left upstream to hand them to.
func (r *AgentRuntime) shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deps.FSM != nil {
		if err := r.deps.FSM.Transition(fsm.ShuttingDown, "shutdown requested"); err != nil {
			r.logger.Warn("fsm already past a state that can reach shutting_down", map[string]interface{}{"error": err.Error()})
		}
	}

	r.persistSnapshots(ctx)

	stats := map[string]interface{}{"agent_id": r.agentID, "loop_count": r.loopCount}
	if r.deps.Memory != nil {
		stats["total_decisions_seen"] = r.deps.Memory.TotalDecisionsSeen()
		stats["decisions_evicted"] = r.deps.Memory.DecisionsEvicted()
	}
	r.logger.Info("agent runtime shut down", stats)
}

func (r *AgentRuntime) persistSnapshots(ctx context.Context) {
	if r.deps.FSM != nil {
		path := filepath.Join("logs", "agent", fmt.Sprintf("agent_state_%s.json", r.agentID))
		if err := r.deps.FSM.SaveToFile(path); err != nil {
			r.logger.Error("failed to save fsm snapshot", map[string]interface{}{"error": err.Error()})
		}
	}
	if r.deps.Memory == nil {
		return
	}
	snapshot := r.deps.Memory.ToSnapshot()
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		r.logger.Error("failed to marshal memory snapshot", map[string]interface{}{"error": err.Error()})
		return
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.SaveMemorySnapshot(ctx, r.agentID, encoded); err != nil {
			r.logger.Error("failed to persist memory snapshot", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	path := filepath.Join("logs", "agent", fmt.Sprintf("memory_snapshot_%s.json", r.agentID))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.logger.Error("failed to create memory snapshot directory", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		r.logger.Error("failed to write memory snapshot file", map[string]interface{}{"error": err.Error()})
	}
}
