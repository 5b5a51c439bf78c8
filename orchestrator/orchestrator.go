// Package orchestrator implements the Safe Orchestrator: the single
// execution gate every action must pass through on its way to a side
// effect. ExecuteAction and ValidateAndExecute are the only exported
// entry points; the per-action handlers are unexported methods taking an
// unexported parameter type, so nothing outside this package can reach
// them directly.
package orchestrator

import (
	"time"

	"github.com/autonomic-run/agentruntime/proof"
)

// demo intake sources, allowlist, and blocklist, matching the demo-mode
// execution gate's configuration.
var (
	demoIntakeSources = map[string]bool{
		"rl_decision_layer": true,
		"rl_intake_gate":    true,
	}
	demoAllowlist = map[string]bool{
		"noop": true, "restart": true, "scale_up": true, "scale_down": true,
	}
	demoBlocklist = map[string]bool{
		"rollback": true, "delete_data": true, "modify_config": true,
		"external_call": true, "shell_exec": true, "modify_permissions": true,
		"stop_service": true,
	}
)

func environmentAllowedActions() map[string][]string {
	return map[string][]string{
		"prod":  {"noop"},
		"stage": {"restart", "noop", "scale_up", "scale_down"},
		"dev":   {"restart", "scale_up", "noop", "scale_down", "rollback"},
	}
}

// actionIndex maps ValidateAndExecute's numeric codes onto action names.
var actionIndex = map[int]string{
	0: "noop",
	1: "restart",
	2: "scale_up",
	3: "scale_down",
	4: "rollback",
}

// Result is what ExecuteAction and ValidateAndExecute return: either a
// dispatched handler's structured outcome, or a refusal at one of the
// three gates.
type Result struct {
	ActionRequested string                 `json:"action_requested"`
	ActionExecuted  string                 `json:"action_executed"`
	Success         bool                   `json:"success"`
	Reason          string                 `json:"reason,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	DemoModeBlocked bool                   `json:"demo_mode_blocked,omitempty"`
	SafetyRefused   bool                   `json:"safety_refused,omitempty"`
	SafetyOverride  bool                   `json:"safety_override,omitempty"`
	Source          string                 `json:"source,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// Config tunes a SafeOrchestrator's environment and demo-mode gating.
type Config struct {
	Env      string
	DemoMode bool
}

// SafeOrchestrator is the sole execution gate for every action the agent
// might take.
type SafeOrchestrator struct {
	env      string
	demoMode bool
	proofLog *proof.Log
	now      func() time.Time
}

// New constructs a SafeOrchestrator scoped to one environment.
func New(cfg Config, proofLog *proof.Log) *SafeOrchestrator {
	env := cfg.Env
	if env == "" {
		env = "dev"
	}
	return &SafeOrchestrator{env: env, demoMode: cfg.DemoMode, proofLog: proofLog, now: time.Now}
}

func (o *SafeOrchestrator) writeProof(event proof.Event, data map[string]interface{}) {
	if o.proofLog != nil {
		o.proofLog.Write(event, data)
	}
}

// isActionAllowedInEnv reports whether action is in this environment's
// allowed set.
func (o *SafeOrchestrator) isActionAllowedInEnv(action string) bool {
	allowed, ok := environmentAllowedActions()[o.env]
	if !ok {
		allowed = []string{"noop"}
	}
	for _, a := range allowed {
		if a == action {
			return true
		}
	}
	return false
}

// checkIntakeGate is gate 1: only active in demo mode, requires source to
// be one of the RL intake identifiers.
func (o *SafeOrchestrator) checkIntakeGate(action, source string) (bool, string) {
	if !o.demoMode {
		return true, ""
	}
	if !demoIntakeSources[source] {
		reportedSource := source
		if reportedSource == "" {
			reportedSource = "UNKNOWN"
		}
		o.writeProof(proof.EventDemoModeBlock, map[string]interface{}{
			"env":      o.env,
			"action":   action,
			"source":   reportedSource,
			"reason":   "direct orchestrator call blocked - must come through RL intake gate",
			"demo_mode": true,
		})
		return false, "demo mode: direct calls blocked - actions must come from the RL layer"
	}
	o.writeProof(proof.EventRLIntakeValidated, map[string]interface{}{
		"env": o.env, "action": action, "source": source, "status": "validated",
	})
	return true, ""
}

// checkSafetyClassificationGate is gate 2: only active in demo mode,
// requires the action to be on the allowlist and off the blocklist.
func (o *SafeOrchestrator) checkSafetyClassificationGate(action, source string) (bool, string) {
	if !o.demoMode {
		return true, ""
	}
	var reason string
	switch {
	case demoBlocklist[action]:
		reason = "action '" + action + "' is on the demo-mode blocklist"
	case !demoAllowlist[action]:
		reason = "action '" + action + "' is not on the demo-mode allowlist"
	default:
		return true, ""
	}
	reportedSource := source
	if reportedSource == "" {
		reportedSource = "UNKNOWN"
	}
	o.writeProof(proof.EventUnsafeActionRefused, map[string]interface{}{
		"env": o.env, "action": action, "source": reportedSource,
		"reason": reason, "demo_mode": true,
	})
	return false, reason
}

// checkEnvironmentGate is gate 3: the action must be in the current
// environment's allowed set, demo mode or not.
func (o *SafeOrchestrator) checkEnvironmentGate(action string) (bool, string) {
	if o.isActionAllowedInEnv(action) {
		return true, ""
	}
	o.writeProof(proof.EventOrchRefuse, map[string]interface{}{
		"env": o.env, "action": action, "reason": "environment_safety_rules", "status": "refused",
	})
	return false, "action '" + action + "' is not safe for the " + o.env + " environment"
}

// ExecuteAction is the centralized execution gate. Every action reaching
// a side effect must pass through here.
func (o *SafeOrchestrator) ExecuteAction(action string, context map[string]interface{}, source string) Result {
	timestamp := o.now().UTC()

	if ok, reason := o.checkIntakeGate(action, source); !ok {
		return Result{
			ActionRequested: action, ActionExecuted: "noop", Reason: reason,
			Success: false, Timestamp: timestamp, DemoModeBlocked: true, Source: source,
		}
	}

	if ok, reason := o.checkSafetyClassificationGate(action, source); !ok {
		return Result{
			ActionRequested: action, ActionExecuted: "noop", Reason: reason,
			Success: false, Timestamp: timestamp, SafetyRefused: true, Source: source,
		}
	}

	if ok, reason := o.checkEnvironmentGate(action); !ok {
		return Result{
			ActionRequested: action, ActionExecuted: "noop", Reason: reason,
			Success: true, Timestamp: timestamp, SafetyOverride: true, Source: source,
		}
	}

	o.writeProof(proof.EventExecutionGatePassed, map[string]interface{}{
		"env": o.env, "action": action, "source": source, "demo_mode": o.demoMode,
		"gates_passed": []string{"rl_intake", "demo_safety", "env_safety"},
	})

	return o.dispatch(action, context, source, timestamp)
}

// dispatch invokes the unexported handler for action. It is the only
// caller of any handler method, and is itself only reachable from
// ExecuteAction/ValidateAndExecute.
func (o *SafeOrchestrator) dispatch(action string, context map[string]interface{}, source string, timestamp time.Time) Result {
	args := handlerArgs{context: context}

	var details map[string]interface{}
	var err error
	switch action {
	case "restart":
		details, err = o.handleRestart(args)
	case "scale_up":
		details, err = o.handleScaleUp(args)
	case "scale_down":
		details, err = o.handleScaleDown(args)
	case "rollback":
		details, err = o.handleRollback(args)
	default:
		details, err = o.handleNoop(args)
		action = "noop"
	}

	if err != nil {
		return Result{
			ActionExecuted: action, Success: false, Error: err.Error(),
			Timestamp: timestamp, Source: source,
		}
	}

	o.writeProof(proof.EventOrchExec, map[string]interface{}{
		"env": o.env, "action": action, "status": "executed", "source": source,
	})
	o.writeProof(proof.EventSystemStable, map[string]interface{}{
		"env": o.env, "recovery_action": action, "status": "stable",
	})

	return Result{
		ActionExecuted: action, Success: true, Timestamp: timestamp,
		Source: source, Details: details,
	}
}

// ValidateAndExecute routes a numeric action code through the same
// centralized gate as ExecuteAction.
func (o *SafeOrchestrator) ValidateAndExecute(actionIndexValue int, context map[string]interface{}, source string) Result {
	actionName, ok := actionIndex[actionIndexValue]
	if !ok {
		actionName = "noop"
	}
	return o.ExecuteAction(actionName, context, source)
}

// handlerArgs is the unexported parameter type every per-action handler
// takes, sealing the dispatch surface to this package.
type handlerArgs struct {
	context map[string]interface{}
}

func stringFromContext(ctx map[string]interface{}, key, fallback string) string {
	if v, ok := ctx[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intFromContext(ctx map[string]interface{}, key string, fallback int) int {
	switch v := ctx[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func (o *SafeOrchestrator) handleRestart(a handlerArgs) (map[string]interface{}, error) {
	appName := stringFromContext(a.context, "app_name", "unknown")
	return map[string]interface{}{
		"action":        "restart",
		"app_name":      appName,
		"details":       "service " + appName + " restarted successfully",
		"recovery_time": "15s",
	}, nil
}

func (o *SafeOrchestrator) handleScaleUp(a handlerArgs) (map[string]interface{}, error) {
	appName := stringFromContext(a.context, "app_name", "unknown")
	before := intFromContext(a.context, "replicas", 1)
	after := before + 1
	if after > 5 {
		after = 5
	}
	return map[string]interface{}{
		"action":           "scale_up",
		"app_name":         appName,
		"replicas_before":  before,
		"replicas_after":   after,
	}, nil
}

func (o *SafeOrchestrator) handleScaleDown(a handlerArgs) (map[string]interface{}, error) {
	appName := stringFromContext(a.context, "app_name", "unknown")
	before := intFromContext(a.context, "replicas", 2)
	after := before - 1
	if after < 1 {
		after = 1
	}
	return map[string]interface{}{
		"action":          "scale_down",
		"app_name":        appName,
		"replicas_before": before,
		"replicas_after":  after,
	}, nil
}

func (o *SafeOrchestrator) handleRollback(a handlerArgs) (map[string]interface{}, error) {
	appName := stringFromContext(a.context, "app_name", "unknown")
	return map[string]interface{}{
		"action":        "rollback",
		"app_name":      appName,
		"details":       "rolled back " + appName + " to previous stable version",
		"rollback_time": "45s",
	}, nil
}

func (o *SafeOrchestrator) handleNoop(a handlerArgs) (map[string]interface{}, error) {
	return map[string]interface{}{
		"action":  "noop",
		"details": "no action taken - system monitoring continues",
	}, nil
}
