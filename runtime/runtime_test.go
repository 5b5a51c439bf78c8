package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonomic-run/agentruntime/advisor"
	"github.com/autonomic-run/agentruntime/arbitrate"
	"github.com/autonomic-run/agentruntime/fsm"
	"github.com/autonomic-run/agentruntime/governance"
	"github.com/autonomic-run/agentruntime/memory"
	"github.com/autonomic-run/agentruntime/orchestrator"
	"github.com/autonomic-run/agentruntime/perception"
	"github.com/autonomic-run/agentruntime/restraint"
)

// fakeAdapter lets a test hand the runtime one canned perception per cycle.
type fakeAdapter struct {
	perceptions []perception.Perception
}

func (f *fakeAdapter) Perceive(ctx context.Context) ([]perception.Perception, error) {
	out := f.perceptions
	f.perceptions = nil
	return out, nil
}

func newTestDeps(t *testing.T, env string, advisorURL string) Dependencies {
	t.Helper()
	mem := memory.New("agent-test", 50, 10)
	layer := perception.NewLayer("agent-test")
	fsmMgr := fsm.New("agent-test", nil)
	gov := governance.New(governance.Config{Env: env})
	arb := arbitrate.New(0.7)
	orch := orchestrator.New(orchestrator.Config{Env: env, DemoMode: false}, nil)
	restr := restraint.New(restraint.DefaultConfig())

	var adv *advisor.Client
	if advisorURL != "" {
		adv = advisor.New(advisor.Config{BaseURL: advisorURL})
	}

	return Dependencies{
		Memory:       mem,
		Perception:   layer,
		Advisor:      adv,
		Restraint:    restr,
		Governance:   gov,
		Arbitrator:   arb,
		Orchestrator: orch,
		FSM:          fsmMgr,
	}
}

func healthPerception(data map[string]interface{}) perception.Perception {
	return perception.Perception{
		Type: perception.TypeHealthSignal, Source: "health_monitor",
		Data: data, Priority: perception.PriorityHigh, Timestamp: time.Now(),
	}
}

func TestHandleExternalEvent_ReturnsDecisionOnNormalPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"action":"restart","confidence":0.95,"source":"rl_brain"}`))
	}))
	defer server.Close()

	deps := newTestDeps(t, "dev", server.URL)
	rt := New("agent-test", "dev", time.Second, deps)

	result, err := rt.HandleExternalEvent(context.Background(), map[string]interface{}{
		"app_id": "demo-api", "app_name": "demo-api", "event_type": "failure_detected",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result["status"])

	decision := result["decision"].(map[string]interface{})
	assert.Equal(t, "restart", decision["action_name"])

	action := result["action_result"].(map[string]interface{})
	assert.Equal(t, "executed", action["status"])
}

func TestHandleExternalEvent_RejectsAfterShutdownRequested(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)
	rt.RequestShutdown()

	_, err := rt.HandleExternalEvent(context.Background(), map[string]interface{}{"app_id": "x"})
	require.Error(t, err)
}

func TestDecide_MemoryOverrideRefusesAfterRepeatedFailures(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)

	for i := 0; i < 3; i++ {
		deps.Memory.RememberDecision("rl_decision", map[string]interface{}{"action": "restart"}, "failure",
			map[string]interface{}{"app_id": "demo-api"})
	}

	v := validatedData{AppID: "demo-api", AppName: "demo-api", MemSignals: deps.Memory.GetMemoryContext("demo-api", 0)}
	d := rt.decide(context.Background(), v)

	assert.Equal(t, "refused", d.Status)
	assert.True(t, d.OverrideApplied)
	assert.Equal(t, "noop", d.ActionName)
}

func TestDecide_SelfRestraintBlocksOnConflictingHealthSignals(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)

	v := validatedData{
		AppID: "demo-api", AppName: "demo-api",
		Health: &restraint.HealthSignals{CPUHigh: true, CPULow: true},
	}
	d := rt.decide(context.Background(), v)

	assert.Equal(t, "blocked", d.Status)
	assert.True(t, d.SelfBlocked)
	assert.Equal(t, fsm.Blocked, deps.FSM.Current())
}

func TestDecide_LowAdvisorConfidenceFallsBackToRuleBasedDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"action":"scale_down","confidence":0.1,"source":"rl_brain"}`))
	}))
	defer server.Close()

	deps := newTestDeps(t, "dev", server.URL)
	rt := New("agent-test", "dev", time.Second, deps)

	v := validatedData{
		AppID: "demo-api", AppName: "demo-api",
		Health: &restraint.HealthSignals{CPUHigh: true},
	}
	d := rt.decide(context.Background(), v)

	assert.Equal(t, "rule_based", d.Source)
	assert.Equal(t, "scale_up", d.ActionName)
}

func TestDecide_ConfidentAdvisorDecisionPassesUncertaintyCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"action":"rollback","confidence":0.75,"source":"rl_brain"}`))
	}))
	defer server.Close()

	deps := newTestDeps(t, "dev", server.URL)
	rt := New("agent-test", "dev", time.Second, deps)

	// confidence 0.75 clears the 0.7 arbitration threshold (rl_brain wins)
	// but leaves uncertainty (1-0.75=0.25) under the 0.4 cap, so this case
	// exercises the non-uncertain path; a below-threshold confidence drives
	// the arbitrator to the rule-based branch instead, covered above.
	v := validatedData{AppID: "demo-api", AppName: "demo-api"}
	d := rt.decide(context.Background(), v)
	assert.Equal(t, "decided", d.Status)
}

func TestDecide_ShouldObserveInsteadOfActReturnsObserveStatus(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)

	v := validatedData{
		AppID: "demo-api", AppName: "demo-api",
		MemSignals: memory.Signals{InstabilityScore: 55},
	}
	d := rt.decide(context.Background(), v)

	assert.Equal(t, "observe", d.Status)
	assert.Equal(t, "observe", d.ActionName)
}

func TestEnforce_ShortCircuitsOnAlreadyRefusedDecision(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)

	d := decision{ActionName: "noop", Status: "refused", Reason: "recent failures"}
	enf := rt.enforce(context.Background(), d)

	assert.False(t, enf.Allowed)
	assert.Equal(t, "self_restraint", enf.BlockType)
}

func TestEnforce_GovernanceBlocksIneligibleActionInProd(t *testing.T) {
	deps := newTestDeps(t, "prod", "")
	rt := New("agent-test", "prod", time.Second, deps)

	d := decision{ActionName: "restart", AppName: "demo-api", Status: "decided", Confidence: 0.9}
	enf := rt.enforce(context.Background(), d)

	assert.False(t, enf.Allowed)
	assert.Equal(t, "governance", enf.BlockType)
	assert.Equal(t, fsm.Blocked, deps.FSM.Current())
}

func TestAct_RefusedEnforcementNeverReachesOrchestrator(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)

	enf := enforcement{Allowed: false, Reason: "blocked upstream", BlockType: "governance"}
	out := rt.act(context.Background(), enf)

	assert.Equal(t, "refused", out.Status)
	assert.Equal(t, "noop", out.Action)
}

func TestAct_AllowedEnforcementDispatchesThroughOrchestrator(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)

	enf := enforcement{
		Allowed:  true,
		Decision: decision{ActionName: "restart", RLAction: 1, AppName: "demo-api", Source: "rl_decision_layer"},
	}
	out := rt.act(context.Background(), enf)

	assert.Equal(t, "executed", out.Status)
	assert.Equal(t, "restart", out.Action)
}

func TestObserve_RecordsAppStateExceptForUnknownApp(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)

	rt.observe(context.Background(), actOutcome{Status: "executed", Timestamp: time.Now()}, decision{AppID: "demo-api"})
	_, ok := deps.Memory.AppCurrentState("demo-api")
	assert.True(t, ok)

	rt.observe(context.Background(), actOutcome{Status: "executed", Timestamp: time.Now()}, decision{AppID: "unknown"})
	_, ok = deps.Memory.AppCurrentState("unknown")
	assert.False(t, ok)
}

func TestRunCycle_FullCycleWithHealthySignalReachesIdle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"action":"noop","confidence":0.9,"source":"rl_brain"}`))
	}))
	defer server.Close()

	deps := newTestDeps(t, "dev", server.URL)
	deps.Perception.RegisterAdapter(&fakeAdapter{perceptions: []perception.Perception{
		healthPerception(map[string]interface{}{"status": "ok", "cpu": 30.0, "memory": 40.0, "error_rate": 0.0, "app_id": "demo-api"}),
	}})
	rt := New("agent-test", "dev", time.Second, deps)

	rt.mu.Lock()
	rt.runCycle(context.Background(), nil)
	rt.mu.Unlock()

	assert.Equal(t, fsm.Idle, deps.FSM.Current())
	require.NotNil(t, rt.lastDecision)
	assert.Equal(t, "ok", rt.lastDecision["status"])
}

func TestRunCycle_ObserveInsteadOfActStillReachesIdle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"action":"noop","confidence":0.9,"source":"rl_brain"}`))
	}))
	defer server.Close()

	deps := newTestDeps(t, "dev", server.URL)

	// Two failures and one success out of three decisions for demo-api
	// gives an instability score of 66 (2/3*100): above
	// ShouldObserveInsteadOfAct's threshold of 50, but below both
	// EvaluateBlock's default MaxInstabilityScore (75) and
	// ShouldOverrideDecision's instability cutoff (>66), and well under
	// its failure threshold of 3 -- so this cycle reaches the
	// observe-instead-of-act branch rather than being refused or blocked
	// earlier in decide().
	deps.Memory.RememberDecision("rl_decision", map[string]interface{}{"action": "restart"}, "failure",
		map[string]interface{}{"app_id": "demo-api"})
	deps.Memory.RememberDecision("rl_decision", map[string]interface{}{"action": "scale_up"}, "failure",
		map[string]interface{}{"app_id": "demo-api"})
	deps.Memory.RememberDecision("rl_decision", map[string]interface{}{"action": "noop"}, "success",
		map[string]interface{}{"app_id": "demo-api"})

	deps.Perception.RegisterAdapter(&fakeAdapter{perceptions: []perception.Perception{
		{
			Type: perception.TypeRuntimeEvent, Source: "test",
			Data: map[string]interface{}{"app_id": "demo-api", "app_name": "demo-api"},
			Priority: perception.PriorityMedium, Timestamp: time.Now(),
		},
	}})
	rt := New("agent-test", "dev", time.Second, deps)

	rt.mu.Lock()
	rt.runCycle(context.Background(), nil)
	rt.mu.Unlock()

	require.NotNil(t, rt.lastDecision)
	decision := rt.lastDecision["decision"].(map[string]interface{})
	assert.Equal(t, "observe", decision["status"])
	assert.Equal(t, "observe", decision["action_name"])

	// Deciding has no direct edge to ObservingResults/Explaining/Idle, so
	// without the fix in decide()'s observe branch this cycle would leave
	// the FSM stuck at "deciding" forever instead of recovering to idle
	// through the legal Blocked->Idle edge.
	assert.Equal(t, fsm.Idle, deps.FSM.Current())
}

func TestRun_StopsPromptlyWhenShutdownIsRequestedBeforeFirstCycle(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", 50*time.Millisecond, deps)
	rt.RequestShutdown()

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after RequestShutdown")
	}
}

func TestRun_PersistsFSMSnapshotOnShutdown(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", 50*time.Millisecond, deps)
	rt.RequestShutdown()

	require.NoError(t, rt.Run(context.Background()))

	path := filepath.Join("logs", "agent", "agent_state_agent-test.json")
	_, err := fsm.LoadFromFile(path, "agent-test", nil)
	require.NoError(t, err)
}

func TestStatus_ReportsLoopCountAndCurrentState(t *testing.T) {
	deps := newTestDeps(t, "dev", "")
	rt := New("agent-test", "dev", time.Second, deps)

	status := rt.Status()
	assert.Equal(t, "agent-test", status["agent_id"])
	assert.Equal(t, string(fsm.Idle), status["current_state"])
}
