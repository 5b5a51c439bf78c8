package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteAction_DevAllowsRestartAndDispatches(t *testing.T) {
	o := New(Config{Env: "dev"}, nil)
	result := o.ExecuteAction("restart", map[string]interface{}{"app_name": "demo-api"}, "")
	require.True(t, result.Success)
	assert.Equal(t, "restart", result.ActionExecuted)
	assert.Equal(t, "15s", result.Details["recovery_time"])
}

func TestExecuteAction_ProdRefusesRestartAndDefaultsToNoop(t *testing.T) {
	o := New(Config{Env: "prod"}, nil)
	result := o.ExecuteAction("restart", map[string]interface{}{"app_name": "demo-api"}, "")
	assert.True(t, result.Success)
	assert.True(t, result.SafetyOverride)
	assert.Equal(t, "noop", result.ActionExecuted)
}

func TestExecuteAction_ScaleUpBoundsAtFiveReplicas(t *testing.T) {
	o := New(Config{Env: "dev"}, nil)
	result := o.ExecuteAction("scale_up", map[string]interface{}{"app_name": "demo-api", "replicas": 5}, "")
	require.True(t, result.Success)
	assert.Equal(t, 5, result.Details["replicas_after"])
}

func TestExecuteAction_ScaleDownFloorsAtOneReplica(t *testing.T) {
	o := New(Config{Env: "dev"}, nil)
	result := o.ExecuteAction("scale_down", map[string]interface{}{"app_name": "demo-api", "replicas": 1}, "")
	require.True(t, result.Success)
	assert.Equal(t, 1, result.Details["replicas_after"])
}

func TestExecuteAction_DemoModeBlocksNonIntakeSource(t *testing.T) {
	o := New(Config{Env: "dev", DemoMode: true}, nil)
	result := o.ExecuteAction("restart", nil, "manual_call")
	assert.False(t, result.Success)
	assert.True(t, result.DemoModeBlocked)
	assert.Equal(t, "noop", result.ActionExecuted)
}

func TestExecuteAction_DemoModeAllowsIntakeSource(t *testing.T) {
	o := New(Config{Env: "dev", DemoMode: true}, nil)
	result := o.ExecuteAction("restart", map[string]interface{}{"app_name": "demo-api"}, "rl_decision_layer")
	assert.True(t, result.Success)
	assert.Equal(t, "restart", result.ActionExecuted)
}

func TestExecuteAction_DemoModeRefusesBlocklistedAction(t *testing.T) {
	o := New(Config{Env: "dev", DemoMode: true}, nil)
	result := o.ExecuteAction("rollback", map[string]interface{}{"app_name": "demo-api"}, "rl_decision_layer")
	assert.False(t, result.Success)
	assert.True(t, result.SafetyRefused)
}

func TestExecuteAction_DemoModeRefusesOffAllowlistAction(t *testing.T) {
	o := New(Config{Env: "dev", DemoMode: true}, nil)
	result := o.ExecuteAction("delete_data", nil, "rl_decision_layer")
	assert.False(t, result.Success)
	assert.True(t, result.SafetyRefused)
}

func TestExecuteAction_UnknownActionDefaultsToNoop(t *testing.T) {
	o := New(Config{Env: "dev"}, nil)
	result := o.ExecuteAction("something_unrecognized", nil, "")
	assert.True(t, result.Success)
	assert.Equal(t, "noop", result.ActionExecuted)
}

func TestValidateAndExecute_RoutesNumericCodeThroughSameGates(t *testing.T) {
	o := New(Config{Env: "prod"}, nil)
	result := o.ValidateAndExecute(1, map[string]interface{}{"app_name": "demo-api"}, "")
	assert.True(t, result.SafetyOverride, "restart (code 1) should be refused by the prod environment gate")
}

func TestValidateAndExecute_UnknownCodeDefaultsToNoop(t *testing.T) {
	o := New(Config{Env: "dev"}, nil)
	result := o.ValidateAndExecute(99, nil, "")
	assert.Equal(t, "noop", result.ActionExecuted)
}

func TestNew_DefaultsEnvToDev(t *testing.T) {
	o := New(Config{}, nil)
	assert.Equal(t, "dev", o.env)
}

func TestExecuteAction_TimestampReflectsInjectedClock(t *testing.T) {
	o := New(Config{Env: "dev"}, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return fixed }
	result := o.ExecuteAction("noop", nil, "")
	assert.Equal(t, fixed, result.Timestamp)
}
