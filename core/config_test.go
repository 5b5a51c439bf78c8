package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 5.0, cfg.LoopInterval)
	assert.True(t, cfg.FreezeMode)
	assert.Equal(t, 50, cfg.Memory.MaxDecisions)
	assert.Equal(t, 10, cfg.Memory.MaxStatesPerApp)
	assert.Equal(t, 0.7, cfg.Arbitrator.ConfidenceThreshold)
}

func TestNewConfig_OptionsOverrideDefaults(t *testing.T) {
	cfg, err := NewConfig(WithEnv("prod"), WithLoopInterval(2.5))
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 2.5, cfg.LoopInterval)
}

// TestConfigPrecedence_OptionOverridesEnv verifies property 7 from the
// runtime's testable properties: a functional Option wins over the same
// field set by an environment variable, which wins over the struct default.
func TestConfigPrecedence_OptionOverridesEnv(t *testing.T) {
	os.Setenv("AGENTRUNTIME_ENV", "stage")
	defer os.Unsetenv("AGENTRUNTIME_ENV")

	cfgEnvOnly, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "stage", cfgEnvOnly.Env)

	cfgWithOption, err := NewConfig(WithEnv("prod"))
	require.NoError(t, err)
	assert.Equal(t, "prod", cfgWithOption.Env)
}

func TestNewConfig_InvalidEnvRejected(t *testing.T) {
	_, err := NewConfig(WithEnv("staging"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadArbitratorThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Arbitrator.ConfidenceThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveLoopInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoopInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestWithAdvisorBreaker(t *testing.T) {
	cfg, err := NewConfig(WithAdvisorBreaker(5, 45*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Advisor.MaxFailures)
	assert.Equal(t, 45*time.Second, cfg.Advisor.Cooldown)
}

func TestWithGovernanceCooldown(t *testing.T) {
	cfg, err := NewConfig(WithGovernanceCooldown("restart", 90))
	require.NoError(t, err)
	assert.Equal(t, 90.0, cfg.Governance.CooldownPeriods["restart"])
}

func TestProductionLogger_WithComponent(t *testing.T) {
	base := NewProductionLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}, DevelopmentConfig{}, "agentruntime")
	cal, ok := base.(ComponentAwareLogger)
	require.True(t, ok)

	scoped := cal.WithComponent("governance")
	require.NotNil(t, scoped)
	// Should not panic and should accept structured fields.
	scoped.Info("evaluating action", map[string]interface{}{"action": "restart"})
}
