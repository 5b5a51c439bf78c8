package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameworkError_Error(t *testing.T) {
	err := &FrameworkError{Op: "governance.Evaluate", Kind: KindGovernanceBlock, ID: "restart", Err: ErrTimeout}
	assert.Contains(t, err.Error(), "governance.Evaluate")
	assert.Contains(t, err.Error(), "restart")
}

func TestFrameworkError_Unwrap(t *testing.T) {
	wrapped := &FrameworkError{Op: "advisor.Decide", Kind: KindTransport, Err: ErrConnectionFailed}
	assert.True(t, errors.Is(wrapped, ErrConnectionFailed))
}

func TestIsIllegalTransition(t *testing.T) {
	err := NewFrameworkError("fsm.Transition", KindIllegalTransition, ErrIllegalTransition)
	assert.True(t, IsIllegalTransition(err))
	assert.False(t, IsIllegalTransition(errors.New("something else")))
}

func TestIsGovernanceBlock(t *testing.T) {
	err := NewFrameworkError("governance.Evaluate", KindGovernanceBlock, errors.New("cooldown_active"))
	assert.True(t, IsGovernanceBlock(err))
	assert.False(t, IsGovernanceBlock(NewFrameworkError("advisor.Decide", KindTransport, ErrTimeout)))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(NewFrameworkError("advisor.Decide", KindTransport, errors.New("dial tcp: timeout"))))
	assert.False(t, IsRetryable(NewFrameworkError("fsm.Transition", KindIllegalTransition, ErrIllegalTransition)))
}

func TestIsConfigurationError(t *testing.T) {
	require.True(t, IsConfigurationError(ErrInvalidConfiguration))
	require.True(t, IsConfigurationError(NewFrameworkError("Config.Validate", KindConfiguration, errors.New("bad"))))
}

func TestIsPersistenceError(t *testing.T) {
	assert.True(t, IsPersistenceError(NewFrameworkError("runtime.snapshot", KindPersistence, errors.New("disk full"))))
	assert.False(t, IsPersistenceError(ErrTimeout))
}
