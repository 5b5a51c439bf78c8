package perception

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	perceptions []Perception
	err         error
}

func (f *fakeAdapter) Perceive(ctx context.Context) ([]Perception, error) {
	return f.perceptions, f.err
}

func TestLayer_PerceiveAggregatesAllAdapters(t *testing.T) {
	layer := NewLayer("agent-1")
	layer.RegisterAdapter(&fakeAdapter{perceptions: []Perception{{ID: "a", Priority: PriorityLow}}})
	layer.RegisterAdapter(&fakeAdapter{perceptions: []Perception{{ID: "b", Priority: PriorityCritical}}})

	all := layer.Perceive(context.Background())
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID, "critical perception should sort first")
	assert.Equal(t, "a", all[1].ID)
}

func TestLayer_PerceiveIsStableAmongEqualPriority(t *testing.T) {
	layer := NewLayer("agent-1")
	layer.RegisterAdapter(&fakeAdapter{perceptions: []Perception{{ID: "first", Priority: PriorityMedium}}})
	layer.RegisterAdapter(&fakeAdapter{perceptions: []Perception{{ID: "second", Priority: PriorityMedium}}})

	all := layer.Perceive(context.Background())
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].ID)
	assert.Equal(t, "second", all[1].ID)
}

func TestLayer_AdapterErrorIsSkippedNotFatal(t *testing.T) {
	layer := NewLayer("agent-1")
	var caughtIndex int
	var caughtErr error
	layer.OnAdapterError(func(i int, err error) {
		caughtIndex = i
		caughtErr = err
	})
	layer.RegisterAdapter(&fakeAdapter{err: errors.New("boom")})
	layer.RegisterAdapter(&fakeAdapter{perceptions: []Perception{{ID: "ok", Priority: PriorityHigh}}})

	all := layer.Perceive(context.Background())
	require.Len(t, all, 1)
	assert.Equal(t, "ok", all[0].ID)
	assert.Equal(t, 0, caughtIndex)
	assert.EqualError(t, caughtErr, "boom")
}

func TestLayer_HistoryIsBoundedToMaxHistory(t *testing.T) {
	layer := NewLayer("agent-1")
	layer.maxHistory = 3
	adapter := &fakeAdapter{}
	layer.RegisterAdapter(adapter)

	for i := 0; i < 5; i++ {
		adapter.perceptions = []Perception{{ID: string(rune('a' + i)), Priority: PriorityLow}}
		layer.Perceive(context.Background())
	}

	history := layer.RecentHistory(0)
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].ID)
	assert.Equal(t, "e", history[2].ID)
}

func TestLayer_ClearHistory(t *testing.T) {
	layer := NewLayer("agent-1")
	layer.RegisterAdapter(&fakeAdapter{perceptions: []Perception{{ID: "a", Priority: PriorityLow}}})
	layer.Perceive(context.Background())
	layer.ClearHistory()
	assert.Empty(t, layer.RecentHistory(0))
}

func TestFilterByType(t *testing.T) {
	all := []Perception{
		{Type: TypeRuntimeEvent},
		{Type: TypeHealthSignal},
		{Type: TypeRuntimeEvent},
	}
	filtered := FilterByType(all, TypeRuntimeEvent)
	assert.Len(t, filtered, 2)
}

func TestFilterByMinPriority(t *testing.T) {
	all := []Perception{{Priority: PriorityLow}, {Priority: PriorityCritical}, {Priority: PriorityMedium}}
	filtered := FilterByMinPriority(all, PriorityMedium)
	assert.Len(t, filtered, 2)
}

func TestHighestPriority(t *testing.T) {
	all := []Perception{{ID: "x", Priority: PriorityLow}, {ID: "y", Priority: PriorityCritical}}
	best, ok := HighestPriority(all)
	require.True(t, ok)
	assert.Equal(t, "y", best.ID)

	_, ok = HighestPriority(nil)
	assert.False(t, ok)
}

type fakeEventSource struct {
	events []map[string]interface{}
	err    error
}

func (f *fakeEventSource) RecentEvents(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	return f.events, f.err
}

func TestRuntimeEventAdapter_MapsKeywordsToPriority(t *testing.T) {
	src := &fakeEventSource{events: []map[string]interface{}{
		{"type": "deployment_failure"},
		{"type": "scale_request"},
		{"type": "routine_heartbeat"},
	}}
	adapter := NewRuntimeEventAdapter(src)
	perceptions, err := adapter.Perceive(context.Background())
	require.NoError(t, err)
	require.Len(t, perceptions, 3)
	assert.Equal(t, PriorityCritical, perceptions[0].Priority)
	assert.Equal(t, PriorityMedium, perceptions[1].Priority)
	assert.Equal(t, PriorityLow, perceptions[2].Priority)
}

func TestRuntimeEventAdapter_PropagatesSourceError(t *testing.T) {
	adapter := NewRuntimeEventAdapter(&fakeEventSource{err: errors.New("bus down")})
	_, err := adapter.Perceive(context.Background())
	assert.Error(t, err)
}

type fakeHealthSource struct {
	signals HealthSignals
	err     error
}

func (f *fakeHealthSource) CurrentHealth(ctx context.Context) (HealthSignals, error) {
	return f.signals, f.err
}

func TestHealthSignalAdapter_CriticalStatus(t *testing.T) {
	adapter := NewHealthSignalAdapter(&fakeHealthSource{signals: HealthSignals{Status: "critical"}})
	perceptions, err := adapter.Perceive(context.Background())
	require.NoError(t, err)
	require.Len(t, perceptions, 1)
	assert.Equal(t, PriorityCritical, perceptions[0].Priority)
}

func TestHealthSignalAdapter_HighErrorRateOverridesOKStatus(t *testing.T) {
	adapter := NewHealthSignalAdapter(&fakeHealthSource{signals: HealthSignals{Status: "healthy", ErrorRate: 0.2}})
	perceptions, _ := adapter.Perceive(context.Background())
	assert.Equal(t, PriorityHigh, perceptions[0].Priority)
}

func TestHealthSignalAdapter_DefaultsToInfoWhenNominal(t *testing.T) {
	adapter := NewHealthSignalAdapter(&fakeHealthSource{signals: HealthSignals{Status: "healthy", CPUPercent: 10}})
	perceptions, _ := adapter.Perceive(context.Background())
	assert.Equal(t, PriorityInfo, perceptions[0].Priority)
}

func TestHealthSignalAdapter_NilSourceProducesNothing(t *testing.T) {
	adapter := NewHealthSignalAdapter(nil)
	perceptions, err := adapter.Perceive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, perceptions)
}

func TestOnboardingInputAdapter_SkipsInvalidAndMissingAppID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "onboarding_requests.jsonl")
	adapter, err := NewOnboardingInputAdapter(path, nil)
	require.NoError(t, err)

	require.NoError(t, adapter.AddOnboardingRequest(map[string]interface{}{"app_id": "demo-api"}))
	require.NoError(t, appendRawLine(path, "not json"))
	require.NoError(t, appendRawLine(path, `{"no_app_id":true}`))

	adapter.readNewLines()
	perceptions, err := adapter.Perceive(context.Background())
	require.NoError(t, err)
	require.Len(t, perceptions, 1)
	assert.Equal(t, TypeOnboardingInput, perceptions[0].Type)
	assert.Equal(t, PriorityHigh, perceptions[0].Priority)
}

func TestOnboardingInputAdapter_DoesNotReprocessAlreadySeenLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "onboarding_requests.jsonl")
	adapter, err := NewOnboardingInputAdapter(path, nil)
	require.NoError(t, err)

	require.NoError(t, adapter.AddOnboardingRequest(map[string]interface{}{"app_id": "first"}))
	adapter.readNewLines()
	first, _ := adapter.Perceive(context.Background())
	require.Len(t, first, 1)

	// Re-reading with no new lines should surface nothing further.
	adapter.readNewLines()
	second, _ := adapter.Perceive(context.Background())
	assert.Empty(t, second)

	require.NoError(t, adapter.AddOnboardingRequest(map[string]interface{}{"app_id": "second"}))
	adapter.readNewLines()
	third, _ := adapter.Perceive(context.Background())
	require.Len(t, third, 1)
	assert.Equal(t, "second", third[0].Data["app_id"])
}

func TestOnboardingInputAdapter_StartStopWatchesFileForWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "onboarding_requests.jsonl")
	adapter, err := NewOnboardingInputAdapter(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, adapter.Start(ctx))
	defer adapter.Stop()

	require.NoError(t, adapter.AddOnboardingRequest(map[string]interface{}{"app_id": "watched-app"}))

	require.Eventually(t, func() bool {
		perceptions, _ := adapter.Perceive(context.Background())
		if len(perceptions) > 0 {
			return true
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func appendRawLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func TestSystemAlertAdapter_DrainsQueueEachCall(t *testing.T) {
	adapter := NewSystemAlertAdapter()
	adapter.AddAlert("disk_pressure", "disk above 90%", "critical")
	adapter.AddAlert("slow_response", "p99 elevated", "")

	perceptions, err := adapter.Perceive(context.Background())
	require.NoError(t, err)
	require.Len(t, perceptions, 2)
	assert.Equal(t, PriorityCritical, perceptions[0].Priority)
	assert.Equal(t, PriorityMedium, perceptions[1].Priority, "empty severity defaults to medium")

	drained, _ := adapter.Perceive(context.Background())
	assert.Empty(t, drained)
}
