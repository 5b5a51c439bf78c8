package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.Exists(ctx, "scope:dev")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "scope:dev", `{"apps":["demo-api"]}`, time.Minute))

	val, err := store.Get(ctx, "scope:dev")
	require.NoError(t, err)
	assert.Equal(t, `{"apps":["demo-api"]}`, val)

	ok, err = store.Exists(ctx, "scope:dev")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "scope:dev", "stale", time.Nanosecond))
	time.Sleep(time.Millisecond)

	val, err := store.Get(ctx, "scope:dev")
	require.NoError(t, err)
	assert.Empty(t, val)

	ok, err := store.Exists(ctx, "scope:dev")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	require.NoError(t, store.Delete(ctx, "k"))

	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, val)
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "permanent", "v", 0))
	time.Sleep(time.Millisecond)

	val, err := store.Get(ctx, "permanent")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}
