package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProcessedStore_MarkProcessed_IsProcessed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryProcessedStore()
	defer store.Close()

	processed, err := store.IsProcessed(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.MarkProcessed(ctx, "pay-1", time.Minute))

	processed, err = store.IsProcessed(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, processed)

	// Другие id не затронуты
	processed, err = store.IsProcessed(ctx, "pay-2")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestMemoryProcessedStore_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryProcessedStore()
	defer store.Close()

	require.NoError(t, store.MarkProcessed(ctx, "pay-1", 10*time.Millisecond))

	processed, err := store.IsProcessed(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, processed)

	time.Sleep(30 * time.Millisecond)

	processed, err = store.IsProcessed(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, processed, "record must expire after ttl")
}

func TestMemoryProcessedStore_IdempotentMarkProcessed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryProcessedStore()
	defer store.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.MarkProcessed(ctx, "pay-1", time.Minute))
	}

	processed, err := store.IsProcessed(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, processed)
}
