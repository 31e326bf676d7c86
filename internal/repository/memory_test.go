package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNotificationState(t *testing.T) {
	repo := NewMemoryNotificationState(time.Hour)
	ctx := context.Background()

	shown := time.Now()
	require.NoError(t, repo.MarkShown(ctx, "safety-alert", shown))

	at, ok, err := repo.LastShown(ctx, "safety-alert")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, shown, at)

	require.NoError(t, repo.ClearTag(ctx, "safety-alert"))
	_, ok, err = repo.LastShown(ctx, "safety-alert")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryNotificationStateTTL(t *testing.T) {
	repo := NewMemoryNotificationState(time.Millisecond)
	ctx := context.Background()

	require.NoError(t, repo.MarkShown(ctx, "t1", time.Now()))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := repo.LastShown(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRateLimit(t *testing.T) {
	repo := NewMemoryNotificationState(time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := repo.CheckRateLimit(ctx, "rl", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := repo.CheckRateLimit(ctx, "rl", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}
