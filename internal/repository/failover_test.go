package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailoverNotificationState(t *testing.T) {
	// A nil redis client makes every primary call fail.
	primary := NewRedisNotificationState(nil, time.Hour)
	fallback := NewMemoryNotificationState(time.Hour)
	logger := zerolog.Nop()

	repo := NewFailoverNotificationState(primary, fallback, &logger)
	ctx := context.Background()

	shown := time.Now()
	require.NoError(t, repo.MarkShown(ctx, "safety-alert", shown))

	at, ok, err := repo.LastShown(ctx, "safety-alert")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, shown, at)

	allowed, err := repo.CheckRateLimit(ctx, "safety-alert", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, repo.ClearTag(ctx, "safety-alert"))
	_, ok, err = repo.LastShown(ctx, "safety-alert")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailoverPrefersHealthyPrimary(t *testing.T) {
	primary := NewMemoryNotificationState(time.Hour)
	fallback := NewMemoryNotificationState(time.Hour)
	logger := zerolog.Nop()

	repo := NewFailoverNotificationState(primary, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, repo.MarkShown(ctx, "t1", time.Now()))

	// The write must have landed in the primary, not the fallback.
	_, ok, err := primary.LastShown(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = fallback.LastShown(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailoverConcurrentAccess(t *testing.T) {
	// A failing primary drives every call through markDown and the recovery
	// probe from many goroutines at once.
	primary := NewRedisNotificationState(nil, time.Hour)
	fallback := NewMemoryNotificationState(time.Hour)
	logger := zerolog.Nop()

	repo := NewFailoverNotificationState(primary, fallback, &logger)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := fmt.Sprintf("t%d", i%4)
			_ = repo.MarkShown(ctx, tag, time.Now())
			_, _, _ = repo.LastShown(ctx, tag)
			_, _ = repo.CheckRateLimit(ctx, tag, 5, time.Minute)
			_ = repo.ClearTag(ctx, tag)
		}(i)
	}
	wg.Wait()
}
