package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"safeping/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverNotificationState prefers Redis and falls back to process memory
// when Redis is unreachable, probing the primary again after a minute.
// Alert bookkeeping is advisory, so degraded fidelity beats a hard failure.
type FailoverNotificationState struct {
	primary  domain.NotificationState
	fallback domain.NotificationState
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex // guards lastCheck; handlers run concurrently
	lastCheck time.Time
}

func NewFailoverNotificationState(primary, fallback domain.NotificationState, logger *zerolog.Logger) *FailoverNotificationState {
	return &FailoverNotificationState{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverNotificationState) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary notification state failed, falling back to memory")
	r.isDown.Store(true)
	r.touchCheck()
}

func (r *FailoverNotificationState) touchCheck() {
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// recoveryDue reports whether enough time has passed to probe the primary
// again.
func (r *FailoverNotificationState) recoveryDue() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > time.Minute
}

func (r *FailoverNotificationState) LastShown(ctx context.Context, tag string) (time.Time, bool, error) {
	if !r.isDown.Load() {
		at, ok, err := r.primary.LastShown(ctx, tag)
		if err == nil {
			return at, ok, nil
		}
		r.markDown(err)
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && r.recoveryDue() {
		at, ok, err := r.primary.LastShown(ctx, tag)
		if err == nil {
			r.isDown.Store(false)
			return at, ok, nil
		}
		r.touchCheck()
	}

	return r.fallback.LastShown(ctx, tag)
}

func (r *FailoverNotificationState) MarkShown(ctx context.Context, tag string, at time.Time) error {
	if !r.isDown.Load() {
		err := r.primary.MarkShown(ctx, tag, at)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.MarkShown(ctx, tag, at)
}

func (r *FailoverNotificationState) ClearTag(ctx context.Context, tag string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearTag(ctx, tag)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.ClearTag(ctx, tag)
}

func (r *FailoverNotificationState) CheckRateLimit(ctx context.Context, tag string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, tag, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.markDown(err)
	}

	return r.fallback.CheckRateLimit(ctx, tag, limit, window)
}
