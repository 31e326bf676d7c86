package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryNotificationState is the in-process fallback for alert bookkeeping.
// It lasts only as long as the agent process.
type MemoryNotificationState struct {
	tags       sync.Map
	rateLimits sync.Map
	ttl        time.Duration
}

func NewMemoryNotificationState(ttl time.Duration) *MemoryNotificationState {
	return &MemoryNotificationState{
		ttl: ttl,
	}
}

type memoryTagEntry struct {
	at        time.Time
	expiresAt time.Time
}

func (r *MemoryNotificationState) LastShown(ctx context.Context, tag string) (time.Time, bool, error) {
	val, ok := r.tags.Load(tag)
	if !ok {
		return time.Time{}, false, nil
	}
	entry := val.(*memoryTagEntry)
	if r.ttl > 0 && time.Now().After(entry.expiresAt) {
		r.tags.Delete(tag)
		return time.Time{}, false, nil
	}
	return entry.at, true, nil
}

func (r *MemoryNotificationState) MarkShown(ctx context.Context, tag string, at time.Time) error {
	r.tags.Store(tag, &memoryTagEntry{at: at, expiresAt: time.Now().Add(r.ttl)})
	return nil
}

func (r *MemoryNotificationState) ClearTag(ctx context.Context, tag string) error {
	r.tags.Delete(tag)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryNotificationState) CheckRateLimit(ctx context.Context, tag string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(tag)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(tag, entry)
	return entry.count <= limit, nil
}
