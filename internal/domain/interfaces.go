package domain

import (
	"context"
	"time"

	"safeping/internal/models"
)

// Queue is the durable store surface the rest of the agent depends on.
type Queue interface {
	Enqueue(ctx context.Context, collection models.Collection, item *models.QueuedSubmission) error
	ListAll(ctx context.Context, collection models.Collection) ([]models.QueuedSubmission, error)
	Remove(ctx context.Context, collection models.Collection, id string) error
	Count(ctx context.Context, collection models.Collection) (int, error)
	RegisterSync(ctx context.Context, tag string) error
	PendingSyncTags(ctx context.Context) ([]models.SyncRegistration, error)
	ClearSync(ctx context.Context, tag string) error
	RecordAttempt(ctx context.Context, id, lastError string) (int, error)
	RetireToDeadLetter(ctx context.Context, collection models.Collection, item models.QueuedSubmission, attempts int, lastError string) error
}

// Drainer replays one collection against the submission endpoint.
type Drainer interface {
	Drain(ctx context.Context, collection models.Collection) (models.DrainSummary, error)
}

// AlertSink presents platform notifications. Implementations must treat a
// repeated tag with Renotify set as a fresh alert, not a silent replacement.
type AlertSink interface {
	Show(ctx context.Context, alert models.Alert) error
	Close(ctx context.Context, tag string) error
}

// WindowRegistry tracks the application windows attached to the agent.
type WindowRegistry interface {
	Windows(ctx context.Context) ([]models.Window, error)
	// FocusAndPost focuses an existing window and forwards an action message.
	FocusAndPost(ctx context.Context, windowID, action string, data models.IntentData) error
	// OpenWindow opens exactly one new window at the given location.
	OpenWindow(ctx context.Context, url string) error
}

// Presenter turns push payloads into alerts and routes user choices.
type Presenter interface {
	Display(ctx context.Context, intent models.NotificationIntent) error
	Route(ctx context.Context, action string, data models.IntentData) error
}

// NotificationState keeps the cross-wakeup alert bookkeeping (renotify tags,
// re-alert rate limits). Best effort; losing it only risks a duplicate alert.
type NotificationState interface {
	LastShown(ctx context.Context, tag string) (time.Time, bool, error)
	MarkShown(ctx context.Context, tag string, at time.Time) error
	ClearTag(ctx context.Context, tag string) error
	CheckRateLimit(ctx context.Context, tag string, limit int, window time.Duration) (bool, error)
}

// EventPublisher fans agent events out to in-process consumers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
