package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Collection names the two durable queues. Queued items live in exactly one
// collection; emergencies are kept apart so they can be drained independently
// of routine check-ins.
type Collection string

const (
	CollectionCheckins    Collection = "pending_checkins"
	CollectionEmergencies Collection = "pending_emergencies"
)

// Valid reports whether c is one of the two known collections.
func (c Collection) Valid() bool {
	return c == CollectionCheckins || c == CollectionEmergencies
}

// SyncTag returns the connectivity-restoration tag that drains this collection.
func (c Collection) SyncTag() string {
	if c == CollectionEmergencies {
		return SyncTagEmergency
	}
	return SyncTagCheckin
}

// CollectionForTag maps a sync tag back to its collection.
func CollectionForTag(tag string) (Collection, bool) {
	switch tag {
	case SyncTagCheckin:
		return CollectionCheckins, true
	case SyncTagEmergency:
		return CollectionEmergencies, true
	}
	return "", false
}

const (
	SyncTagCheckin   = "checkin-sync"
	SyncTagEmergency = "emergency-sync"
)

// QueuedSubmission is one offline-queued check-in or emergency report.
// Immutable once stored; it leaves the store only on confirmed delivery.
type QueuedSubmission struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	AuthToken string          `json:"authToken"`
	Timestamp int64           `json:"timestamp"`
}

// NewSubmissionID builds an id with a millisecond-timestamp prefix so ids
// sort roughly by enqueue time, and a random suffix to break collisions.
func NewSubmissionID(now time.Time) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// DrainSummary reports one pass over a collection.
type DrainSummary struct {
	Collection Collection `json:"collection"`
	Attempted  int        `json:"attempted"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	DeadLetter int        `json:"dead_letter"`
}

// DeadLetter is a submission retired after exhausting its retry budget.
type DeadLetter struct {
	ID         string          `json:"id"`
	Collection Collection      `json:"collection"`
	Data       json.RawMessage `json:"data"`
	AuthToken  string          `json:"authToken"`
	Timestamp  int64           `json:"timestamp"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error"`
	RetiredAt  time.Time       `json:"retired_at"`
}

// SyncRegistration is an outstanding connectivity-restoration request. It is
// persisted so a pending drain survives the agent restarting while offline.
type SyncRegistration struct {
	Tag          string    `json:"tag"`
	RegisteredAt time.Time `json:"registered_at"`
}
