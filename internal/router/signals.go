package router

import (
	"net/http"

	"safeping/internal/models"
)

// Signal is the closed set of host wake-ups the agent responds to. Each
// variant carries its own payload; Dispatch is exhaustive over them.
type Signal interface {
	Kind() string
}

// InstallSignal asks for the asset cache to be populated.
type InstallSignal struct{}

// ActivateSignal prunes stale cache generations and takes over windows.
type ActivateSignal struct{}

// FetchSignal is one asset request to answer cache-first.
type FetchSignal struct {
	W http.ResponseWriter
	R *http.Request
}

// SyncSignal is a connectivity-restoration delivery for one registered tag.
type SyncSignal struct {
	Tag string
}

// PushSignal carries a raw server push body.
type PushSignal struct {
	Body []byte
}

// NotificationActionSignal is the user's choice on a displayed alert.
type NotificationActionSignal struct {
	Action string
	Tag    string
	Data   models.IntentData
}

// MessageSignal is one inter-context message from an application window.
type MessageSignal struct {
	Message models.WindowMessage
}

func (InstallSignal) Kind() string            { return "install" }
func (ActivateSignal) Kind() string           { return "activate" }
func (FetchSignal) Kind() string              { return "fetch" }
func (SyncSignal) Kind() string               { return "sync" }
func (PushSignal) Kind() string               { return "push" }
func (NotificationActionSignal) Kind() string { return "notification-action" }
func (MessageSignal) Kind() string            { return "message" }

// Outcome reports how a dispatched signal ended. Err is recorded for the
// caller's logs; it never propagates as a crash.
type Outcome struct {
	Signal string
	Err    error
}
