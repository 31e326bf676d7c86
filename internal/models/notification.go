package models

import (
	"encoding/json"
	"time"
)

// Notification actions offered on every safety alert.
const (
	ActionCheckIn = "check-in"
	ActionView    = "view"
)

// DefaultAlertTag groups alerts that carry no explicit tag.
const DefaultAlertTag = "safety-alert"

// Vibration patterns in milliseconds, on/off alternating. The urgent pattern
// escalates to five pulses.
var (
	VibrationNormal = []int{200, 100, 200}
	VibrationUrgent = []int{400, 100, 400, 100, 400}
)

// IntentData carries the routing hints attached to a push payload.
type IntentData struct {
	URL        string `json:"url,omitempty"`
	IncidentID string `json:"incidentId,omitempty"`
}

// NotificationIntent is the parsed form of one inbound push payload. It is
// never persisted; it exists only while the alert is shown and handled.
type NotificationIntent struct {
	Title  string     `json:"title"`
	Body   string     `json:"body"`
	Urgent bool       `json:"urgent"`
	Tag    string     `json:"tag"`
	Data   IntentData `json:"data"`
}

// FallbackTitle is used when a push body is not valid JSON.
const FallbackTitle = "SafePing Alert"

// ParseIntent decodes a push body into an intent. A body that is not a JSON
// object degrades to a plain-text alert carrying the raw bytes; the alert is
// never dropped.
func ParseIntent(body []byte) NotificationIntent {
	var intent NotificationIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return NotificationIntent{Title: FallbackTitle, Body: string(body)}
	}
	if intent.Title == "" {
		intent.Title = FallbackTitle
	}
	return intent
}

// Vibration returns the vibration pattern for this intent's urgency.
func (i NotificationIntent) Vibration() []int {
	if i.Urgent {
		return VibrationUrgent
	}
	return VibrationNormal
}

// EffectiveTag returns the dedup/group tag, defaulting when unset.
func (i NotificationIntent) EffectiveTag() string {
	if i.Tag == "" {
		return DefaultAlertTag
	}
	return i.Tag
}

// AlertAction is one actionable choice on a displayed alert.
type AlertAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Alert is the fully resolved platform notification handed to the sink.
type Alert struct {
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	Tag       string        `json:"tag"`
	Renotify  bool          `json:"renotify"`
	Silent    bool          `json:"silent"`
	Vibration []int         `json:"vibration,omitempty"`
	Actions   []AlertAction `json:"actions,omitempty"`
	Data      IntentData    `json:"data"`
}

// Window is one connected application window known to the agent.
type Window struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	FocusedAt time.Time `json:"focused_at"`
}
