package models

import "encoding/json"

// Inter-context message types sent by application windows.
const (
	MessageSkipWaiting    = "SKIP_WAITING"
	MessageQueueCheckin   = "QUEUE_OFFLINE_CHECKIN"
	MessageQueueEmergency = "QUEUE_EMERGENCY"
)

// QueuePayload is the body of a queue-while-offline message.
type QueuePayload struct {
	Data      json.RawMessage `json:"data"`
	AuthToken string          `json:"authToken"`
}

// WindowMessage is the wire form of one inter-context message.
type WindowMessage struct {
	Type      string        `json:"type"`
	CheckIn   *QueuePayload `json:"checkin,omitempty"`
	Emergency *QueuePayload `json:"emergency,omitempty"`
}
