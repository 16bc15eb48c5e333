package syncengine

import (
	"time"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/queue"
)

// EventType names a status change published by the engine.
type EventType string

const (
	// EventConnectivity is published when the engine observes a transition.
	EventConnectivity EventType = "connectivity"
	// EventPending is published when the pending count changes outside a drain.
	EventPending EventType = "pending"
	// EventSyncComplete is published after every drain pass.
	EventSyncComplete EventType = "sync_complete"
	// EventDeadLetter is published when a write is rejected permanently.
	EventDeadLetter EventType = "dead_letter"
)

// Event is one status change. Counts are taken after the change.
type Event struct {
	Type        EventType          `json:"type"`
	Online      bool               `json:"online"`
	Pending     int                `json:"pending"`
	DeadLetters int                `json:"dead_letters"`
	Report      *queue.DrainReport `json:"report,omitempty"`
	Error       string             `json:"error,omitempty"`
	At          time.Time          `json:"at"`
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	UserID      string    `json:"user_id"`
	Running     bool      `json:"running"`
	Online      bool      `json:"online"`
	Remote      bool      `json:"remote"`
	Pending     int       `json:"pending"`
	DeadLetters int       `json:"dead_letters"`
	LastSync    time.Time `json:"last_sync,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	NextRetry   time.Time `json:"next_retry,omitempty"`
}
