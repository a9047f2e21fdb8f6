package engine

import (
	"context"
	"time"
)

// EventType is the type of a run timeline event.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventRunCompleted   EventType = "run_completed"
	EventPhaseStarted   EventType = "phase_started"
	EventPhaseCompleted EventType = "phase_completed"
	EventResourceResult EventType = "resource_result"
)

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event represents a timeline event during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Level is info, warn or error.
	Level string `json:"level"`

	// Operation is the run operation.
	Operation Operation `json:"operation"`

	// Phase is set for phase and resource events.
	Phase Phase `json:"phase,omitempty"`

	// Resource is set for resource events.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`
}

// EventSink receives run events. The engine writes to it and never reads
// back; a failing sink is logged and otherwise ignored.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }
