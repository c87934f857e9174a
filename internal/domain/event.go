package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Command lifecycle events, published by the runner as it drives a block.
	EventCommandStarted   EventType = "command.started"
	EventCommandOutput    EventType = "command.output"
	EventCommandCompleted EventType = "command.completed"
	EventCommandFailed    EventType = "command.failed"
	EventCommandCancelled EventType = "command.cancelled"

	// Session events.
	EventWorkingDirChanged EventType = "session.workdir.changed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	BlockID   string          `json:"block_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
// Consumers are the rendering layer and any logging/metrics collaborator;
// the engine itself never depends on a subscriber being present.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// CommandOutputPayload is the payload for EventCommandOutput events.
type CommandOutputPayload struct {
	Data     string `json:"data"`
	IsStderr bool   `json:"is_stderr,omitempty"`
}

// CommandCompletedPayload is the payload for EventCommandCompleted and
// EventCommandFailed events.
type CommandCompletedPayload struct {
	Command  string `json:"command"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}
