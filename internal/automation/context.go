package automation

import (
	"strings"
	"time"
)

// Event is an external notification injected into the engine: a device
// state change, a manual user action, or a system notice. Consumed
// at-most-once by the event processor; not retried on failure.
type Event struct {
	Type     string         `json:"type"`
	Source   string         `json:"source"`
	DeviceID string         `json:"device_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// ExecutionContext is the ephemeral key-value bag threaded through one
// trigger-check, condition-evaluate, action-execute cycle. It always
// carries the evaluation timestamp and, for event-driven firings, the
// originating event. Never persisted; lives only for the duration of
// one evaluation.
//
// The timestamp keeps its wall-clock location: time and sun triggers
// compare against the clock the user configured rules in.
type ExecutionContext struct {
	Timestamp time.Time
	Event     *Event
	Vars      map[string]any
}

// NewExecutionContext creates a context stamped with the current time.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		Timestamp: time.Now(),
		Vars:      make(map[string]any),
	}
}

// NewEventContext creates a context carrying an event.
func NewEventContext(event *Event) *ExecutionContext {
	ec := NewExecutionContext()
	ec.Event = event
	return ec
}

// Resolve looks up a dot-separated path against the context.
//
// Recognised roots:
//
//	timestamp          the context timestamp (RFC3339)
//	event.type         originating event fields
//	event.source
//	event.device_id
//	event.data.<path>  descends into the event payload
//	<name>             falls back to Vars["<name>"]
//
// Returns false if the path does not resolve.
func (ec *ExecutionContext) Resolve(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	switch segments[0] {
	case "timestamp":
		if len(segments) == 1 {
			return ec.Timestamp.Format(time.RFC3339), true
		}
		return nil, false

	case "event":
		if ec.Event == nil {
			return nil, false
		}
		return resolveEvent(ec.Event, segments[1:])

	default:
		return resolvePath(ec.Vars, segments)
	}
}

// resolveEvent resolves the remaining path segments against an event.
func resolveEvent(event *Event, segments []string) (any, bool) {
	if len(segments) == 0 {
		return event, true
	}

	switch segments[0] {
	case "type":
		return event.Type, len(segments) == 1
	case "source":
		return event.Source, len(segments) == 1
	case "device_id":
		return event.DeviceID, len(segments) == 1
	case "data":
		if len(segments) == 1 {
			return event.Data, true
		}
		return resolvePath(event.Data, segments[1:])
	default:
		return nil, false
	}
}

// resolvePath descends through nested maps following the segments.
func resolvePath(m map[string]any, segments []string) (any, bool) {
	if m == nil {
		return nil, false
	}

	var current any = m
	for _, segment := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
