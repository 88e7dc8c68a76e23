package automation

import (
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	ec := NewEventContext(&Event{
		Type:     "device.state_changed",
		Source:   "mqtt",
		DeviceID: "sensor-1",
		Data: map[string]any{
			"temperature": float64(21.5),
			"nested":      map[string]any{"deep": "value"},
		},
	})
	ec.Timestamp = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	ec.Vars["brightness"] = float64(80)

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"timestamp", "2026-03-02T08:30:00Z", true},
		{"event.type", "device.state_changed", true},
		{"event.source", "mqtt", true},
		{"event.device_id", "sensor-1", true},
		{"event.data.temperature", float64(21.5), true},
		{"event.data.nested.deep", "value", true},
		{"event.data.missing", nil, false},
		{"event.bogus", nil, false},
		{"brightness", float64(80), true},
		{"missing", nil, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ec.Resolve(tt.path)
			if ok != tt.ok {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolveWithoutEvent(t *testing.T) {
	ec := NewExecutionContext()
	if _, ok := ec.Resolve("event.type"); ok {
		t.Error("expected event paths to miss without an event")
	}
}

func TestResolveString(t *testing.T) {
	ec := NewEventContext(&Event{
		DeviceID: "sensor-1",
		Data:     map[string]any{"temperature": float64(42)},
	})

	got := ResolveString("Device ${event.device_id}: ${event.data.temperature}C (${nope})", ec)
	want := "Device sensor-1: 42C (${nope})"
	if got != want {
		t.Errorf("ResolveString() = %q, want %q", got, want)
	}
}

func TestResolveValue(t *testing.T) {
	ec := NewExecutionContext()
	ec.Vars["level"] = float64(50)

	// $name form resolves to the raw value, preserving its type
	if got := ResolveValue("$level", ec); got != float64(50) {
		t.Errorf("ResolveValue($level) = %v, want 50", got)
	}

	// Unresolvable $name is kept as the original string
	if got := ResolveValue("$ghost", ec); got != "$ghost" {
		t.Errorf("ResolveValue($ghost) = %v, want the original string", got)
	}

	// Nested structures resolve recursively
	resolved := ResolveValue(map[string]any{
		"settings": map[string]any{"brightness": "$level"},
		"tags":     []any{"$level", "fixed"},
	}, ec).(map[string]any)

	settings := resolved["settings"].(map[string]any)
	if settings["brightness"] != float64(50) {
		t.Errorf("nested map not resolved: %v", settings)
	}
	tags := resolved["tags"].([]any)
	if tags[0] != float64(50) || tags[1] != "fixed" {
		t.Errorf("slice not resolved: %v", tags)
	}
}

func TestResolveParamsDoesNotMutateInput(t *testing.T) {
	ec := NewExecutionContext()
	ec.Vars["level"] = float64(50)

	params := map[string]any{"brightness": "$level"}
	resolved := ResolveParams(params, ec)

	if params["brightness"] != "$level" {
		t.Error("input map was mutated")
	}
	if resolved["brightness"] != float64(50) {
		t.Errorf("resolved map wrong: %v", resolved)
	}
}

func TestResolveParamsNil(t *testing.T) {
	if got := ResolveParams(nil, NewExecutionContext()); got != nil {
		t.Errorf("expected nil passthrough, got %v", got)
	}
}
