package automation

import (
	"context"
	"net/http"
)

// Logger defines the logging interface used by the automation package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceSource reads device state for triggers and conditions.
type DeviceSource interface {
	// GetProperty resolves a dot-separated property path against a
	// device's current state. Returns false if the device is unknown
	// or the path does not resolve.
	GetProperty(ctx context.Context, deviceID, path string) (any, bool)
}

// Commander executes device commands for actions.
type Commander interface {
	// SendCommand dispatches a command to a device.
	SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error
}

// Notifier records notifications raised by notification actions.
// Delivery to external channels (push, email) is delegated; the engine
// only persists the rendered notification.
type Notifier interface {
	Notify(ctx context.Context, title, message string, data map[string]any)
}

// Deps carries the collaborators trigger/condition/action variants need.
// Construction factories thread it through so variants stay free of
// package-level state.
type Deps struct {
	Devices    DeviceSource
	Commander  Commander
	Notifier   Notifier
	HTTPClient *http.Client // used by webhook actions; nil falls back to http.DefaultClient

	// Site coordinates, used by sun triggers/conditions that do not
	// carry their own latitude/longitude.
	Latitude  float64
	Longitude float64

	Logger Logger
}

// log returns the configured logger, or a no-op fallback.
func (d Deps) log() Logger {
	if d.Logger == nil {
		return noopLogger{}
	}
	return d.Logger
}

// httpClient returns the configured HTTP client, or the default.
func (d Deps) httpClient() *http.Client {
	if d.HTTPClient == nil {
		return http.DefaultClient
	}
	return d.HTTPClient
}
