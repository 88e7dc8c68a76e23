package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberhome/ember-core/internal/device"
)

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - protocol: filter by protocol (zigbee, zwave, mqtt, ...)
//   - type: filter by device type (light, sensor, ...)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if protocol := r.URL.Query().Get("protocol"); protocol != "" {
		devices, err := s.registry.GetDevicesByProtocol(ctx, device.Protocol(protocol))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	if deviceType := r.URL.Query().Get("type"); deviceType != "" {
		devices, err := s.registry.GetDevicesByType(ctx, device.DeviceType(deviceType))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice creates a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.CreateDevice(r.Context(), &dev); err != nil {
		if isDeviceValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		if errors.Is(err, device.ErrDeviceExists) {
			writeConflict(w, "device already exists")
			return
		}
		writeInternalError(w, "failed to create device")
		return
	}

	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice partially updates a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	// Decode the partial update onto the existing device
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // the ID cannot be changed

	if err := s.registry.UpdateDevice(r.Context(), existing); err != nil {
		if isDeviceValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update device")
		return
	}

	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteDevice removes a device by ID.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns device registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleGetDeviceState returns the current state of a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"state":     dev.State,
		"online":    dev.Online,
	})
}

// handleSetDeviceState overwrites a device's reported state directly,
// bypassing the bridge round trip. Intended for virtual devices and
// testing; physical devices normally report state over MQTT. The update
// fans out exactly like a bridge report: registry, WebSocket clients,
// automation engine, event log.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var state device.State
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(state) == 0 {
		writeBadRequest(w, "state must be a non-empty object")
		return
	}

	if err := s.registry.SetDeviceState(r.Context(), id, state); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to update device state")
		return
	}

	stateMap := map[string]any(state)
	s.fanOutStateChange(r.Context(), id, "api", stateMap)

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"state":     stateMap,
	})
}

// DeviceCommand is the request body for POST /devices/{id}/command.
type DeviceCommand struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// handleDeviceCommand sends a command to a device via the commander.
// Asynchronous: the command is published to the bridge and the response
// is 202 Accepted. The confirmed state change arrives via WebSocket.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cmd DeviceCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	if s.commander == nil {
		writeInternalError(w, "device commands are not available")
		return
	}

	if err := s.commander.SendCommand(r.Context(), id, cmd.Command, cmd.Params); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Warn("device command failed", "device_id", id, "command", cmd.Command, "error", err)
		writeInternalError(w, "failed to send command")
		return
	}

	s.logger.Info("device command sent", "device_id", id, "command", cmd.Command)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"message": "command published, state update will follow via WebSocket",
	})
}

// isDeviceValidationError checks whether an error is a device validation
// error. ValidateDevice wraps several sentinel errors, so all of them are
// checked rather than just ErrInvalidDevice.
func isDeviceValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidDeviceType) ||
		errors.Is(err, device.ErrInvalidProtocol)
}
