package api

import (
	"net/http"
	"strconv"

	"github.com/emberhome/ember-core/internal/events"
)

// handleListEvents returns the event log, newest first.
//
// Query parameters:
//   - type: filter by event type (device.state_changed, automation.triggered, ...)
//   - device_id: filter by device
//   - since: RFC3339 lower bound on created_at
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeInternalError(w, "event log is not available")
		return
	}

	filter := events.Filter{
		Type:     r.URL.Query().Get("type"),
		DeviceID: r.URL.Query().Get("device_id"),
		Since:    r.URL.Query().Get("since"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
