// Package events provides access to the events table for recording
// and querying system activity: device state changes, automation
// firings, and bridge lifecycle events.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known event types written by Ember Core.
const (
	TypeDeviceStateChanged  = "device.state_changed"
	TypeDeviceOnline        = "device.online"
	TypeDeviceOffline       = "device.offline"
	TypeAutomationTriggered = "automation.triggered"
	TypeAutomationFailed    = "automation.failed"
	TypeBridgeHealth        = "bridge.health"
	TypeNotificationSent    = "notification.sent"
)

// Event represents a single entry in the event log.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	DeviceID  string         `json:"device_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which events to return.
type Filter struct {
	Type     string // optional: filter by event type
	DeviceID string // optional: filter by device
	Since    string // optional: RFC3339 lower bound on created_at
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated event results.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for event log operations.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new event log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new event. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	dataJSON := "{}"
	if event.Data != nil {
		b, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshalling event data: %w", err)
		}
		dataJSON = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, type, source, device_id, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.Source,
		nullableString(event.DeviceID),
		dataJSON,
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for event queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Since != "" {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, type, source, device_id, data, created_at FROM events %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var deviceID, dataJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&event.ID, &event.Type, &event.Source,
			&deviceID, &dataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		if deviceID.Valid {
			event.DeviceID = deviceID.String
		}
		if dataJSON.Valid && dataJSON.String != "" && dataJSON.String != "{}" {
			var data map[string]any
			if json.Unmarshal([]byte(dataJSON.String), &data) == nil {
				event.Data = data
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			t, err = time.Parse("2006-01-02T15:04:05Z", createdAt)
			if err != nil {
				return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
			}
		}
		event.CreatedAt = t

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// PruneOlderThan deletes events created before the cutoff and returns
// the number of rows removed. The event log grows without bound
// otherwise; callers run this on a maintenance schedule.
func (r *SQLiteRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM events WHERE created_at < ?",
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return n, nil
}
