package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByProtocol retrieves all devices using a specific protocol.
	ListByProtocol(ctx context.Context, protocol Protocol) ([]Device, error)

	// ListByType retrieves all devices of a specific type.
	ListByType(ctx context.Context, deviceType DeviceType) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState merges the given fields into the device's stored state.
	// This is optimised for frequent state changes from protocol bridges.
	UpdateState(ctx context.Context, id string, state State) error

	// UpdateOnline updates the online flag of a device.
	UpdateOnline(ctx context.Context, id string, online bool) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, type, protocol, address, state, online, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListByProtocol retrieves all devices using a specific protocol.
func (r *SQLiteRepository) ListByProtocol(ctx context.Context, protocol Protocol) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE protocol = ? ORDER BY name`
	return r.queryDevices(ctx, query, string(protocol))
}

// ListByType retrieves all devices of a specific type.
func (r *SQLiteRepository) ListByType(ctx context.Context, deviceType DeviceType) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE type = ? ORDER BY name`
	return r.queryDevices(ctx, query, string(deviceType))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	addressJSON, err := json.Marshal(device.Address)
	if err != nil {
		return fmt.Errorf("marshalling address: %w", err)
	}

	stateJSON, err := json.Marshal(device.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		string(device.Type),
		string(device.Protocol),
		string(addressJSON),
		string(stateJSON),
		boolToInt(device.Online),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	addressJSON, err := json.Marshal(device.Address)
	if err != nil {
		return fmt.Errorf("marshalling address: %w", err)
	}

	stateJSON, err := json.Marshal(device.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, type = ?, protocol = ?, address = ?,
			state = ?, online = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		string(device.Type),
		string(device.Protocol),
		string(addressJSON),
		string(stateJSON),
		boolToInt(device.Online),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return requireRowsAffected(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRowsAffected(result)
}

// UpdateState merges the given state fields into the device's existing state.
// This allows partial updates (e.g., updating "on" without losing "brightness").
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC()
	// json_patch(target, patch) applies patch keys to target, preserving
	// existing keys not present in patch.
	query := `
		UPDATE devices
		SET state = json_patch(COALESCE(state, '{}'), ?),
		    updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(stateJSON),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	return requireRowsAffected(result)
}

// UpdateOnline updates the online flag of a device.
func (r *SQLiteRepository) UpdateOnline(ctx context.Context, id string, online bool) error {
	now := time.Now().UTC()
	query := `UPDATE devices SET online = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(online),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device online: %w", err)
	}
	return requireRowsAffected(result)
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var addressJSON, stateJSON string
	var online int
	var createdAt, updatedAt string
	var deviceType, protocol string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&deviceType,
		&protocol,
		&addressJSON,
		&stateJSON,
		&online,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = DeviceType(deviceType)
	d.Protocol = Protocol(protocol)
	d.Online = online != 0

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(addressJSON), &d.Address); err != nil {
		return nil, fmt.Errorf("unmarshalling address: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}

	return &d, nil
}

// requireRowsAffected converts a zero-row result into ErrDeviceNotFound.
func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
