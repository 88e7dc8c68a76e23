package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the device package.
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

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations. State reads during automation
// evaluation hit the cache, not the database.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// GetProperty resolves a dot-separated property path against a device's
// current state. Returns false if the device is unknown or the path does
// not resolve. This is the read contract used by automation evaluation.
func (r *Registry) GetProperty(ctx context.Context, deviceID, path string) (any, bool) {
	device, err := r.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, false
	}
	return device.Property(path)
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			// Deep copy to prevent external mutation of cache
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// GetDevicesByProtocol retrieves all devices using a specific protocol.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByProtocol(ctx context.Context, protocol Protocol) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Protocol == protocol {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByProtocol(ctx, protocol)
}

// GetDevicesByType retrieves all devices of a specific type.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByType(ctx context.Context, deviceType DeviceType) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Type == deviceType {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByType(ctx, deviceType)
}

// CreateDevice creates a new device.
// It validates the device, generates an ID if needed, and persists it.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	// Generate ID if not provided
	if device.ID == "" {
		device.ID = GenerateID()
	}

	// Validate
	if err := ValidateDevice(device); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name)
	return nil
}

// UpdateDevice updates an existing device.
// It validates the device and persists the changes.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	// Validate
	if err := ValidateDevice(device); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetDeviceState merges reported state into a device.
// This is optimised for frequent updates from protocol bridges.
func (r *Registry) SetDeviceState(ctx context.Context, id string, state State) error {
	if err := r.repo.UpdateState(ctx, id, state); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		// Create a deep copy with merged state (atomic replacement)
		updated := cached.DeepCopy()
		if updated.State == nil {
			updated.State = make(State, len(state))
		}
		for k, v := range state {
			updated.State[k] = deepCopyValue(v)
		}
		updated.UpdatedAt = time.Now().UTC()
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device state updated", "id", id)
	return nil
}

// SetDeviceOnline updates the online flag of a device.
func (r *Registry) SetDeviceOnline(ctx context.Context, id string, online bool) error {
	if err := r.repo.UpdateOnline(ctx, id, online); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Online = online
		updated.UpdatedAt = time.Now().UTC()
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device online updated", "id", id, "online", online)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	Online       int
	ByProtocol   map[Protocol]int
	ByType       map[DeviceType]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByProtocol:   make(map[Protocol]int),
		ByType:       make(map[DeviceType]int),
	}

	for _, d := range r.cache {
		stats.ByProtocol[d.Protocol]++
		stats.ByType[d.Type]++
		if d.Online {
			stats.Online++
		}
	}

	return stats
}
