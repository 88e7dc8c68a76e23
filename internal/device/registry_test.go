package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
	// For testing error paths
	createErr      error
	updateErr      error
	deleteErr      error
	updateStateErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Device),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (m *MockRepository) ListByProtocol(_ context.Context, protocol Protocol) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []Device
	for _, d := range m.devices {
		if d.Protocol == protocol {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices, nil
}

func (m *MockRepository) ListByType(_ context.Context, deviceType DeviceType) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []Device
	for _, d := range m.devices {
		if d.Type == deviceType {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, device *Device) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.ID]; exists {
		return ErrDeviceExists
	}
	m.devices[device.ID] = device.DeepCopy()
	return nil
}

func (m *MockRepository) Update(_ context.Context, device *Device) error {
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.ID]; !exists {
		return ErrDeviceNotFound
	}
	m.devices[device.ID] = device.DeepCopy()
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[id]; !exists {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *MockRepository) UpdateState(_ context.Context, id string, state State) error {
	if m.updateStateErr != nil {
		return m.updateStateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.devices[id]
	if !exists {
		return ErrDeviceNotFound
	}
	if d.State == nil {
		d.State = make(State, len(state))
	}
	for k, v := range state {
		d.State[k] = v
	}
	return nil
}

func (m *MockRepository) UpdateOnline(_ context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.devices[id]
	if !exists {
		return ErrDeviceNotFound
	}
	d.Online = online
	return nil
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	repo.devices["dev-1"] = testDevice("dev-1", "Light One")
	repo.devices["dev-2"] = testDevice("dev-2", "Light Two")

	registry := NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache failed: %v", err)
	}

	if registry.GetDeviceCount() != 2 {
		t.Errorf("expected 2 cached devices, got %d", registry.GetDeviceCount())
	}
}

func TestRegistry_GetDevice(t *testing.T) {
	repo := NewMockRepository()
	repo.devices["dev-1"] = testDevice("dev-1", "Hallway Light")

	registry := NewRegistry(repo)
	ctx := context.Background()

	// Uncached read falls through to repository and populates cache
	d, err := registry.GetDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d.Name != "Hallway Light" {
		t.Errorf("expected name %q, got %q", "Hallway Light", d.Name)
	}

	// Mutating the returned device must not affect the cache
	d.State["on"] = true
	cached, err := registry.GetDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if cached.State["on"] != false {
		t.Error("mutation of returned device leaked into cache")
	}

	if _, err := registry.GetDevice(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestRegistry_GetProperty(t *testing.T) {
	repo := NewMockRepository()
	d := testDevice("dev-1", "Sensor")
	d.State = State{"temperature": 21.5, "color": map[string]any{"hue": 120.0}}
	repo.devices["dev-1"] = d

	registry := NewRegistry(repo)
	ctx := context.Background()

	val, ok := registry.GetProperty(ctx, "dev-1", "temperature")
	if !ok || val != 21.5 {
		t.Errorf("expected 21.5, got %v (ok=%v)", val, ok)
	}

	val, ok = registry.GetProperty(ctx, "dev-1", "color.hue")
	if !ok || val != 120.0 {
		t.Errorf("expected 120.0, got %v (ok=%v)", val, ok)
	}

	if _, ok := registry.GetProperty(ctx, "dev-1", "missing"); ok {
		t.Error("expected missing property not to resolve")
	}
	if _, ok := registry.GetProperty(ctx, "ghost", "temperature"); ok {
		t.Error("expected unknown device not to resolve")
	}
}

func TestRegistry_CreateDevice(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	d := &Device{
		Name:     "New Light",
		Type:     TypeLight,
		Protocol: ProtocolZigbee,
	}
	if err := registry.CreateDevice(ctx, d); err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}

	if d.ID == "" {
		t.Error("expected generated ID")
	}
	if registry.GetDeviceCount() != 1 {
		t.Errorf("expected 1 cached device, got %d", registry.GetDeviceCount())
	}

	// Invalid device is rejected before persistence
	bad := &Device{Name: "", Type: TypeLight, Protocol: ProtocolZigbee}
	if err := registry.CreateDevice(ctx, bad); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

func TestRegistry_UpdateDevice(t *testing.T) {
	repo := NewMockRepository()
	repo.devices["dev-1"] = testDevice("dev-1", "Old Name")

	registry := NewRegistry(repo)
	ctx := context.Background()

	updated := testDevice("dev-1", "New Name")
	if err := registry.UpdateDevice(ctx, updated); err != nil {
		t.Fatalf("UpdateDevice failed: %v", err)
	}

	got, err := registry.GetDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if got.Name != "New Name" {
		t.Errorf("expected updated name, got %q", got.Name)
	}
}

func TestRegistry_DeleteDevice(t *testing.T) {
	repo := NewMockRepository()
	repo.devices["dev-1"] = testDevice("dev-1", "Doomed")

	registry := NewRegistry(repo)
	ctx := context.Background()
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache failed: %v", err)
	}

	if err := registry.DeleteDevice(ctx, "dev-1"); err != nil {
		t.Fatalf("DeleteDevice failed: %v", err)
	}

	if registry.GetDeviceCount() != 0 {
		t.Error("expected cache entry removed")
	}
	if _, err := registry.GetDevice(ctx, "dev-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestRegistry_SetDeviceState(t *testing.T) {
	repo := NewMockRepository()
	d := testDevice("dev-1", "Dimmer")
	d.State = State{"on": true, "brightness": 50.0}
	repo.devices["dev-1"] = d

	registry := NewRegistry(repo)
	ctx := context.Background()
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache failed: %v", err)
	}

	if err := registry.SetDeviceState(ctx, "dev-1", State{"brightness": 80.0}); err != nil {
		t.Fatalf("SetDeviceState failed: %v", err)
	}

	got, err := registry.GetDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if got.State["brightness"] != 80.0 {
		t.Errorf("expected brightness 80, got %v", got.State["brightness"])
	}
	if got.State["on"] != true {
		t.Error("partial state update dropped existing key in cache")
	}
}

func TestRegistry_SetDeviceOnline(t *testing.T) {
	repo := NewMockRepository()
	repo.devices["dev-1"] = testDevice("dev-1", "Light")

	registry := NewRegistry(repo)
	ctx := context.Background()
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache failed: %v", err)
	}

	if err := registry.SetDeviceOnline(ctx, "dev-1", false); err != nil {
		t.Fatalf("SetDeviceOnline failed: %v", err)
	}

	got, err := registry.GetDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if got.Online {
		t.Error("expected device offline in cache")
	}
}

func TestRegistry_GetStats(t *testing.T) {
	repo := NewMockRepository()
	light := testDevice("dev-1", "Light")
	lock := testDevice("dev-2", "Lock")
	lock.Type = TypeLock
	lock.Protocol = ProtocolZWave
	lock.Online = false
	repo.devices["dev-1"] = light
	repo.devices["dev-2"] = lock

	registry := NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache failed: %v", err)
	}

	stats := registry.GetStats()
	if stats.TotalDevices != 2 {
		t.Errorf("expected 2 devices, got %d", stats.TotalDevices)
	}
	if stats.Online != 1 {
		t.Errorf("expected 1 online, got %d", stats.Online)
	}
	if stats.ByProtocol[ProtocolZWave] != 1 {
		t.Errorf("expected 1 zwave device, got %d", stats.ByProtocol[ProtocolZWave])
	}
	if stats.ByType[TypeLight] != 1 {
		t.Errorf("expected 1 light, got %d", stats.ByType[TypeLight])
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d := testDevice(fmt.Sprintf("dev-%d", i), fmt.Sprintf("Device %d", i))
		if err := registry.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("dev-%d", i)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = registry.GetDevice(ctx, id)
				_, _ = registry.ListDevices(ctx)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = registry.SetDeviceState(ctx, id, State{"counter": float64(j)})
			}
		}()
	}
	wg.Wait()

	if registry.GetDeviceCount() != 10 {
		t.Errorf("expected 10 devices after concurrent access, got %d", registry.GetDeviceCount())
	}
}
