package automation

import (
	"context"
	"sync"
	"time"
)

// mockDevices is a DeviceSource backed by a map of device states.
type mockDevices struct {
	mu     sync.Mutex
	states map[string]map[string]any
}

func newMockDevices() *mockDevices {
	return &mockDevices{states: make(map[string]map[string]any)}
}

func (m *mockDevices) setState(deviceID string, state map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[deviceID] = state
}

func (m *mockDevices) GetProperty(_ context.Context, deviceID, path string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[deviceID]
	if !ok {
		return nil, false
	}
	val, ok := state[path]
	return val, ok
}

// commandCall records one SendCommand invocation.
type commandCall struct {
	DeviceID string
	Command  string
	Params   map[string]any
}

// mockCommander records commands and can fail for chosen devices.
type mockCommander struct {
	mu      sync.Mutex
	calls   []commandCall
	failFor map[string]error
}

func newMockCommander() *mockCommander {
	return &mockCommander{failFor: make(map[string]error)}
}

func (m *mockCommander) SendCommand(_ context.Context, deviceID, command string, params map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, commandCall{DeviceID: deviceID, Command: command, Params: params})
	if err, ok := m.failFor[deviceID]; ok {
		return err
	}
	return nil
}

func (m *mockCommander) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockCommander) call(i int) commandCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

// mockNotifier records notifications.
type mockNotifier struct {
	mu            sync.Mutex
	notifications []struct {
		Title   string
		Message string
	}
}

func (m *mockNotifier) Notify(_ context.Context, title, message string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, struct {
		Title   string
		Message string
	}{title, message})
}

// mockStore is an in-memory rule Repository.
type mockStore struct {
	mu      sync.Mutex
	configs map[string]*RuleConfig
}

func newMockStore() *mockStore {
	return &mockStore{configs: make(map[string]*RuleConfig)}
}

func (m *mockStore) List(_ context.Context) ([]RuleConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	configs := make([]RuleConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		configs = append(configs, *cfg)
	}
	return configs, nil
}

func (m *mockStore) GetByID(_ context.Context, id string) (*RuleConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	c := *cfg
	return &c, nil
}

func (m *mockStore) Create(_ context.Context, cfg *RuleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.configs[cfg.ID]; exists {
		return ErrRuleExists
	}
	c := *cfg
	m.configs[cfg.ID] = &c
	return nil
}

func (m *mockStore) Update(_ context.Context, cfg *RuleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.configs[cfg.ID]; !exists {
		return ErrRuleNotFound
	}
	c := *cfg
	m.configs[cfg.ID] = &c
	return nil
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.configs[id]; !exists {
		return ErrRuleNotFound
	}
	delete(m.configs, id)
	return nil
}

func (m *mockStore) UpdateStats(_ context.Context, id string, lastTriggered time.Time, count int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[id]
	if !ok {
		return ErrRuleNotFound
	}
	t := lastTriggered
	cfg.LastTriggered = &t
	cfg.ExecutionCount = count
	return nil
}

// mockSink records event log entries.
type mockSink struct {
	mu      sync.Mutex
	entries []struct {
		Type string
		Data map[string]any
	}
}

func (m *mockSink) LogEvent(_ context.Context, eventType, _, _ string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, struct {
		Type string
		Data map[string]any
	}{eventType, data})
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// contextAt builds an execution context at a fixed timestamp.
func contextAt(t time.Time) *ExecutionContext {
	return &ExecutionContext{Timestamp: t, Vars: make(map[string]any)}
}

// testRuleConfig returns a minimal valid rule config firing on events.
func testRuleConfig(id, name string) *RuleConfig {
	return &RuleConfig{
		ID:      id,
		Name:    name,
		Enabled: true,
		Trigger: TriggerConfig{
			Type:   TriggerEvent,
			Config: map[string]any{"event_type": "test.event"},
		},
		Actions: []ActionConfig{
			{
				Type: ActionDeviceCommand,
				Config: map[string]any{
					"device_id": "dev-1",
					"command":   "turn_on",
				},
			},
		},
	}
}
