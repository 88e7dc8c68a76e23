package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// waitFor polls a condition until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestEngine(store Repository, deps Deps) *Engine {
	return NewEngine(store, deps, nil, nil, nil, Config{
		CheckInterval: time.Hour, // keep the poll loop out of the way
	})
}

func TestEngineStartLoadsRules(t *testing.T) {
	store := newMockStore()
	store.Create(context.Background(), testRuleConfig("rule-1", "First"))
	store.Create(context.Background(), testRuleConfig("rule-2", "Second"))

	// A broken config must be skipped, not fail the load
	broken := testRuleConfig("rule-3", "Broken")
	broken.Trigger = TriggerConfig{Type: "bogus"}
	store.Create(context.Background(), broken)

	engine := newTestEngine(store, Deps{Commander: newMockCommander()})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	if got := engine.RuleCount(); got != 2 {
		t.Errorf("expected 2 rules loaded, got %d", got)
	}
}

func TestEngineStopClearsTable(t *testing.T) {
	store := newMockStore()
	store.Create(context.Background(), testRuleConfig("rule-1", "First"))

	engine := newTestEngine(store, Deps{Commander: newMockCommander()})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.Stop()

	if got := engine.RuleCount(); got != 0 {
		t.Errorf("expected empty table after stop, got %d rules", got)
	}
}

func TestEngineRuleManagement(t *testing.T) {
	engine := newTestEngine(nil, Deps{Commander: newMockCommander()})

	if err := engine.AddRule(testRuleConfig("rule-1", "Beta")); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if err := engine.AddRule(testRuleConfig("rule-1", "Duplicate")); !errors.Is(err, ErrRuleExists) {
		t.Errorf("expected ErrRuleExists, got %v", err)
	}
	if err := engine.AddRule(testRuleConfig("rule-2", "Alpha")); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	// Listing is sorted by name
	rules := engine.GetRules()
	if len(rules) != 2 || rules[0].Name != "Alpha" || rules[1].Name != "Beta" {
		t.Errorf("unexpected listing order: %+v", rules)
	}

	got, err := engine.GetRule("rule-1")
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if got.Name != "Beta" {
		t.Errorf("expected Beta, got %q", got.Name)
	}

	if err := engine.RemoveRule("rule-2"); err != nil {
		t.Fatalf("RemoveRule failed: %v", err)
	}
	if err := engine.RemoveRule("rule-2"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
	if _, err := engine.GetRule("rule-2"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestEngineEnableDisableIdempotent(t *testing.T) {
	engine := newTestEngine(nil, Deps{Commander: newMockCommander()})
	engine.AddRule(testRuleConfig("rule-1", "Toggler"))

	if err := engine.DisableRule("rule-1"); err != nil {
		t.Fatalf("DisableRule failed: %v", err)
	}
	if err := engine.DisableRule("rule-1"); err != nil {
		t.Errorf("expected disabling twice to succeed, got %v", err)
	}
	if cfg, _ := engine.GetRule("rule-1"); cfg.Enabled {
		t.Error("expected rule to be disabled")
	}

	if err := engine.EnableRule("rule-1"); err != nil {
		t.Fatalf("EnableRule failed: %v", err)
	}
	if cfg, _ := engine.GetRule("rule-1"); !cfg.Enabled {
		t.Error("expected rule to be enabled")
	}

	if err := engine.EnableRule("ghost"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestEngineUpdateRuleCarriesStats(t *testing.T) {
	commander := newMockCommander()
	engine := newTestEngine(nil, Deps{Commander: commander})
	engine.AddRule(testRuleConfig("rule-1", "Original"))

	// Run the rule once so it has stats to carry
	if err := engine.TriggerRule(context.Background(), "rule-1"); err != nil {
		t.Fatalf("TriggerRule failed: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		cfg, _ := engine.GetRule("rule-1")
		return cfg.ExecutionCount == 1
	}, "rule never executed")

	updated := testRuleConfig("rule-1", "Renamed")
	if err := engine.UpdateRule(updated); err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}

	cfg, err := engine.GetRule("rule-1")
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if cfg.Name != "Renamed" {
		t.Errorf("expected renamed rule, got %q", cfg.Name)
	}
	if cfg.ExecutionCount != 1 {
		t.Errorf("expected stats carried over, got count %d", cfg.ExecutionCount)
	}
	if cfg.LastTriggered == nil {
		t.Error("expected last triggered carried over")
	}

	if err := engine.UpdateRule(testRuleConfig("ghost", "Ghost")); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestEngineManualTrigger(t *testing.T) {
	devices := newMockDevices()
	devices.setState("sensor-1", map[string]any{"dark": true})
	commander := newMockCommander()
	engine := newTestEngine(nil, Deps{Devices: devices, Commander: commander})

	cfg := testRuleConfig("rule-1", "Manual")
	cfg.Conditions = []ConditionConfig{
		{Type: ConditionDeviceState, Config: map[string]any{
			"device_id": "sensor-1",
			"property":  "dark",
			"value":     true,
		}},
	}
	engine.AddRule(cfg)

	// Manual firing bypasses the trigger but still runs conditions
	if err := engine.TriggerRule(context.Background(), "rule-1"); err != nil {
		t.Fatalf("TriggerRule failed: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return commander.callCount() == 1
	}, "manual trigger never executed the action")

	// Conditions gate manual firings too
	devices.setState("sensor-1", map[string]any{"dark": false})
	engine.TriggerRule(context.Background(), "rule-1")
	time.Sleep(50 * time.Millisecond)
	if commander.callCount() != 1 {
		t.Errorf("expected condition to block the second firing, got %d calls", commander.callCount())
	}

	if err := engine.TriggerRule(context.Background(), "ghost"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestEngineEventMatchingAndStats(t *testing.T) {
	store := newMockStore()
	commander := newMockCommander()

	cfg := testRuleConfig("rule-1", "On motion")
	cfg.Trigger.Config = map[string]any{"event_type": "device.state_changed", "device_id": "motion-1"}
	store.Create(context.Background(), cfg)

	engine := newTestEngine(store, Deps{Commander: commander})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	// Non-matching event: wrong device
	engine.ProcessEvent(Event{Type: "device.state_changed", DeviceID: "motion-2"})
	// Matching event
	engine.ProcessEvent(Event{Type: "device.state_changed", DeviceID: "motion-1"})

	waitFor(t, time.Second, func() bool {
		return commander.callCount() == 1
	}, "matching event never executed the rule")

	// Stats must reach the store
	waitFor(t, time.Second, func() bool {
		cfg, err := store.GetByID(context.Background(), "rule-1")
		return err == nil && cfg.ExecutionCount == 1 && cfg.LastTriggered != nil
	}, "stats never persisted")
}

func TestEngineEventFIFO(t *testing.T) {
	engine := newTestEngine(nil, Deps{})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	var mu sync.Mutex
	var order []string
	engine.RegisterEventHandler(func(_ context.Context, event Event) {
		mu.Lock()
		order = append(order, event.Source)
		mu.Unlock()
	})

	const n = 20
	for i := 0; i < n; i++ {
		if err := engine.ProcessEvent(Event{Type: "test.event", Source: fmt.Sprintf("e%02d", i)}); err != nil {
			t.Fatalf("ProcessEvent failed: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == n
	}, "not all events were processed")

	mu.Lock()
	defer mu.Unlock()
	for i, source := range order {
		if want := fmt.Sprintf("e%02d", i); source != want {
			t.Fatalf("event order broken at %d: got %s, want %s", i, source, want)
		}
	}
}

func TestEngineQueueFull(t *testing.T) {
	engine := NewEngine(nil, Deps{}, nil, nil, nil, Config{
		CheckInterval: time.Hour,
		QueueSize:     1,
	})
	// Not started: nothing drains the queue

	if err := engine.ProcessEvent(Event{Type: "a"}); err != nil {
		t.Fatalf("first event should enqueue, got %v", err)
	}
	if err := engine.ProcessEvent(Event{Type: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestEngineEventLogging(t *testing.T) {
	commander := newMockCommander()
	sink := &mockSink{}
	engine := NewEngine(nil, Deps{Commander: commander}, sink, nil, nil, Config{
		CheckInterval: time.Hour,
	})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	engine.AddRule(testRuleConfig("rule-1", "Logged"))
	engine.ProcessEvent(Event{Type: "test.event"})

	waitFor(t, time.Second, func() bool { return sink.count() == 1 }, "execution was never logged")

	sink.mu.Lock()
	entry := sink.entries[0]
	sink.mu.Unlock()
	if entry.Type != "automation.triggered" {
		t.Errorf("unexpected event type %q", entry.Type)
	}
	if entry.Data["automation_id"] != "rule-1" {
		t.Errorf("unexpected event data %v", entry.Data)
	}
	if entry.Data["success"] != true {
		t.Errorf("expected success in event data, got %v", entry.Data["success"])
	}
}

func TestEnginePanickingHandlerIsolated(t *testing.T) {
	engine := newTestEngine(nil, Deps{})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	var mu sync.Mutex
	var seen int
	engine.RegisterEventHandler(func(context.Context, Event) {
		panic("broken handler")
	})
	engine.RegisterEventHandler(func(context.Context, Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	engine.ProcessEvent(Event{Type: "test.event"})
	engine.ProcessEvent(Event{Type: "test.event"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 2
	}, "healthy handler starved by the panicking one")
}

func TestEngineConcurrentAccess(t *testing.T) {
	engine := newTestEngine(nil, Deps{Commander: newMockCommander()})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("rule-%d", i)
			for j := 0; j < 20; j++ {
				engine.AddRule(testRuleConfig(id, "Rule "+id))
				engine.GetRules()
				engine.DisableRule(id)
				engine.EnableRule(id)
				engine.GetRule(id)
				engine.RemoveRule(id)
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				engine.ProcessEvent(Event{Type: "test.event"})
			}
		}()
	}
	wg.Wait()
}

// Toggling a rule's enabled flag must be safe against snapshot reads
// and trigger checks that run after the engine lock is released.
func TestEngineEnableDisableDuringReads(t *testing.T) {
	engine := newTestEngine(nil, Deps{Commander: newMockCommander()})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	if err := engine.AddRule(testRuleConfig("rule-1", "Toggled")); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	const iterations = 500
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			engine.DisableRule("rule-1")
			engine.EnableRule("rule-1")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			for _, cfg := range engine.GetRules() {
				_ = cfg.Enabled
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if cfg, err := engine.GetRule("rule-1"); err == nil {
				_ = cfg.Enabled
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			engine.ProcessEvent(Event{Type: "test.event"})
		}
	}()

	wg.Wait()

	// The rule must still be present with a consistent snapshot
	if _, err := engine.GetRule("rule-1"); err != nil {
		t.Fatalf("rule lost during concurrent toggling: %v", err)
	}
}
