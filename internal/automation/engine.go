package automation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// EventSink records automation activity to the event log.
type EventSink interface {
	// LogEvent appends an entry to the event log. Failures are logged
	// by the engine, never propagated: the event log is bookkeeping,
	// not part of the execution contract.
	LogEvent(ctx context.Context, eventType, source, deviceID string, data map[string]any) error
}

// WSHub broadcasts live updates to connected WebSocket clients.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the channel.
	Broadcast(channel string, payload any)
}

// Metrics records engine telemetry. All methods must be non-blocking.
type Metrics interface {
	// RuleExecution records one completed rule execution.
	RuleExecution(ruleID, triggerType string, success bool, duration time.Duration)

	// EngineTick records one worker loop iteration.
	EngineTick(rulesChecked, rulesFired int, duration time.Duration)
}

// EventHandler is an external callback invoked for every processed
// event, after rule matching. Handlers run concurrently with each other
// and their failures are isolated: one broken handler cannot affect
// others or the engine's own rule processing.
type EventHandler func(ctx context.Context, event Event)

// Config controls the engine's scheduling behaviour.
type Config struct {
	// CheckInterval is the worker loop's target polling cadence.
	CheckInterval time.Duration

	// QueueSize bounds the event queue. Events pushed while the queue
	// is full are dropped with a warning.
	QueueSize int

	// MaxConcurrentRuns bounds the number of rule executions in flight.
	MaxConcurrentRuns int
}

// minTickSleep is the floor for the drift-corrected worker loop sleep.
// Even when trigger checking overruns the interval, the loop yields
// briefly so it cannot spin.
const minTickSleep = 100 * time.Millisecond

// Defaults applied by NewEngine for zero Config fields.
const (
	defaultCheckInterval     = 10 * time.Second
	defaultQueueSize         = 256
	defaultMaxConcurrentRuns = 32
)

// Engine owns the live rule table and the dual scheduling loop: a
// polling worker loop for time/sun/interval/device_state triggers, and
// a FIFO event processor for event triggers.
//
// The rule table is the only shared mutable structure. The mutex is
// held only around in-memory map operations, never across trigger
// evaluation or action execution; loops snapshot rule references under
// the lock and release it before evaluating anything that may suspend.
//
// Matched rules execute as fire-and-forget goroutines with panic
// capture, bounded by a semaphore, so one slow rule's action sequence
// cannot delay the next poll tick or the next event.
type Engine struct {
	mu    sync.Mutex
	rules map[string]*Rule

	store   Repository
	deps    Deps
	events  EventSink
	hub     WSHub
	metrics Metrics
	logger  Logger
	cfg     Config

	queue    chan Event
	sem      chan struct{}
	handlers []EventHandler

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates an automation engine.
//
// The store supplies rule configurations at startup and persists stats
// after executions. events, hub, and metrics may be nil; the engine
// degrades to in-memory operation without them.
func NewEngine(store Repository, deps Deps, events EventSink, hub WSHub, metrics Metrics, cfg Config) *Engine {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = defaultMaxConcurrentRuns
	}

	return &Engine{
		rules:   make(map[string]*Rule),
		store:   store,
		deps:    deps,
		events:  events,
		hub:     hub,
		metrics: metrics,
		logger:  deps.log(),
		cfg:     cfg,
		queue:   make(chan Event, cfg.QueueSize),
		sem:     make(chan struct{}, cfg.MaxConcurrentRuns),
	}
}

// Start loads all rule configurations from the store into the table,
// then launches the worker loop and event processor. A config that
// fails to construct is skipped with an error log; one broken rule
// must not prevent the rest from loading.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	if e.store != nil {
		configs, err := e.store.List(ctx)
		if err != nil {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return err
		}

		loaded := 0
		for i := range configs {
			cfg := configs[i]
			rule, err := NewRuleFromConfig(&cfg, e.deps)
			if err != nil {
				e.logger.Error("skipping rule with invalid config",
					"rule_id", cfg.ID,
					"name", cfg.Name,
					"error", err,
				)
				continue
			}
			e.mu.Lock()
			e.rules[rule.ID] = rule
			e.mu.Unlock()
			loaded++
		}
		e.logger.Info("automation rules loaded", "count", loaded, "skipped", len(configs)-loaded)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	e.wg.Add(2)
	go e.workerLoop(loopCtx)
	go e.eventLoop(loopCtx)

	e.logger.Info("automation engine started",
		"check_interval", e.cfg.CheckInterval,
		"queue_size", e.cfg.QueueSize,
	)
	return nil
}

// Stop cancels both background loops, waits for them and any in-flight
// rule executions to finish, and clears the rule table.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.rules = make(map[string]*Rule)
	e.mu.Unlock()

	e.logger.Info("automation engine stopped")
}

// workerLoop polls non-event triggers on the configured cadence.
// Sleep is drift-corrected: the next tick starts CheckInterval after
// the previous one started, not after it finished, floored at
// minTickSleep so an overrunning iteration cannot starve the loop.
func (e *Engine) workerLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		start := time.Now()
		checked, fired := e.pollTriggers(ctx)
		elapsed := time.Since(start)

		if e.metrics != nil {
			e.metrics.EngineTick(checked, fired, elapsed)
		}

		sleep := e.cfg.CheckInterval - elapsed
		if sleep < minTickSleep {
			sleep = minTickSleep
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// pollTriggers checks every enabled non-event rule and dispatches the
// ones whose trigger fired. Checks run concurrently; a failure or
// panic in one check never blocks the others.
func (e *Engine) pollTriggers(ctx context.Context) (checked, fired int) {
	// Snapshot rule references under the lock, release before checking
	e.mu.Lock()
	candidates := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.IsEnabled() && rule.Trigger.Type() != TriggerEvent {
			candidates = append(candidates, rule)
		}
	}
	e.mu.Unlock()

	if len(candidates) == 0 {
		return 0, 0
	}

	ec := NewExecutionContext()

	var (
		matchMu sync.Mutex
		matched []*Rule
		wg      sync.WaitGroup
	)
	for _, rule := range candidates {
		wg.Add(1)
		go func(r *Rule) {
			defer wg.Done()
			if r.CheckTrigger(ctx, ec) {
				matchMu.Lock()
				matched = append(matched, r)
				matchMu.Unlock()
			}
		}(rule)
	}
	wg.Wait()

	for _, rule := range matched {
		e.dispatch(ctx, rule, ec)
	}
	return len(candidates), len(matched)
}

// eventLoop is the single consumer of the event queue. Events are
// processed strictly in arrival order; the actions they trigger are
// dispatched fire-and-forget, so event N+1 may begin evaluation before
// event N's actions complete.
func (e *Engine) eventLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.queue:
			e.handleEvent(ctx, event)
		}
	}
}

// handleEvent matches one event against the enabled event-trigger
// rules, dispatches the matches, then invokes external handlers.
func (e *Engine) handleEvent(ctx context.Context, event Event) {
	ec := NewEventContext(&event)

	// Snapshot candidates whose static event-type filter matches
	e.mu.Lock()
	candidates := make([]*Rule, 0)
	for _, rule := range e.rules {
		if !rule.IsEnabled() {
			continue
		}
		filter, isEvent := rule.eventTypeFilter()
		if !isEvent {
			continue
		}
		if filter == "" || filter == event.Type {
			candidates = append(candidates, rule)
		}
	}
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, rule := range candidates {
		if rule.CheckTrigger(ctx, ec) {
			e.dispatch(ctx, rule, ec)
		}
	}

	// External handlers run concurrently, failures isolated per handler
	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h EventHandler) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					e.logger.Error("event handler panicked", "panic", rec)
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// dispatch runs a matched rule's conditions and actions as an
// independent unit of work. The goroutine is spawned immediately so
// the calling loop never waits; the semaphore bounds how many
// executions run at once.
func (e *Engine) dispatch(ctx context.Context, rule *Rule, ec *ExecutionContext) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Error("rule execution panicked", "rule_id", rule.ID, "panic", rec)
			}
		}()

		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			return
		}

		e.runRule(ctx, rule, ec)
	}()
}

// runRule evaluates a rule's conditions and, if they hold, executes its
// actions and performs post-execution bookkeeping: stats persistence,
// event log, WebSocket broadcast, and metrics.
func (e *Engine) runRule(ctx context.Context, rule *Rule, ec *ExecutionContext) {
	if !rule.EvaluateConditions(ctx, ec) {
		e.logger.Debug("rule conditions not met", "rule_id", rule.ID, "name", rule.Name)
		return
	}

	e.logger.Info("rule triggered", "rule_id", rule.ID, "name", rule.Name)

	start := time.Now()
	success, results := rule.ExecuteActions(ctx, ec)
	duration := time.Since(start)

	snapshot := rule.Snapshot()

	if e.store != nil && snapshot.LastTriggered != nil {
		if err := e.store.UpdateStats(ctx, rule.ID, *snapshot.LastTriggered, snapshot.ExecutionCount); err != nil {
			e.logger.Error("failed to persist rule stats", "rule_id", rule.ID, "error", err)
		}
	}

	data := map[string]any{
		"automation_id":   rule.ID,
		"automation_name": rule.Name,
		"success":         success,
		"actions":         results,
	}
	deviceID := ""
	if ec.Event != nil {
		data["event_type"] = ec.Event.Type
		deviceID = ec.Event.DeviceID
	}

	if e.events != nil {
		if err := e.events.LogEvent(ctx, "automation.triggered", "engine", deviceID, data); err != nil {
			e.logger.Error("failed to log automation event", "rule_id", rule.ID, "error", err)
		}
	}

	if e.hub != nil {
		e.hub.Broadcast("automation.triggered", data)
	}

	if e.metrics != nil {
		e.metrics.RuleExecution(rule.ID, rule.Trigger.Type(), success, duration)
	}

	e.logger.Info("rule execution complete",
		"rule_id", rule.ID,
		"success", success,
		"duration_ms", duration.Milliseconds(),
	)
}

// ProcessEvent enqueues an event for the event processor. Non-blocking:
// if the queue is full the event is dropped and ErrQueueFull returned,
// so a flood of events can never stall a bridge's message handler.
func (e *Engine) ProcessEvent(event Event) error {
	select {
	case e.queue <- event:
		return nil
	default:
		e.logger.Warn("event queue full, dropping event", "type", event.Type, "source", event.Source)
		return ErrQueueFull
	}
}

// RegisterEventHandler adds an external handler invoked for every
// processed event.
func (e *Engine) RegisterEventHandler(handler EventHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	e.mu.Unlock()
}

// AddRule constructs a rule from its config and admits it to the table.
// Returns ErrRuleExists for a duplicate ID. Persistence is the caller's
// responsibility after a successful add.
func (e *Engine) AddRule(cfg *RuleConfig) error {
	rule, err := NewRuleFromConfig(cfg, e.deps)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.ID]; exists {
		return ErrRuleExists
	}
	e.rules[rule.ID] = rule

	e.logger.Info("rule added", "rule_id", rule.ID, "name", rule.Name)
	return nil
}

// UpdateRule replaces a rule with a new one built from the config.
// The whole object is swapped under the lock so no partially-updated
// rule is ever visible. Execution stats carry over; trigger memory
// (last-fired day, previous value) intentionally resets.
func (e *Engine) UpdateRule(cfg *RuleConfig) error {
	rule, err := NewRuleFromConfig(cfg, e.deps)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, exists := e.rules[cfg.ID]
	if !exists {
		return ErrRuleNotFound
	}

	snapshot := existing.Snapshot()
	rule.LastTriggered = snapshot.LastTriggered
	rule.ExecutionCount = snapshot.ExecutionCount
	e.rules[cfg.ID] = rule

	e.logger.Info("rule updated", "rule_id", rule.ID, "name", rule.Name)
	return nil
}

// RemoveRule removes a rule from the table.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[id]; !exists {
		return ErrRuleNotFound
	}
	delete(e.rules, id)

	e.logger.Info("rule removed", "rule_id", id)
	return nil
}

// EnableRule enables a rule. Enabling an already-enabled rule is a
// no-op returning success.
func (e *Engine) EnableRule(id string) error {
	return e.setEnabled(id, true)
}

// DisableRule disables a rule. Idempotent like EnableRule.
func (e *Engine) DisableRule(id string) error {
	return e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, exists := e.rules[id]
	if !exists {
		return ErrRuleNotFound
	}
	rule.SetEnabled(enabled)

	e.logger.Info("rule enabled state changed", "rule_id", id, "enabled", enabled)
	return nil
}

// GetRule returns a snapshot of one rule's configuration and stats.
func (e *Engine) GetRule(id string) (RuleConfig, error) {
	e.mu.Lock()
	rule, exists := e.rules[id]
	e.mu.Unlock()

	if !exists {
		return RuleConfig{}, ErrRuleNotFound
	}
	return rule.Snapshot(), nil
}

// GetRules returns snapshots of every rule, sorted by name for
// deterministic ordering.
func (e *Engine) GetRules() []RuleConfig {
	e.mu.Lock()
	rules := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		rules = append(rules, rule)
	}
	e.mu.Unlock()

	configs := make([]RuleConfig, 0, len(rules))
	for _, rule := range rules {
		configs = append(configs, rule.Snapshot())
	}
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].Name != configs[j].Name {
			return configs[i].Name < configs[j].Name
		}
		return configs[i].ID < configs[j].ID
	})
	return configs
}

// RuleCount returns the number of rules in the table.
func (e *Engine) RuleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules)
}

// TriggerRule manually fires a rule: the trigger check is bypassed
// entirely, but conditions and actions still run. Used for "test this
// automation now" semantics.
func (e *Engine) TriggerRule(ctx context.Context, id string) error {
	e.mu.Lock()
	rule, exists := e.rules[id]
	e.mu.Unlock()

	if !exists {
		return ErrRuleNotFound
	}

	ec := NewExecutionContext()
	ec.Vars["manual"] = true
	e.dispatch(ctx, rule, ec)
	return nil
}
