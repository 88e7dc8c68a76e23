package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxNameLength = 100

// TriggerConfig is the persisted form of a trigger.
type TriggerConfig struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// ConditionConfig is the persisted form of a condition.
type ConditionConfig struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// ActionConfig is the persisted form of an action.
type ActionConfig struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// RuleConfig is the durable representation of an automation rule, as
// stored by the repository and exchanged with the API layer.
type RuleConfig struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Enabled        bool              `json:"enabled"`
	Trigger        TriggerConfig     `json:"trigger"`
	ConditionLogic string            `json:"condition_logic"` // "and" or "or"
	Conditions     []ConditionConfig `json:"conditions,omitempty"`
	Actions        []ActionConfig    `json:"actions"`

	// Execution stats, owned by the live rule while the engine runs
	LastTriggered  *time.Time `json:"last_triggered,omitempty"`
	ExecutionCount int64      `json:"execution_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerateID returns a new unique rule identifier.
func GenerateID() string {
	return uuid.New().String()
}

// Rule is the live trigger+conditions+actions unit managed by the
// engine. The engine exclusively owns the rule table; each rule
// exclusively owns its trigger, conditions, and actions, so there is no
// cross-rule shared mutable state.
type Rule struct {
	ID             string
	Name           string
	Trigger        Trigger
	ConditionLogic string
	Conditions     []Condition
	Actions        []Action

	LastTriggered  *time.Time
	ExecutionCount int64

	// statsMu protects enabled and LastTriggered/ExecutionCount.
	// These fields are written by the engine's API-facing mutations and
	// read by loops that have already released the engine lock, so they
	// carry their own guard.
	statsMu sync.Mutex
	enabled bool
	config  RuleConfig // retained for snapshots and persistence
	logger  Logger
}

// IsEnabled reports whether the rule currently fires.
func (r *Rule) IsEnabled() bool {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.enabled
}

// SetEnabled flips the rule's enabled flag.
func (r *Rule) SetEnabled(enabled bool) {
	r.statsMu.Lock()
	r.enabled = enabled
	r.statsMu.Unlock()
}

// ValidateConfig checks a rule config without constructing the rule's
// sub-objects. Used by the API layer for fast rejection; full
// construction via NewRuleFromConfig is still the admission gate.
func ValidateConfig(cfg *RuleConfig) error {
	if cfg == nil {
		return ErrInvalidRule
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}

	if cfg.Trigger.Type == "" {
		return fmt.Errorf("%w: trigger is required", ErrInvalidRule)
	}

	if cfg.ConditionLogic != "" && cfg.ConditionLogic != CombinatorAnd && cfg.ConditionLogic != CombinatorOr {
		return fmt.Errorf("%w: condition_logic must be %q or %q", ErrInvalidRule, CombinatorAnd, CombinatorOr)
	}

	if len(cfg.Actions) == 0 {
		return ErrNoActions
	}

	return nil
}

// NewRuleFromConfig validates a config and constructs the live rule.
// Every trigger, condition, and action must construct successfully; a
// rule with any malformed sub-object is never admitted to the engine.
func NewRuleFromConfig(cfg *RuleConfig, deps Deps) (*Rule, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.ID == "" {
		cfg.ID = GenerateID()
	}
	if cfg.ConditionLogic == "" {
		cfg.ConditionLogic = CombinatorAnd
	}

	trigger, err := NewTrigger(cfg.Trigger.Type, cfg.Trigger.Config, deps)
	if err != nil {
		return nil, fmt.Errorf("trigger: %w", err)
	}

	conditions := make([]Condition, 0, len(cfg.Conditions))
	for i, cc := range cfg.Conditions {
		condition, err := NewCondition(cc.Type, cc.Config, deps)
		if err != nil {
			return nil, fmt.Errorf("condition[%d]: %w", i, err)
		}
		conditions = append(conditions, condition)
	}

	actions := make([]Action, 0, len(cfg.Actions))
	for i, ac := range cfg.Actions {
		action, err := NewAction(ac.Type, ac.Config, deps)
		if err != nil {
			return nil, fmt.Errorf("action[%d]: %w", i, err)
		}
		actions = append(actions, action)
	}

	return &Rule{
		ID:             cfg.ID,
		Name:           cfg.Name,
		enabled:        cfg.Enabled,
		Trigger:        trigger,
		ConditionLogic: cfg.ConditionLogic,
		Conditions:     conditions,
		Actions:        actions,
		LastTriggered:  cfg.LastTriggered,
		ExecutionCount: cfg.ExecutionCount,
		config:         *cfg,
		logger:         deps.log(),
	}, nil
}

// CheckTrigger reports whether the rule's trigger has fired. Disabled
// rules never fire. A panicking trigger is caught and logged as false:
// a broken trigger must not crash the engine.
func (r *Rule) CheckTrigger(ctx context.Context, ec *ExecutionContext) (fired bool) {
	if !r.IsEnabled() {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("trigger check panicked", "rule_id", r.ID, "panic", rec)
			fired = false
		}
	}()

	return r.Trigger.Check(ctx, ec)
}

// EvaluateConditions applies the rule's combinator to its conditions.
// An empty condition list is vacuously true. A panicking condition is
// caught and logged as false.
func (r *Rule) EvaluateConditions(ctx context.Context, ec *ExecutionContext) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("condition evaluation panicked", "rule_id", r.ID, "panic", rec)
			ok = false
		}
	}()

	return evaluateAll(ctx, ec, r.ConditionLogic, r.Conditions)
}

// ActionResult records the outcome of one action within an execution.
type ActionResult struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// ExecuteActions runs the rule's actions sequentially, in declaration
// order. One action failing does not stop later actions. After the full
// pass, LastTriggered and ExecutionCount are updated exactly once,
// regardless of individual outcomes: a rule that ran counts as
// triggered even if every action failed.
//
// Returns the aggregate success flag and the per-action outcomes.
func (r *Rule) ExecuteActions(ctx context.Context, ec *ExecutionContext) (bool, []ActionResult) {
	results := make([]ActionResult, 0, len(r.Actions))
	allOK := true

	for i, action := range r.Actions {
		success := r.executeOne(ctx, ec, i, action)
		if !success {
			allOK = false
		}
		results = append(results, ActionResult{
			Index:   i,
			Type:    r.config.Actions[i].Type,
			Success: success,
		})
	}

	now := time.Now().UTC()
	r.statsMu.Lock()
	r.LastTriggered = &now
	r.ExecutionCount++
	r.statsMu.Unlock()

	return allOK, results
}

// executeOne runs a single action with panic containment.
func (r *Rule) executeOne(ctx context.Context, ec *ExecutionContext, index int, action Action) (success bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("action panicked",
				"rule_id", r.ID,
				"action_index", index,
				"panic", rec,
			)
			success = false
		}
	}()

	return action.Execute(ctx, ec)
}

// Snapshot returns the rule's durable representation with current
// stats. The returned config is a copy; callers can modify it freely.
func (r *Rule) Snapshot() RuleConfig {
	cfg := r.config

	r.statsMu.Lock()
	cfg.Enabled = r.enabled
	cfg.ExecutionCount = r.ExecutionCount
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		cfg.LastTriggered = &t
	}
	r.statsMu.Unlock()

	return cfg
}

// eventTypeFilter returns the static event-type filter for event
// triggers, or ("", false) for non-event triggers.
func (r *Rule) eventTypeFilter() (string, bool) {
	et, ok := r.Trigger.(*EventTrigger)
	if !ok {
		return "", false
	}
	return et.EventType(), true
}
