package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist in the engine.
	ErrRuleNotFound = errors.New("automation: rule not found")

	// ErrRuleExists is returned when adding a rule with an ID that already exists.
	ErrRuleExists = errors.New("automation: rule already exists")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("automation: invalid rule")

	// ErrInvalidName is returned when a rule name is empty or too long.
	ErrInvalidName = errors.New("automation: invalid name")

	// ErrNoActions is returned when a rule has no actions defined.
	ErrNoActions = errors.New("automation: no actions")

	// ErrUnknownTriggerType is returned for an unrecognised trigger type.
	ErrUnknownTriggerType = errors.New("automation: unknown trigger type")

	// ErrUnknownConditionType is returned for an unrecognised condition type.
	ErrUnknownConditionType = errors.New("automation: unknown condition type")

	// ErrUnknownActionType is returned for an unrecognised action type.
	ErrUnknownActionType = errors.New("automation: unknown action type")

	// ErrInvalidTriggerConfig is returned when a trigger config is malformed.
	ErrInvalidTriggerConfig = errors.New("automation: invalid trigger config")

	// ErrInvalidConditionConfig is returned when a condition config is malformed.
	ErrInvalidConditionConfig = errors.New("automation: invalid condition config")

	// ErrInvalidActionConfig is returned when an action config is malformed.
	ErrInvalidActionConfig = errors.New("automation: invalid action config")

	// ErrEngineNotRunning is returned when an operation requires a started engine.
	ErrEngineNotRunning = errors.New("automation: engine not running")

	// ErrQueueFull is returned when the event queue cannot accept more events.
	ErrQueueFull = errors.New("automation: event queue full")
)
