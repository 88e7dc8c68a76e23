package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Condition type names accepted by NewCondition.
const (
	ConditionTime        = "time"
	ConditionSun         = "sun"
	ConditionDeviceState = "device_state"
	ConditionNumeric     = "numeric"
	ConditionBoolean     = "boolean"
)

// Combinators for a rule's top-level condition list.
const (
	CombinatorAnd = "and"
	CombinatorOr  = "or"
)

// Condition is a stateless gating predicate evaluated after a trigger
// fires. Unlike triggers, conditions are level-triggered: they report
// whether something is currently true, with no memory between calls.
type Condition interface {
	// Evaluate reports whether the condition currently holds.
	Evaluate(ctx context.Context, ec *ExecutionContext) bool
}

// NewCondition constructs a condition from its type name and config.
// Boolean conditions construct their children recursively; any child
// failing to construct fails the whole condition.
func NewCondition(conditionType string, config map[string]any, deps Deps) (Condition, error) {
	switch conditionType {
	case ConditionTime:
		return newTimeCondition(config)
	case ConditionSun:
		return newSunCondition(config, deps)
	case ConditionDeviceState:
		return newDeviceStateCondition(config, deps)
	case ConditionNumeric:
		return newNumericCondition(config, deps)
	case ConditionBoolean:
		return newBooleanCondition(config, deps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionType, conditionType)
	}
}

// evaluateAll applies a combinator to a list of conditions.
// An empty list is vacuously true under both combinators.
func evaluateAll(ctx context.Context, ec *ExecutionContext, combinator string, conditions []Condition) bool {
	if len(conditions) == 0 {
		return true
	}

	if combinator == CombinatorOr {
		for _, c := range conditions {
			if c.Evaluate(ctx, ec) {
				return true
			}
		}
		return false
	}

	for _, c := range conditions {
		if !c.Evaluate(ctx, ec) {
			return false
		}
	}
	return true
}

// TimeCondition gates on the wall clock: after a time, before a time,
// and/or on specific weekdays. A before earlier than after expresses an
// overnight range (after 22:00, before 06:00).
type TimeCondition struct {
	hasAfter     bool
	afterMinutes int

	hasBefore     bool
	beforeMinutes int

	days map[time.Weekday]bool // nil = every day
}

func newTimeCondition(config map[string]any) (*TimeCondition, error) {
	c := &TimeCondition{}

	if after, ok := getString(config, "after"); ok {
		hour, minute, err := parseClock(after)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConditionConfig, err)
		}
		c.hasAfter = true
		c.afterMinutes = hour*60 + minute
	}
	if before, ok := getString(config, "before"); ok {
		hour, minute, err := parseClock(before)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConditionConfig, err)
		}
		c.hasBefore = true
		c.beforeMinutes = hour*60 + minute
	}
	if raw, ok := getSlice(config, "days"); ok {
		days, err := parseDays(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConditionConfig, err)
		}
		c.days = days
	}

	if !c.hasAfter && !c.hasBefore && c.days == nil {
		return nil, fmt.Errorf("%w: time condition requires after, before, or days", ErrInvalidConditionConfig)
	}
	return c, nil
}

func (c *TimeCondition) Evaluate(_ context.Context, ec *ExecutionContext) bool {
	now := ec.Timestamp

	if c.days != nil && !c.days[now.Weekday()] {
		return false
	}

	minutes := clockMinutes(now)
	switch {
	case c.hasAfter && c.hasBefore && c.afterMinutes > c.beforeMinutes:
		// Overnight range
		return minutes >= c.afterMinutes || minutes < c.beforeMinutes
	case c.hasAfter && c.hasBefore:
		return minutes >= c.afterMinutes && minutes < c.beforeMinutes
	case c.hasAfter:
		return minutes >= c.afterMinutes
	case c.hasBefore:
		return minutes < c.beforeMinutes
	default:
		return true
	}
}

// SunCondition gates on the sun's position: before or after sunrise or
// sunset, with an optional offset in minutes.
type SunCondition struct {
	event         string // "sunrise" or "sunset"
	position      string // "before" or "after"
	offsetMinutes float64
	latitude      float64
	longitude     float64
}

func newSunCondition(config map[string]any, deps Deps) (*SunCondition, error) {
	event, ok := getString(config, "event")
	if !ok || (event != "sunrise" && event != "sunset") {
		return nil, fmt.Errorf("%w: sun condition requires \"event\" of sunrise or sunset", ErrInvalidConditionConfig)
	}
	position, ok := getString(config, "position")
	if !ok || (position != "before" && position != "after") {
		return nil, fmt.Errorf("%w: sun condition requires \"position\" of before or after", ErrInvalidConditionConfig)
	}

	c := &SunCondition{
		event:     event,
		position:  position,
		latitude:  deps.Latitude,
		longitude: deps.Longitude,
	}
	if offset, ok := getFloat(config, "offset_minutes"); ok {
		c.offsetMinutes = offset
	}
	if lat, ok := getFloat(config, "latitude"); ok {
		c.latitude = lat
	}
	if lon, ok := getFloat(config, "longitude"); ok {
		c.longitude = lon
	}
	return c, nil
}

func (c *SunCondition) Evaluate(_ context.Context, ec *ExecutionContext) bool {
	now := ec.Timestamp

	rise, set := sunrise.SunriseSunset(c.latitude, c.longitude, now.Year(), now.Month(), now.Day())
	target := rise
	if c.event == "sunset" {
		target = set
	}
	target = target.In(now.Location()).Add(time.Duration(c.offsetMinutes * float64(time.Minute)))

	if c.position == "before" {
		return now.Before(target)
	}
	return !now.Before(target)
}

// DeviceStateCondition gates on a device property's current value.
// Level-triggered: no edge detection, no memory.
type DeviceStateCondition struct {
	deviceID string
	property string
	operator string
	value    any

	devices DeviceSource
	logger  Logger
}

func newDeviceStateCondition(config map[string]any, deps Deps) (*DeviceStateCondition, error) {
	deviceID, ok := getString(config, "device_id")
	if !ok {
		return nil, fmt.Errorf("%w: device_state condition requires \"device_id\"", ErrInvalidConditionConfig)
	}
	property, ok := getString(config, "property")
	if !ok {
		return nil, fmt.Errorf("%w: device_state condition requires \"property\"", ErrInvalidConditionConfig)
	}
	operator, ok := getString(config, "operator")
	if !ok {
		operator = OpEqual
	}
	if !validOperators[operator] {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidConditionConfig, operator)
	}
	value, ok := config["value"]
	if !ok {
		return nil, fmt.Errorf("%w: device_state condition requires \"value\"", ErrInvalidConditionConfig)
	}

	return &DeviceStateCondition{
		deviceID: deviceID,
		property: property,
		operator: operator,
		value:    value,
		devices:  deps.Devices,
		logger:   deps.log(),
	}, nil
}

func (c *DeviceStateCondition) Evaluate(ctx context.Context, _ *ExecutionContext) bool {
	current, ok := c.devices.GetProperty(ctx, c.deviceID, c.property)
	if !ok {
		return false
	}

	matched, err := compareValues(c.operator, current, c.value)
	if err != nil {
		c.logger.Warn("device_state condition comparison failed",
			"device_id", c.deviceID,
			"property", c.property,
			"error", err,
		)
		return false
	}
	return matched
}

// NumericCondition compares two values, each optionally resolved from
// the context via a "$name" reference.
type NumericCondition struct {
	value     any
	operator  string
	compareTo any

	logger Logger
}

func newNumericCondition(config map[string]any, deps Deps) (*NumericCondition, error) {
	value, ok := config["value"]
	if !ok {
		return nil, fmt.Errorf("%w: numeric condition requires \"value\"", ErrInvalidConditionConfig)
	}
	operator, ok := getString(config, "operator")
	if !ok || !validOperators[operator] {
		return nil, fmt.Errorf("%w: numeric condition requires a valid \"operator\"", ErrInvalidConditionConfig)
	}
	compareTo, ok := config["compare_to"]
	if !ok {
		return nil, fmt.Errorf("%w: numeric condition requires \"compare_to\"", ErrInvalidConditionConfig)
	}

	return &NumericCondition{
		value:     value,
		operator:  operator,
		compareTo: compareTo,
		logger:    deps.log(),
	}, nil
}

func (c *NumericCondition) Evaluate(_ context.Context, ec *ExecutionContext) bool {
	left := ResolveValue(c.value, ec)
	right := ResolveValue(c.compareTo, ec)

	matched, err := compareValues(c.operator, left, right)
	if err != nil {
		c.logger.Warn("numeric condition comparison failed", "error", err)
		return false
	}
	return matched
}

// BooleanCondition composes child conditions with AND, OR, or NOT.
type BooleanCondition struct {
	operator string // "and", "or", or "not"
	children []Condition
}

func newBooleanCondition(config map[string]any, deps Deps) (*BooleanCondition, error) {
	operator, ok := getString(config, "operator")
	if !ok || (operator != "and" && operator != "or" && operator != "not") {
		return nil, fmt.Errorf("%w: boolean condition requires \"operator\" of and, or, or not", ErrInvalidConditionConfig)
	}

	raw, ok := getSlice(config, "conditions")
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: boolean condition requires child conditions", ErrInvalidConditionConfig)
	}
	if operator == "not" && len(raw) != 1 {
		return nil, fmt.Errorf("%w: not requires exactly one child condition", ErrInvalidConditionConfig)
	}

	children := make([]Condition, 0, len(raw))
	for i, item := range raw {
		childConfig, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: child condition %d is not an object", ErrInvalidConditionConfig, i)
		}
		childType, ok := getString(childConfig, "type")
		if !ok {
			return nil, fmt.Errorf("%w: child condition %d missing \"type\"", ErrInvalidConditionConfig, i)
		}
		cfg, _ := getMap(childConfig, "config")
		child, err := NewCondition(childType, cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("child condition %d: %w", i, err)
		}
		children = append(children, child)
	}

	return &BooleanCondition{operator: operator, children: children}, nil
}

func (c *BooleanCondition) Evaluate(ctx context.Context, ec *ExecutionContext) bool {
	switch c.operator {
	case "not":
		return !c.children[0].Evaluate(ctx, ec)
	case "or":
		return evaluateAll(ctx, ec, CombinatorOr, c.children)
	default:
		return evaluateAll(ctx, ec, CombinatorAnd, c.children)
	}
}
