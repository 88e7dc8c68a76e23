package automation

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Trigger type names accepted by NewTrigger.
const (
	TriggerTime        = "time"
	TriggerSun         = "sun"
	TriggerInterval    = "interval"
	TriggerDeviceState = "device_state"
	TriggerEvent       = "event"
)

// triggerWindow is the tolerance around a scheduled moment. The worker
// loop polls, so a trigger must accept any tick landing within the
// window rather than demanding an exact match.
const triggerWindow = 60 * time.Second

// Trigger is the stateful predicate that detects "this rule should
// consider firing now". A true result updates the trigger's own
// anti-repeat memory, so trigger state is always instance-local: two
// rules with identical trigger configs fire independently.
type Trigger interface {
	// Type returns the trigger type name.
	Type() string

	// Check reports whether the rule's activation condition has just
	// become true for the given context.
	Check(ctx context.Context, ec *ExecutionContext) bool
}

// NewTrigger constructs a trigger from its type name and config.
// Returns an error for unknown types or malformed configs; a rule whose
// trigger fails to construct is never admitted to the engine.
func NewTrigger(triggerType string, config map[string]any, deps Deps) (Trigger, error) {
	switch triggerType {
	case TriggerTime:
		return newTimeTrigger(config, deps)
	case TriggerSun:
		return newSunTrigger(config, deps)
	case TriggerInterval:
		return newIntervalTrigger(config, deps)
	case TriggerDeviceState:
		return newDeviceStateTrigger(config, deps)
	case TriggerEvent:
		return newEventTrigger(config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerType, triggerType)
	}
}

// dayKey identifies a calendar day for once-per-day guards.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// TimeTrigger fires once per day when the wall clock passes a target
// time on an allowed weekday.
type TimeTrigger struct {
	hour   int
	minute int
	days   map[time.Weekday]bool // nil = every day

	lastFiredDay string
}

func newTimeTrigger(config map[string]any, _ Deps) (*TimeTrigger, error) {
	at, ok := getString(config, "time")
	if !ok {
		return nil, fmt.Errorf("%w: time trigger requires \"time\"", ErrInvalidTriggerConfig)
	}
	hour, minute, err := parseClock(at)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTriggerConfig, err)
	}

	var days map[time.Weekday]bool
	if raw, ok := getSlice(config, "days"); ok {
		days, err = parseDays(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTriggerConfig, err)
		}
	}

	return &TimeTrigger{hour: hour, minute: minute, days: days}, nil
}

func (t *TimeTrigger) Type() string { return TriggerTime }

func (t *TimeTrigger) Check(_ context.Context, ec *ExecutionContext) bool {
	now := ec.Timestamp

	if t.days != nil && !t.days[now.Weekday()] {
		return false
	}
	if t.lastFiredDay == dayKey(now) {
		return false
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), t.hour, t.minute, 0, 0, now.Location())
	diff := now.Sub(target)
	if diff < -triggerWindow || diff > triggerWindow {
		return false
	}

	t.lastFiredDay = dayKey(now)
	return true
}

// SunTrigger fires once per day relative to sunrise or sunset.
type SunTrigger struct {
	event         string // "sunrise" or "sunset"
	offsetMinutes float64
	latitude      float64
	longitude     float64

	lastFiredDay string
}

func newSunTrigger(config map[string]any, deps Deps) (*SunTrigger, error) {
	event, ok := getString(config, "event")
	if !ok || (event != "sunrise" && event != "sunset") {
		return nil, fmt.Errorf("%w: sun trigger requires \"event\" of sunrise or sunset", ErrInvalidTriggerConfig)
	}

	t := &SunTrigger{
		event:     event,
		latitude:  deps.Latitude,
		longitude: deps.Longitude,
	}
	if offset, ok := getFloat(config, "offset_minutes"); ok {
		t.offsetMinutes = offset
	}
	// Per-rule coordinates override the site location
	if lat, ok := getFloat(config, "latitude"); ok {
		t.latitude = lat
	}
	if lon, ok := getFloat(config, "longitude"); ok {
		t.longitude = lon
	}

	return t, nil
}

func (t *SunTrigger) Type() string { return TriggerSun }

func (t *SunTrigger) Check(_ context.Context, ec *ExecutionContext) bool {
	now := ec.Timestamp

	if t.lastFiredDay == dayKey(now) {
		return false
	}

	target := t.eventTime(now)
	diff := now.Sub(target)
	if diff < -triggerWindow || diff > triggerWindow {
		return false
	}

	t.lastFiredDay = dayKey(now)
	return true
}

// eventTime computes the solar event time (plus offset) for the day of
// the given timestamp, in that timestamp's location.
func (t *SunTrigger) eventTime(now time.Time) time.Time {
	rise, set := sunrise.SunriseSunset(t.latitude, t.longitude, now.Year(), now.Month(), now.Day())
	target := rise
	if t.event == "sunset" {
		target = set
	}
	return target.In(now.Location()).Add(time.Duration(t.offsetMinutes * float64(time.Minute)))
}

// IntervalTrigger fires every N minutes, optionally only inside a daily
// time window. The first-ever check always fires since there is no
// prior timestamp to measure from.
type IntervalTrigger struct {
	interval time.Duration

	hasWindow   bool
	startHour   int
	startMinute int
	endHour     int
	endMinute   int

	lastTriggered time.Time
}

func newIntervalTrigger(config map[string]any, _ Deps) (*IntervalTrigger, error) {
	minutes, ok := getFloat(config, "interval_minutes")
	if !ok || minutes <= 0 {
		return nil, fmt.Errorf("%w: interval trigger requires positive \"interval_minutes\"", ErrInvalidTriggerConfig)
	}

	t := &IntervalTrigger{interval: time.Duration(minutes * float64(time.Minute))}

	start, hasStart := getString(config, "start_time")
	end, hasEnd := getString(config, "end_time")
	if hasStart != hasEnd {
		return nil, fmt.Errorf("%w: interval window requires both start_time and end_time", ErrInvalidTriggerConfig)
	}
	if hasStart {
		var err error
		t.startHour, t.startMinute, err = parseClock(start)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTriggerConfig, err)
		}
		t.endHour, t.endMinute, err = parseClock(end)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTriggerConfig, err)
		}
		t.hasWindow = true
	}

	return t, nil
}

func (t *IntervalTrigger) Type() string { return TriggerInterval }

func (t *IntervalTrigger) Check(_ context.Context, ec *ExecutionContext) bool {
	now := ec.Timestamp

	if t.hasWindow && !t.inWindow(now) {
		return false
	}

	if !t.lastTriggered.IsZero() && now.Sub(t.lastTriggered) < t.interval {
		return false
	}

	t.lastTriggered = now
	return true
}

// inWindow reports whether the wall clock is inside the daily window.
// A window whose end precedes its start wraps midnight (22:00-06:00).
func (t *IntervalTrigger) inWindow(now time.Time) bool {
	minutes := clockMinutes(now)
	start := t.startHour*60 + t.startMinute
	end := t.endHour*60 + t.endMinute

	if start <= end {
		return minutes >= start && minutes <= end
	}
	return minutes >= start || minutes <= end
}

// DeviceStateTrigger fires on a property value transition: the value
// must have changed since the previous check AND satisfy the comparison.
// Edge-triggered, not level-triggered: a property that already satisfies
// the comparison on the very first check does not fire.
type DeviceStateTrigger struct {
	deviceID string
	property string
	operator string
	value    any

	devices DeviceSource
	logger  Logger

	hasPrevious bool
	previous    any
}

func newDeviceStateTrigger(config map[string]any, deps Deps) (*DeviceStateTrigger, error) {
	deviceID, ok := getString(config, "device_id")
	if !ok {
		return nil, fmt.Errorf("%w: device_state trigger requires \"device_id\"", ErrInvalidTriggerConfig)
	}
	property, ok := getString(config, "property")
	if !ok {
		return nil, fmt.Errorf("%w: device_state trigger requires \"property\"", ErrInvalidTriggerConfig)
	}
	operator, ok := getString(config, "operator")
	if !ok {
		operator = OpEqual
	}
	if !validOperators[operator] {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidTriggerConfig, operator)
	}
	value, ok := config["value"]
	if !ok {
		return nil, fmt.Errorf("%w: device_state trigger requires \"value\"", ErrInvalidTriggerConfig)
	}

	return &DeviceStateTrigger{
		deviceID: deviceID,
		property: property,
		operator: operator,
		value:    value,
		devices:  deps.Devices,
		logger:   deps.log(),
	}, nil
}

func (t *DeviceStateTrigger) Type() string { return TriggerDeviceState }

func (t *DeviceStateTrigger) Check(ctx context.Context, _ *ExecutionContext) bool {
	current, ok := t.devices.GetProperty(ctx, t.deviceID, t.property)
	if !ok {
		// Unknown device or missing property: remember the gap so a
		// later reading counts as a transition
		t.hasPrevious = false
		t.previous = nil
		return false
	}

	hadPrevious := t.hasPrevious
	previous := t.previous

	// Snapshot is updated on every check regardless of match
	t.hasPrevious = true
	t.previous = current

	if !hadPrevious || reflect.DeepEqual(previous, current) {
		return false
	}

	matched, err := compareValues(t.operator, current, t.value)
	if err != nil {
		// Malformed comparisons are a non-match, never an error
		t.logger.Warn("device_state trigger comparison failed",
			"device_id", t.deviceID,
			"property", t.property,
			"error", err,
		)
		return false
	}
	return matched
}

// EventTrigger fires when an event in the context matches all of its
// filters. A missing filter is a wildcard. No anti-repeat guard:
// every qualifying event fires once.
type EventTrigger struct {
	eventType      string
	source         string
	deviceID       string
	dataConditions map[string]any
}

func newEventTrigger(config map[string]any) (*EventTrigger, error) {
	t := &EventTrigger{}
	t.eventType, _ = getString(config, "event_type")
	t.source, _ = getString(config, "source")
	t.deviceID, _ = getString(config, "device_id")
	if data, ok := getMap(config, "data_conditions"); ok {
		t.dataConditions = data
	}
	return t, nil
}

func (t *EventTrigger) Type() string { return TriggerEvent }

// EventType returns the static event-type filter, or "" for any type.
// The event processor uses it to prefilter candidate rules.
func (t *EventTrigger) EventType() string { return t.eventType }

func (t *EventTrigger) Check(_ context.Context, ec *ExecutionContext) bool {
	event := ec.Event
	if event == nil {
		return false
	}

	if t.eventType != "" && event.Type != t.eventType {
		return false
	}
	if t.source != "" && event.Source != t.source {
		return false
	}
	if t.deviceID != "" && event.DeviceID != t.deviceID {
		return false
	}

	for key, expected := range t.dataConditions {
		actual, ok := event.Data[key]
		if !ok || !valuesEqual(actual, expected) {
			return false
		}
	}
	return true
}
