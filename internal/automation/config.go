package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Helpers for reading loosely-typed trigger/condition/action configs.
// Configs arrive as map[string]any decoded from JSON, so numbers are
// float64 and nested structures are map[string]any / []any.

// getString reads a string field.
func getString(config map[string]any, key string) (string, bool) {
	v, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// getFloat reads a numeric field, accepting any numeric JSON type.
func getFloat(config map[string]any, key string) (float64, bool) {
	v, ok := config[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// getBool reads a boolean field.
func getBool(config map[string]any, key string) (bool, bool) {
	v, ok := config[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// getMap reads a nested object field.
func getMap(config map[string]any, key string) (map[string]any, bool) {
	v, ok := config[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// getSlice reads an array field.
func getSlice(config map[string]any, key string) ([]any, bool) {
	v, ok := config[key]
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

// parseClock parses an "HH:MM" string into hour and minute.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q has invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q has invalid minute", s)
	}
	return hour, minute, nil
}

// weekdayNames maps config day names to time.Weekday. Both full names
// and three-letter abbreviations are accepted.
var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"sun":       time.Sunday,
	"monday":    time.Monday,
	"mon":       time.Monday,
	"tuesday":   time.Tuesday,
	"tue":       time.Tuesday,
	"wednesday": time.Wednesday,
	"wed":       time.Wednesday,
	"thursday":  time.Thursday,
	"thu":       time.Thursday,
	"friday":    time.Friday,
	"fri":       time.Friday,
	"saturday":  time.Saturday,
	"sat":       time.Saturday,
}

// parseDays parses a list of weekday names into a lookup set.
// An empty or missing list means every day.
func parseDays(raw []any) (map[time.Weekday]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	days := make(map[time.Weekday]bool, len(raw))
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("day %v is not a string", item)
		}
		day, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown day %q", name)
		}
		days[day] = true
	}
	return days, nil
}

// clockMinutes converts a wall-clock time to minutes since midnight.
func clockMinutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
