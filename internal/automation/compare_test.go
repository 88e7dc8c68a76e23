package automation

import "testing"

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		actual   any
		expected any
		want     bool
	}{
		{"equal strings", OpEqual, "on", "on", true},
		{"unequal strings", OpEqual, "on", "off", false},
		{"equal across numeric types", OpEqual, 80, float64(80), true},
		{"equal numeric string", OpEqual, "80", float64(80), true},
		{"not equal", OpNotEqual, float64(1), float64(2), true},
		{"greater", OpGreater, float64(25), float64(20), true},
		{"greater equal at boundary", OpGreaterEq, float64(20), float64(20), true},
		{"less", OpLess, float64(15), float64(20), true},
		{"less equal fails above", OpLessEq, float64(25), float64(20), false},
		{"contains", OpContains, "living room light", "room", true},
		{"contains miss", OpContains, "kitchen", "room", false},
		{"starts_with", OpStartsWith, "zigbee2mqtt/light", "zigbee2mqtt", true},
		{"ends_with", OpEndsWith, "sensor/temperature", "temperature", true},
		{"contains non-string renders value", OpContains, float64(42.5), "42", true},
		{"bool equality", OpEqual, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compareValues(tt.operator, tt.actual, tt.expected)
			if err != nil {
				t.Fatalf("compareValues returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("compareValues(%q, %v, %v) = %v, want %v",
					tt.operator, tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func TestCompareValuesErrors(t *testing.T) {
	if _, err := compareValues(OpGreater, "toasty", float64(20)); err == nil {
		t.Error("expected error comparing non-numeric string with >")
	}
	if _, err := compareValues(OpLess, float64(5), map[string]any{}); err == nil {
		t.Error("expected error comparing against a map")
	}
	if _, err := compareValues("~=", 1, 2); err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(1.5), 1.5, true},
		{int(3), 3, true},
		{int64(4), 4, true},
		{"2.5", 2.5, true},
		{"warm", 0, false},
		{true, 1, true},
		{false, 0, true},
		{nil, 0, false},
		{[]any{1}, 0, false},
	}
	for _, tt := range tests {
		got, ok := toFloat(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("toFloat(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
