package automation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Comparison operators shared by device_state triggers, device_state
// conditions, and numeric conditions.
const (
	OpEqual      = "=="
	OpNotEqual   = "!="
	OpGreater    = ">"
	OpGreaterEq  = ">="
	OpLess       = "<"
	OpLessEq     = "<="
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
)

// validOperators is the set of recognised comparison operators.
var validOperators = map[string]bool{
	OpEqual:      true,
	OpNotEqual:   true,
	OpGreater:    true,
	OpGreaterEq:  true,
	OpLess:       true,
	OpLessEq:     true,
	OpContains:   true,
	OpStartsWith: true,
	OpEndsWith:   true,
}

// compareValues applies an operator to an observed and an expected value.
//
// Equality compares numerically when both sides coerce to numbers,
// otherwise structurally. Ordering operators require both sides to
// coerce to numbers; string operators compare string forms. A failed
// coercion returns an error, which callers treat as non-match: malformed
// input politely evaluates to false instead of failing the rule.
func compareValues(operator string, actual, expected any) (bool, error) {
	switch operator {
	case OpEqual:
		return valuesEqual(actual, expected), nil
	case OpNotEqual:
		return !valuesEqual(actual, expected), nil

	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		a, ok := toFloat(actual)
		if !ok {
			return false, fmt.Errorf("value %v (%T) is not numeric", actual, actual)
		}
		b, ok := toFloat(expected)
		if !ok {
			return false, fmt.Errorf("value %v (%T) is not numeric", expected, expected)
		}
		switch operator {
		case OpGreater:
			return a > b, nil
		case OpGreaterEq:
			return a >= b, nil
		case OpLess:
			return a < b, nil
		default:
			return a <= b, nil
		}

	case OpContains:
		return strings.Contains(toString(actual), toString(expected)), nil
	case OpStartsWith:
		return strings.HasPrefix(toString(actual), toString(expected)), nil
	case OpEndsWith:
		return strings.HasSuffix(toString(actual), toString(expected)), nil

	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

// valuesEqual compares numerically when possible, falling back to
// structural equality. JSON decodes all numbers to float64, so 80 and
// 80.0 must compare equal regardless of the Go type they arrived in.
func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// toFloat coerces a value to float64. Numeric strings coerce too,
// matching the loose typing of rule configs authored as JSON.
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// toString renders a value in its natural string form.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
