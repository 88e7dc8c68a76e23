package automation

import (
	"fmt"
	"regexp"
	"strings"
)

// templatePattern matches ${path.to.value} references inside strings.
var templatePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveString substitutes ${path} references in a string using the
// execution context. Unresolvable references are left verbatim so a
// typo in a notification template is visible rather than silently blank.
func ResolveString(s string, ec *ExecutionContext) string {
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		path := match[2 : len(match)-1]
		if val, ok := ec.Resolve(path); ok {
			return fmt.Sprintf("%v", val)
		}
		return match
	})
}

// ResolveValue resolves variable references in an arbitrary value.
//
// A string of the form "$name" (or "$path.to.value") is replaced by the
// referenced context value; if the reference does not resolve, the
// original string is kept. Strings containing ${...} templates are
// substituted. Maps and slices are resolved recursively.
func ResolveValue(v any, ec *ExecutionContext) any {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "$") && !strings.HasPrefix(val, "${") {
			if resolved, ok := ec.Resolve(val[1:]); ok {
				return resolved
			}
			return val
		}
		return ResolveString(val, ec)

	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = ResolveValue(item, ec)
		}
		return result

	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = ResolveValue(item, ec)
		}
		return result

	default:
		return v
	}
}

// ResolveParams resolves variable references in an action parameter map.
// The input map is never mutated.
func ResolveParams(params map[string]any, ec *ExecutionContext) map[string]any {
	if params == nil {
		return nil
	}
	resolved, _ := ResolveValue(params, ec).(map[string]any)
	return resolved
}
