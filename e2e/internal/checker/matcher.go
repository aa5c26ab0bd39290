package checker

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// MatchesExpectation checks if actual value matches expected value.
// Returns (true, "") on match, (false, "reason") on mismatch.
//
// Expected strings may be matchers: "~pattern~" is a regular expression,
// and ">n", "<n", ">=n", "<=n" compare numerically. Numbers match across
// types, including numeric strings such as Redis hash fields.
func MatchesExpectation(actual, expected interface{}) (bool, string) {
	if expected == nil || actual == nil {
		if expected == nil && actual == nil {
			return true, ""
		}
		return false, fmt.Sprintf("expected %v, got %v", expected, actual)
	}

	if s, ok := expected.(string); ok {
		if len(s) >= 2 && strings.HasPrefix(s, "~") && strings.HasSuffix(s, "~") {
			return matchRegex(actual, s[1:len(s)-1])
		}
		if strings.HasPrefix(s, ">") || strings.HasPrefix(s, "<") {
			return matchComparison(actual, s)
		}
	}

	switch exp := expected.(type) {
	case float64, float32, int, int32, int64, uint64:
		return matchNumber(actual, expected)

	case string:
		got, ok := actual.(string)
		if !ok {
			return false, fmt.Sprintf("expected string, got %T", actual)
		}
		if got != exp {
			return false, fmt.Sprintf("expected %q, got %q", exp, got)
		}
		return true, ""

	case bool:
		got, ok := actual.(bool)
		if !ok {
			if s, isStr := actual.(string); isStr {
				parsed, err := strconv.ParseBool(s)
				if err == nil {
					got, ok = parsed, true
				}
			}
		}
		if !ok {
			return false, fmt.Sprintf("expected bool, got %T", actual)
		}
		if got != exp {
			return false, fmt.Sprintf("expected %v, got %v", exp, got)
		}
		return true, ""

	case map[string]interface{}:
		return matchMap(actual, exp)
	}

	if reflect.DeepEqual(actual, expected) {
		return true, ""
	}
	return false, fmt.Sprintf("expected %v, got %v", expected, actual)
}

// MatchAll applies every expectation to the fields of actual
func MatchAll(actual map[string]interface{}, expected map[string]interface{}) (bool, string) {
	return matchMap(actual, expected)
}

func matchNumber(actual, expected interface{}) (bool, string) {
	got, err := toFloat64(actual)
	if err != nil {
		return false, fmt.Sprintf("actual value is not numeric: %v", actual)
	}
	want, _ := toFloat64(expected)
	if got == want {
		return true, ""
	}
	return false, fmt.Sprintf("expected %v, got %v", expected, actual)
}

func matchRegex(actual interface{}, pattern string) (bool, string) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid regex pattern %q: %v", pattern, err)
	}

	s := fmt.Sprintf("%v", actual)
	if re.MatchString(s) {
		return true, ""
	}
	return false, fmt.Sprintf("value %q does not match pattern ~%s~", s, pattern)
}

func matchComparison(actual interface{}, comparison string) (bool, string) {
	got, err := toFloat64(actual)
	if err != nil {
		return false, fmt.Sprintf("cannot compare non-numeric value: %v", actual)
	}

	op := comparison[:1]
	if strings.HasPrefix(comparison[1:], "=") {
		op = comparison[:2]
	}

	want, err := strconv.ParseFloat(strings.TrimSpace(comparison[len(op):]), 64)
	if err != nil {
		return false, fmt.Sprintf("invalid comparison value: %s", comparison)
	}

	var ok bool
	switch op {
	case ">":
		ok = got > want
	case "<":
		ok = got < want
	case ">=":
		ok = got >= want
	case "<=":
		ok = got <= want
	}
	if ok {
		return true, ""
	}
	return false, fmt.Sprintf("expected value %s %v, got %v", op, want, got)
}

func matchMap(actual interface{}, expected map[string]interface{}) (bool, string) {
	got, ok := actual.(map[string]interface{})
	if !ok {
		return false, fmt.Sprintf("expected map, got %T", actual)
	}

	for key, want := range expected {
		value, exists := got[key]
		if !exists {
			return false, fmt.Sprintf("missing key %q", key)
		}
		if ok, reason := MatchesExpectation(value, want); !ok {
			return false, fmt.Sprintf("key %q: %s", key, reason)
		}
	}
	return true, ""
}

func toFloat64(val interface{}) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("not a numeric type: %T", val)
	}
}
