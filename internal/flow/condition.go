package flow

import (
	"fmt"
	"reflect"
	"strings"
)

// evalCondition resolves the dotted field path against the input and applies
// the operator. An unknown operator is a hard error, never a silent pass.
func evalCondition(cfg *ConditionConfig, input any) (bool, error) {
	value, found := resolvePath(input, cfg.Field)

	switch cfg.Operator {
	case "exists":
		return found, nil
	case "eq":
		return found && looseEqual(value, cfg.Value), nil
	case "neq":
		return !found || !looseEqual(value, cfg.Value), nil
	case "gt", "gte", "lt", "lte":
		if !found {
			return false, nil
		}
		left, lok := asFloat(value)
		right, rok := asFloat(cfg.Value)
		if !lok || !rok {
			return false, fmt.Errorf("operator %q requires numeric operands, got %T and %T", cfg.Operator, value, cfg.Value)
		}
		switch cfg.Operator {
		case "gt":
			return left > right, nil
		case "gte":
			return left >= right, nil
		case "lt":
			return left < right, nil
		default:
			return left <= right, nil
		}
	case "contains":
		if !found {
			return false, nil
		}
		return contains(value, cfg.Value)
	default:
		return false, fmt.Errorf("unknown condition operator %q", cfg.Operator)
	}
}

// resolvePath walks a dotted path through nested maps. Returns the value and
// whether every segment resolved.
func resolvePath(input any, path string) (any, bool) {
	if path == "" {
		return input, input != nil
	}

	current := input
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares values the way JSON payloads expect: numbers compare by
// value regardless of Go type, everything else by deep equality.
func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string requires a string operand, got %T", needle)
		}
		return strings.Contains(h, s), nil
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string slice requires a string operand, got %T", needle)
		}
		for _, item := range h {
			if item == s {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("contains is not applicable to %T", haystack)
	}
}
