package assertion

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cast"

	"github.com/khanh1998/test-pilot/internal/expr"
	"github.com/khanh1998/test-pilot/pkg/api"
)

// apply evaluates one operator against an observed value. It returns the
// outcome plus a short detail used when the assertion fails.
func apply(
	op api.Operator, actual any, found bool, expected any,
) (bool, string) {
	switch op {
	case api.OpExists:
		return found, "value does not exist"
	case api.OpNotExists:
		return !found, fmt.Sprintf("value exists: %v", actual)
	case api.OpIsNull:
		return found && actual == nil, fmt.Sprintf("got %v", actual)
	case api.OpIsNotNull:
		return found && actual != nil, fmt.Sprintf("got %v", actual)
	}

	if !found {
		return false, "value does not exist"
	}

	switch op {
	case api.OpEquals:
		return looseEqual(actual, expected),
			fmt.Sprintf("got %v, want %v", actual, expected)
	case api.OpNotEquals:
		return !looseEqual(actual, expected),
			fmt.Sprintf("got %v, want anything else", actual)

	case api.OpGreaterThan, api.OpLessThan,
		api.OpGreaterOrEqual, api.OpLessOrEqual:
		return numericCompare(op, actual, expected),
			fmt.Sprintf("got %v, want %s %v", actual, op, expected)

	case api.OpContains:
		return containsValue(actual, expected),
			fmt.Sprintf("%v does not contain %v", actual, expected)
	case api.OpNotContains:
		return !containsValue(actual, expected),
			fmt.Sprintf("%v contains %v", actual, expected)

	case api.OpStartsWith:
		return stringAffix(actual, expected, true),
			fmt.Sprintf("%v does not start with %v", actual, expected)
	case api.OpEndsWith:
		return stringAffix(actual, expected, false),
			fmt.Sprintf("%v does not end with %v", actual, expected)

	case api.OpMatches:
		return regexMatch(actual, expected),
			fmt.Sprintf("%v does not match %v", actual, expected)

	case api.OpHasLength, api.OpLengthGreaterThan, api.OpLengthLessThan:
		return lengthCompare(op, actual, expected)

	case api.OpContainsAll:
		return containsEach(actual, expected, true),
			fmt.Sprintf("%v does not contain all of %v", actual, expected)
	case api.OpContainsAny:
		return containsEach(actual, expected, false),
			fmt.Sprintf("%v contains none of %v", actual, expected)
	case api.OpNotContainsAny:
		return !containsEach(actual, expected, false),
			fmt.Sprintf("%v contains one of %v", actual, expected)

	case api.OpOneOf:
		return oneOf(actual, expected),
			fmt.Sprintf("got %v, want one of %v", actual, expected)

	case api.OpIsType:
		name := typeName(actual)
		return name == cast.ToString(expected),
			fmt.Sprintf("got %s (%v), want %v", name, actual, expected)

	case api.OpIsEmpty:
		return isEmptyValue(actual), fmt.Sprintf("got %v", actual)
	case api.OpIsNotEmpty:
		return !isEmptyValue(actual), "value is empty"

	case api.OpBetween:
		ok, detail := between(actual, expected)
		return ok, detail
	case api.OpNotBetween:
		ok, detail := between(actual, expected)
		if ok {
			return false, fmt.Sprintf(
				"got %v, inside range %v", actual, expected,
			)
		}
		return true, detail

	default:
		return false, fmt.Sprintf("unknown operator %s", op)
	}
}

// looseEqual is structural equality with numeric coercion: two values that
// both parse as numbers compare numerically, everything else compares deeply
func looseEqual(left, right any) bool {
	if isNumber(left) || isNumber(right) {
		l, lerr := cast.ToFloat64E(left)
		r, rerr := cast.ToFloat64E(right)
		if lerr == nil && rerr == nil {
			return l == r
		}
	}
	return reflect.DeepEqual(left, right)
}

func numericCompare(op api.Operator, left, right any) bool {
	l, lerr := cast.ToFloat64E(left)
	r, rerr := cast.ToFloat64E(right)
	if lerr != nil || rerr != nil {
		return false
	}
	switch op {
	case api.OpGreaterThan:
		return l > r
	case api.OpLessThan:
		return l < r
	case api.OpGreaterOrEqual:
		return l >= r
	case api.OpLessOrEqual:
		return l <= r
	default:
		return false
	}
}

func containsValue(left, right any) bool {
	switch l := left.(type) {
	case string:
		r, err := cast.ToStringE(right)
		return err == nil && strings.Contains(l, r)
	case []any:
		for _, item := range l {
			if looseEqual(item, right) {
				return true
			}
		}
		return false
	case map[string]any:
		r, err := cast.ToStringE(right)
		if err != nil {
			return false
		}
		_, ok := l[r]
		return ok
	default:
		return false
	}
}

// containsEach checks collection membership for every (all=true) or at
// least one (all=false) expected element
func containsEach(actual, expected any, all bool) bool {
	items, ok := expected.([]any)
	if !ok || len(items) == 0 {
		return false
	}
	for _, item := range items {
		has := containsValue(actual, item)
		if all && !has {
			return false
		}
		if !all && has {
			return true
		}
	}
	return all
}

func oneOf(actual, expected any) bool {
	items, ok := expected.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if looseEqual(actual, item) {
			return true
		}
	}
	return false
}

func stringAffix(left, right any, prefix bool) bool {
	l, lerr := cast.ToStringE(left)
	r, rerr := cast.ToStringE(right)
	if lerr != nil || rerr != nil {
		return false
	}
	if prefix {
		return strings.HasPrefix(l, r)
	}
	return strings.HasSuffix(l, r)
}

func regexMatch(left, right any) bool {
	subject, lerr := cast.ToStringE(left)
	pattern, rerr := cast.ToStringE(right)
	if lerr != nil || rerr != nil {
		return false
	}
	re, err := expr.SafeCompile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(subject)
}

func lengthCompare(
	op api.Operator, actual, expected any,
) (bool, string) {
	length, ok := lengthOf(actual)
	if !ok {
		return false, fmt.Sprintf("%v has no length", actual)
	}
	want, err := cast.ToFloat64E(expected)
	if err != nil {
		return false, fmt.Sprintf("%v: %v", ErrBadExpected, expected)
	}

	var passed bool
	switch op {
	case api.OpHasLength:
		passed = float64(length) == want
	case api.OpLengthGreaterThan:
		passed = float64(length) > want
	case api.OpLengthLessThan:
		passed = float64(length) < want
	}
	return passed, fmt.Sprintf("length %d, want %s %v", length, op, expected)
}

func lengthOf(val any) (int, bool) {
	switch v := val.(type) {
	case string:
		return len(v), true
	case []any:
		return len(v), true
	case map[string]any:
		return len(v), true
	default:
		return 0, false
	}
}

// between checks an inclusive 2-element numeric range
func between(actual, expected any) (bool, string) {
	bounds, ok := expected.([]any)
	if !ok || len(bounds) != 2 {
		return false, fmt.Sprintf(
			"%v: range wants exactly 2 elements, got %v",
			ErrBadExpected, expected,
		)
	}
	val, verr := cast.ToFloat64E(actual)
	lo, loerr := cast.ToFloat64E(bounds[0])
	hi, hierr := cast.ToFloat64E(bounds[1])
	if verr != nil || loerr != nil || hierr != nil {
		return false, fmt.Sprintf(
			"got %v, not comparable with range %v", actual, expected,
		)
	}
	return val >= lo && val <= hi, fmt.Sprintf(
		"got %v, outside range [%v, %v]", actual, lo, hi,
	)
}

func typeName(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		if isNumber(val) {
			return "number"
		}
		return "unknown"
	}
}

func isEmptyValue(val any) bool {
	switch v := val.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func isNumber(val any) bool {
	switch val.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
