package expr

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/kode4food/lru"
	"github.com/spf13/cast"
)

const regexCacheSize = 512

var regexCache = lru.NewCache[*regexp.Regexp](regexCacheSize)

func (n *orNode) eval(elem any) bool {
	if n.left.eval(elem) {
		return true
	}
	return n.right.eval(elem)
}

func (n *andNode) eval(elem any) bool {
	if !n.left.eval(elem) {
		return false
	}
	return n.right.eval(elem)
}

func (n *notNode) eval(elem any) bool {
	return !n.inner.eval(elem)
}

func (n *truthyNode) eval(elem any) bool {
	val, ok := n.operand.resolve(elem)
	if !ok {
		return false
	}
	return IsTruthy(val)
}

func (n *quantifierNode) eval(elem any) bool {
	val, ok := n.collection.resolve(elem)
	if !ok {
		return false
	}
	arr, ok := val.([]any)
	if !ok {
		return false
	}

	if n.name == quantAny {
		for _, item := range arr {
			if n.condition.eval(item) {
				return true
			}
		}
		return false
	}

	for _, item := range arr {
		if !n.condition.eval(item) {
			return false
		}
	}
	return true
}

func (n *checkNode) eval(elem any) bool {
	val, ok := n.operand.resolve(elem)
	switch n.name {
	case checkExists:
		return ok
	case checkNull:
		return ok && val == nil
	case checkEmpty:
		return !ok || isEmptyValue(val)
	}
	return false
}

func (n *compareNode) eval(elem any) bool {
	left, leftOK := n.left.resolve(elem)
	right, rightOK := n.right.resolve(elem)

	switch n.op {
	case "==":
		return leftOK && rightOK && looseEqual(left, right)
	case "!=":
		return leftOK && rightOK && !looseEqual(left, right)
	case ">", "<", ">=", "<=":
		return leftOK && rightOK && numericCompare(n.op, left, right)
	case "contains":
		return leftOK && rightOK && containsValue(left, right)
	case "startswith":
		return leftOK && rightOK && stringAffix(left, right, true)
	case "endswith":
		return leftOK && rightOK && stringAffix(left, right, false)
	case "matches":
		return leftOK && rightOK && regexMatch(left, right)
	case "in":
		return leftOK && rightOK && memberOf(left, right)
	case "notin":
		return leftOK && rightOK && !memberOf(left, right)
	}
	return false
}

func (o pathOperand) resolve(elem any) (any, bool) {
	return o.path.Evaluate(elem)
}

func (o identOperand) resolve(elem any) (any, bool) {
	return o.path.Evaluate(elem)
}

func (o literalOperand) resolve(any) (any, bool) {
	return o.value, true
}

// IsTruthy applies JS-style truthiness to a decoded JSON value
func IsTruthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return true
	}
}

// looseEqual compares numerically when both sides coerce and at least one
// side is already a number, otherwise structurally
func looseEqual(left, right any) bool {
	if isNumber(left) || isNumber(right) {
		lf, lerr := cast.ToFloat64E(left)
		rf, rerr := cast.ToFloat64E(right)
		if lerr == nil && rerr == nil {
			return lf == rf
		}
	}
	return reflect.DeepEqual(left, right)
}

// numericCompare coerces both sides via numeric parse; a failed coercion
// makes the comparison false, never an error
func numericCompare(op string, left, right any) bool {
	lf, lerr := cast.ToFloat64E(left)
	rf, rerr := cast.ToFloat64E(right)
	if lerr != nil || rerr != nil {
		return false
	}

	switch op {
	case ">":
		return lf > rf
	case "<":
		return lf < rf
	case ">=":
		return lf >= rf
	case "<=":
		return lf <= rf
	}
	return false
}

func containsValue(left, right any) bool {
	switch l := left.(type) {
	case string:
		r, err := cast.ToStringE(right)
		if err != nil {
			return false
		}
		return strings.Contains(l, r)
	case []any:
		for _, item := range l {
			if looseEqual(item, right) {
				return true
			}
		}
		return false
	case map[string]any:
		key, err := cast.ToStringE(right)
		if err != nil {
			return false
		}
		_, ok := l[key]
		return ok
	default:
		return false
	}
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
	re, err := SafeCompile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(subject)
}

// SafeCompile compiles a pattern after rejecting constructs outside the
// allow-listed subset. Compiled patterns are cached.
func SafeCompile(pattern string) (*regexp.Regexp, error) {
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}
	return regexCache.Get(pattern, func() (*regexp.Regexp, error) {
		return regexp.Compile(pattern)
	})
}

func memberOf(left, right any) bool {
	switch r := right.(type) {
	case []any:
		for _, item := range r {
			if looseEqual(item, left) {
				return true
			}
		}
		return false
	case string:
		l, err := cast.ToStringE(left)
		if err != nil {
			return false
		}
		return strings.Contains(r, l)
	default:
		return false
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
