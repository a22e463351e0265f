package pipeline

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/khanh1998/test-pilot/internal/expr"
	"github.com/khanh1998/test-pilot/internal/jsonpath"
)

type (
	whereStage struct {
		cond *expr.Condition
	}

	mapStage struct {
		path jsonpath.Path
	}

	assignment struct {
		key     string
		path    jsonpath.Path
		literal any
		isPath  bool
	}

	transformStage struct {
		assigns []assignment
	}

	groupStage struct {
		path jsonpath.Path
	}

	countStage struct{}

	sumStage struct {
		path jsonpath.Path
	}

	sortStage struct {
		path jsonpath.Path
		desc bool
	}

	takeStage struct {
		n int
	}

	skipStage struct {
		n int
	}

	joinStage struct {
		other jsonpath.Path
		on    string
	}

	pickStage struct {
		keys []string
	}

	omitStage struct {
		keys []string
	}

	getStage struct {
		path jsonpath.Path
	}
)

// stageParsers is the fixed function table. Stages are added by position in
// an expression, never by shadowing a name.
var stageParsers = map[string]stageParser{
	"where":     parseWhere,
	"select":    parseWhere,
	"map":       parseMap,
	"transform": parseTransform,
	"group":     parseGroup,
	"count":     parseCount,
	"sum":       parseSum,
	"sort":      parseSort,
	"take":      parseTake,
	"skip":      parseSkip,
	"join":      parseJoin,
	"pick":      parsePick,
	"omit":      parseOmit,
	"get":       parseGet,
}

func parseWhere(args []string) (stage, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: want 1, got %d", ErrBadArgCount, len(args))
	}
	cond, err := expr.Compile(args[0])
	if err != nil {
		return nil, err
	}
	return &whereStage{cond: cond}, nil
}

func (s *whereStage) apply(_ *evalContext, current any) any {
	arr, ok := asArray(current)
	if !ok {
		return nil
	}
	return lo.Filter(arr, func(elem any, _ int) bool {
		return s.cond.Evaluate(elem)
	})
}

func parseMap(args []string) (stage, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: want 1, got %d", ErrBadArgCount, len(args))
	}
	path, err := compileFieldPath(args[0])
	if err != nil {
		return nil, err
	}
	return &mapStage{path: path}, nil
}

func (s *mapStage) apply(_ *evalContext, current any) any {
	arr, ok := asArray(current)
	if !ok {
		return nil
	}
	return lo.Map(arr, func(elem any, _ int) any {
		v, _ := s.path.Evaluate(elem)
		return v
	})
}

func parseTransform(args []string) (stage, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: want >=1, got 0", ErrBadArgCount)
	}

	assigns := make([]assignment, 0, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadStage, arg)
		}

		a := assignment{key: strings.TrimSpace(key)}
		value = strings.TrimSpace(value)

		if lit, ok := parseLiteral(value); ok {
			a.literal = lit
		} else {
			path, err := compileFieldPath(value)
			if err != nil {
				return nil, err
			}
			a.path = path
			a.isPath = true
		}
		assigns = append(assigns, a)
	}
	return &transformStage{assigns: assigns}, nil
}

func (s *transformStage) apply(_ *evalContext, current any) any {
	arr, ok := asArray(current)
	if !ok {
		return nil
	}
	return lo.Map(arr, func(elem any, _ int) any {
		out := make(map[string]any, len(s.assigns))
		for _, a := range s.assigns {
			if !a.isPath {
				out[a.key] = a.literal
				continue
			}
			v, _ := a.path.Evaluate(elem)
			out[a.key] = v
		}
		return out
	})
}

func parseGroup(args []string) (stage, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: want 1, got %d", ErrBadArgCount, len(args))
	}
	path, err := compileFieldPath(args[0])
	if err != nil {
		return nil, err
	}
	return &groupStage{path: path}, nil
}

func (s *groupStage) apply(_ *evalContext, current any) any {
	arr, ok := asArray(current)
	if !ok {
		return nil
	}

	groups := lo.GroupBy(arr, func(elem any) string {
		v, ok := s.path.Evaluate(elem)
		if !ok {
			return ""
		}
		return cast.ToString(v)
	})

	out := make(map[string]any, len(groups))
	for key, elems := range groups {
		out[key] = elems
	}
	return out
}

func parseCount(args []string) (stage, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("%w: want 0, got %d", ErrBadArgCount, len(args))
	}
	return countStage{}, nil
}

func (countStage) apply(_ *evalContext, current any) any {
	switch v := current.(type) {
	case nil:
		return float64(0)
	case []any:
		return float64(len(v))
	case map[string]any:
		return float64(len(v))
	case string:
		return float64(len(v))
	default:
		return float64(1)
	}
}

func parseSum(args []string) (stage, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("%w: want <=1, got %d", ErrBadArgCount, len(args))
	}

	s := &sumStage{}
	if len(args) == 1 {
		path, err := compileFieldPath(args[0])
		if err != nil {
			return nil, err
		}
		s.path = path
	}
	return s, nil
}

func (s *sumStage) apply(_ *evalContext, current any) any {
	arr, ok := asArray(current)
	if !ok {
		return float64(0)
	}

	total := float64(0)
	for _, elem := range arr {
		value := elem
		if s.path != nil {
			v, ok := s.path.Evaluate(elem)
			if !ok {
				continue
			}
			value = v
		}
		if f, err := cast.ToFloat64E(value); err == nil {
			total += f
		}
	}
	return total
}

func parseSort(args []string) (stage, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("%w: want 1-2, got %d", ErrBadArgCount, len(args))
	}

	path, err := compileFieldPath(args[0])
	if err != nil {
		return nil, err
	}

	s := &sortStage{path: path}
	if len(args) == 2 {
		switch strings.ToLower(unquote(args[1])) {
		case "desc", "true":
			s.desc = true
		case "asc", "false":
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadStage, args[1])
		}
	}
	return s, nil
}

func (s *sortStage) apply(_ *evalContext, current any) any {
	arr, ok := asArray(current)
	if !ok {
		return nil
	}

	sorted := make([]any, len(arr))
	copy(sorted, arr)

	sort.SliceStable(sorted, func(i, j int) bool {
		left, right := s.resolveKey(sorted[i]), s.resolveKey(sorted[j])
		if s.desc {
			return sortLess(right, left)
		}
		return sortLess(left, right)
	})
	return sorted
}

// sortLess orders numerically when both keys coerce, lexically otherwise;
// missing keys sort last
func sortLess(left keyResult, right keyResult) bool {
	lv, lok := left.value, left.ok
	rv, rok := right.value, right.ok
	if !lok {
		return false
	}
	if !rok {
		return true
	}

	lf, lerr := cast.ToFloat64E(lv)
	rf, rerr := cast.ToFloat64E(rv)
	if lerr == nil && rerr == nil {
		return lf < rf
	}
	return cast.ToString(lv) < cast.ToString(rv)
}

func parseTake(args []string) (stage, error) {
	n, err := singleIntArg(args)
	if err != nil {
		return nil, err
	}
	return &takeStage{n: n}, nil
}

func (s *takeStage) apply(_ *evalContext, current any) any {
	arr, ok := asArray(current)
	if !ok {
		return nil
	}
	return lo.Slice(arr, 0, s.n)
}

func parseSkip(args []string) (stage, error) {
	n, err := singleIntArg(args)
	if err != nil {
		return nil, err
	}
	return &skipStage{n: n}, nil
}

func (s *skipStage) apply(_ *evalContext, current any) any {
	arr, ok := asArray(current)
	if !ok {
		return nil
	}
	return lo.Slice(arr, s.n, len(arr))
}

func parseJoin(args []string) (stage, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: want 2, got %d", ErrBadArgCount, len(args))
	}

	other := args[0]
	if !strings.HasPrefix(other, "$") {
		other = "$." + other
	}
	path, err := jsonpath.Compile(other)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadStage, args[0])
	}
	return &joinStage{other: path, on: unquote(args[1])}, nil
}

// apply performs an inner join on field equality. The other collection is
// resolved against the pipeline's root document, so it may reference any
// named collection, not just the piped one.
func (s *joinStage) apply(ec *evalContext, current any) any {
	left, ok := asArray(current)
	if !ok {
		return nil
	}
	rightVal, ok := s.other.Evaluate(ec.root)
	if !ok {
		return []any{}
	}
	right, ok := asArray(rightVal)
	if !ok {
		return []any{}
	}

	index := map[string]map[string]any{}
	for _, elem := range right {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if key, ok := joinKey(obj, s.on); ok {
			index[key] = obj
		}
	}

	joined := make([]any, 0, len(left))
	for _, elem := range left {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		key, ok := joinKey(obj, s.on)
		if !ok {
			continue
		}
		match, ok := index[key]
		if !ok {
			continue
		}

		merged := maps.Clone(obj)
		for k, v := range match {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		joined = append(joined, merged)
	}
	return joined
}

func parsePick(args []string) (stage, error) {
	keys, err := keyListArgs(args)
	if err != nil {
		return nil, err
	}
	return &pickStage{keys: keys}, nil
}

func (s *pickStage) apply(_ *evalContext, current any) any {
	return applyKeys(current, func(obj map[string]any) map[string]any {
		return lo.PickByKeys(obj, s.keys)
	})
}

func parseOmit(args []string) (stage, error) {
	keys, err := keyListArgs(args)
	if err != nil {
		return nil, err
	}
	return &omitStage{keys: keys}, nil
}

func (s *omitStage) apply(_ *evalContext, current any) any {
	return applyKeys(current, func(obj map[string]any) map[string]any {
		return lo.OmitByKeys(obj, s.keys)
	})
}

func parseGet(args []string) (stage, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: want 1, got %d", ErrBadArgCount, len(args))
	}
	path, err := compileFieldPath(args[0])
	if err != nil {
		return nil, err
	}
	return &getStage{path: path}, nil
}

func (s *getStage) apply(_ *evalContext, current any) any {
	v, _ := s.path.Evaluate(current)
	return v
}

// Shared argument helpers

type keyResult struct {
	value any
	ok    bool
}

func (s *sortStage) resolveKey(elem any) keyResult {
	v, ok := s.path.Evaluate(elem)
	return keyResult{value: v, ok: ok}
}

func asArray(value any) ([]any, bool) {
	arr, ok := value.([]any)
	return arr, ok
}

// compileFieldPath accepts a $-rooted path or a bare field name
func compileFieldPath(arg string) (jsonpath.Path, error) {
	text := unquote(arg)
	if !strings.HasPrefix(text, "$") {
		text = "$." + text
	}
	path, err := jsonpath.Compile(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadStage, arg)
	}
	return path, nil
}

func parseLiteral(value string) (any, bool) {
	if len(value) >= 2 && (value[0] == '\'' || value[0] == '"') &&
		value[len(value)-1] == value[0] {
		return value[1 : len(value)-1], true
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f, true
	}
	switch value {
	case "true":
		return true, true
	case "false":
		return false, true
	case "null":
		return nil, true
	}
	return nil, false
}

func singleIntArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: want 1, got %d", ErrBadArgCount, len(args))
	}
	n, err := strconv.Atoi(unquote(args[0]))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadStage, args[0])
	}
	return n, nil
}

func keyListArgs(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: want >=1, got 0", ErrBadArgCount)
	}
	keys := make([]string, 0, len(args))
	for _, arg := range args {
		keys = append(keys, unquote(arg))
	}
	return keys, nil
}

func applyKeys(
	current any, fn func(map[string]any) map[string]any,
) any {
	switch v := current.(type) {
	case map[string]any:
		return fn(v)
	case []any:
		return lo.Map(v, func(elem any, _ int) any {
			obj, ok := elem.(map[string]any)
			if !ok {
				return nil
			}
			return fn(obj)
		})
	default:
		return nil
	}
}

func joinKey(obj map[string]any, field string) (string, bool) {
	v, ok := obj[field]
	if !ok {
		return "", false
	}
	key, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return key, true
}

func unquote(arg string) string {
	arg = strings.TrimSpace(arg)
	if len(arg) >= 2 && (arg[0] == '\'' || arg[0] == '"') &&
		arg[len(arg)-1] == arg[0] {
		return arg[1 : len(arg)-1]
	}
	return arg
}
