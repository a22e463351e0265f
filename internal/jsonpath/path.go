// Package jsonpath evaluates a restricted JSONPath dialect against decoded
// JSON values. Supported forms are the root `$`, dotted property access,
// bracket numeric index, bracket wildcard, bracket slice, and bracket quoted
// keys. Absence is a first-class result, never an error.
package jsonpath

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/kode4food/lru"
)

type (
	// Path is a compiled path expression
	Path []segment

	segment interface {
		apply(value any) (any, bool)
	}

	keySegment      string
	indexSegment    int
	wildcardSegment struct{}

	sliceSegment struct {
		start    int
		end      int
		hasStart bool
		hasEnd   bool
	}
)

const pathCacheSize = 4096

var (
	ErrBadPath       = errors.New("malformed path")
	ErrMissingRoot   = errors.New("path must start with $")
	ErrUnclosedIndex = errors.New("unterminated bracket")

	// compiled paths are cached by their literal text only, never by data
	pathCache = lru.NewCache[Path](pathCacheSize)
)

// Get compiles the path through the shared cache and evaluates it against
// data. The second result reports whether the traversal reached a value.
func Get(path string, data any) (any, bool) {
	compiled, err := Compile(path)
	if err != nil {
		return nil, false
	}
	return compiled.Evaluate(data)
}

// Compile tokenizes and parses a path expression
func Compile(path string) (Path, error) {
	return pathCache.Get(path, func() (Path, error) {
		return parse(path)
	})
}

// Evaluate walks the compiled path over a decoded JSON value. Traversal
// short-circuits to a miss as soon as an intermediate segment has nothing to
// address. A wildcard or slice produces an array; later segments project
// over its elements, dropping elements that miss.
func (p Path) Evaluate(data any) (any, bool) {
	current := data
	projected := false

	for _, seg := range p {
		if !projected {
			next, ok := seg.apply(current)
			if !ok {
				return nil, false
			}
			if _, fanOut := seg.(wildcardSegment); fanOut {
				projected = true
			}
			if _, fanOut := seg.(sliceSegment); fanOut {
				projected = true
			}
			current = next
			continue
		}

		elems, ok := current.([]any)
		if !ok {
			return nil, false
		}
		mapped := make([]any, 0, len(elems))
		for _, elem := range elems {
			if v, ok := seg.apply(elem); ok {
				mapped = append(mapped, v)
			}
		}
		current = mapped
	}
	return current, true
}

func (s keySegment) apply(value any) (any, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[string(s)]
	return v, ok
}

func (s indexSegment) apply(value any) (any, bool) {
	arr, ok := value.([]any)
	if !ok {
		return nil, false
	}
	idx := int(s)
	if idx < 0 {
		idx += len(arr)
	}
	if idx < 0 || idx >= len(arr) {
		return nil, false
	}
	return arr[idx], true
}

func (wildcardSegment) apply(value any) (any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case map[string]any:
		vals := make([]any, 0, len(v))
		for _, key := range sortedKeys(v) {
			vals = append(vals, v[key])
		}
		return vals, true
	default:
		return nil, false
	}
}

func (s sliceSegment) apply(value any) (any, bool) {
	arr, ok := value.([]any)
	if !ok {
		return nil, false
	}

	start, end := 0, len(arr)
	if s.hasStart {
		start = clampIndex(s.start, len(arr))
	}
	if s.hasEnd {
		end = clampIndex(s.end, len(arr))
	}
	if start > end {
		return []any{}, true
	}
	return arr[start:end], true
}

func clampIndex(idx, length int) int {
	if idx < 0 {
		idx += length
	}
	return min(max(idx, 0), length)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// parse is a tokenize-then-interpret pass over the path literal. Dots and
// brackets may be freely mixed, as in $.items[0].tags[*]
func parse(path string) (Path, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed[0] != '$' {
		return nil, fmt.Errorf("%w: %q", ErrMissingRoot, path)
	}

	var segs Path
	rest := trimmed[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			name, remainder, err := parseDotted(rest[1:], path)
			if err != nil {
				return nil, err
			}
			segs = append(segs, keySegment(name))
			rest = remainder
		case '[':
			seg, remainder, err := parseBracket(rest[1:], path)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			rest = remainder
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
	}
	return segs, nil
}

func parseDotted(rest, path string) (string, string, error) {
	end := 0
	for end < len(rest) && isIdentRune(rune(rest[end])) {
		end++
	}
	if end == 0 {
		return "", "", fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	return rest[:end], rest[end:], nil
}

func parseBracket(rest, path string) (segment, string, error) {
	close := strings.IndexByte(rest, ']')
	if close < 0 {
		return nil, "", fmt.Errorf("%w: %q", ErrUnclosedIndex, path)
	}

	inner := strings.TrimSpace(rest[:close])
	remainder := rest[close+1:]

	seg, err := parseBracketInner(inner, path)
	if err != nil {
		return nil, "", err
	}
	return seg, remainder, nil
}

func parseBracketInner(inner, path string) (segment, error) {
	switch {
	case inner == "*":
		return wildcardSegment{}, nil

	case len(inner) >= 2 && isQuote(inner[0]):
		if inner[len(inner)-1] != inner[0] {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
		return keySegment(inner[1 : len(inner)-1]), nil

	case strings.Contains(inner, ":"):
		return parseSlice(inner, path)

	default:
		idx, err := strconv.Atoi(inner)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
		return indexSegment(idx), nil
	}
}

func parseSlice(inner, path string) (segment, error) {
	parts := strings.SplitN(inner, ":", 2)
	seg := sliceSegment{}

	if s := strings.TrimSpace(parts[0]); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
		seg.start = v
		seg.hasStart = true
	}
	if s := strings.TrimSpace(parts[1]); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
		seg.end = v
		seg.hasEnd = true
	}
	return seg, nil
}

func isQuote(c byte) bool {
	return c == '\'' || c == '"'
}

func isIdentRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '-'
}
