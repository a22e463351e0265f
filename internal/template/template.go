// Package template resolves {{source:expr}} and {{{source:expr}}} dynamic
// value expressions against a run context. The double-brace form stringifies
// the resolved value; the triple-brace form substitutes the native value,
// preserving its type. Token scanning and structural JSON walking are kept
// separate: the walker applies the tokenizer to string leaves only.
package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kode4food/lru"

	"github.com/khanh1998/test-pilot/pkg/api"
)

type (
	// Context is the read-only state a resolution runs against. It is pure
	// input: resolving never mutates it.
	Context struct {
		Responses   map[api.EndpointKey]*api.Response
		Transformed map[api.EndpointKey]map[string]any
		Params      map[string]*api.Parameter
		Env         *api.Environment
	}

	// span is one template occurrence found inside a string
	span struct {
		start  int
		end    int
		source string
		expr   string
		triple bool
	}
)

const templateCacheSize = 4096

var (
	ErrUnresolved    = errors.New("unresolvable reference")
	ErrUnknownSource = errors.New("unknown template source")

	// parsed spans are cached per unique string; spans hold no context data
	// so the cache can never leak values across runs
	spanCache = lru.NewCache[[]span](templateCacheSize)
)

var sourceNames = map[string]struct{}{
	"res":   {},
	"proc":  {},
	"param": {},
	"env":   {},
	"func":  {},
}

// Resolve walks a decoded JSON structure and resolves template expressions
// found in its string leaves. Non-string values pass through untouched.
func Resolve(raw any, ctx *Context) (any, error) {
	switch v := raw.(type) {
	case string:
		return ResolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			resolved, err := Resolve(elem, ctx)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := Resolve(elem, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return raw, nil
	}
}

// ResolveString resolves the templates inside one string. A string that is
// exactly one triple-brace expression yields the native value, preserving
// its type. Unresolvable double-brace references stay verbatim for
// diagnosability; unresolvable triple-brace references are an error.
func ResolveString(s string, ctx *Context) (any, error) {
	spans, err := scan(s)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return s, nil
	}

	// whole-string triple form substitutes the native value
	if len(spans) == 1 && spans[0].triple &&
		spans[0].start == 0 && spans[0].end == len(s) {
		return resolveSpan(spans[0], ctx)
	}

	var sb strings.Builder
	last := 0
	for _, sp := range spans {
		sb.WriteString(s[last:sp.start])
		last = sp.end

		value, err := resolveSpan(sp, ctx)
		if err != nil {
			if sp.triple {
				return nil, err
			}
			// leave the reference verbatim
			sb.WriteString(s[sp.start:sp.end])
			continue
		}
		sb.WriteString(Stringify(value))
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// scan tokenizes a string into template spans, caching by string content
func scan(s string) ([]span, error) {
	if !strings.Contains(s, "{{") {
		return nil, nil
	}
	return spanCache.Get(s, func() ([]span, error) {
		return scanSpans(s), nil
	})
}

func scanSpans(s string) []span {
	var spans []span
	i := 0

	for i < len(s) {
		open := strings.Index(s[i:], "{{")
		if open < 0 {
			break
		}
		start := i + open

		sp, ok := matchSpan(s, start)
		if !ok {
			i = start + 2
			continue
		}
		spans = append(spans, sp)
		i = sp.end
	}
	return spans
}

// matchSpan tries to read one template occurrence at the given offset,
// preferring the triple-brace form when its closer is present
func matchSpan(s string, start int) (span, bool) {
	triple := strings.HasPrefix(s[start:], "{{{")

	if triple {
		if sp, ok := readSpan(s, start, 3); ok {
			return sp, true
		}
		// fall back to the double form starting one brace later
		if sp, ok := readSpan(s, start+1, 2); ok {
			return sp, true
		}
		return span{}, false
	}
	return readSpan(s, start, 2)
}

func readSpan(s string, start, braces int) (span, bool) {
	closer := strings.Repeat("}", braces)
	inner := start + braces

	close := strings.Index(s[inner:], closer)
	if close < 0 {
		return span{}, false
	}

	body := s[inner : inner+close]
	source, expr, found := strings.Cut(body, ":")
	if !found {
		return span{}, false
	}
	source = strings.TrimSpace(source)
	if _, ok := sourceNames[source]; !ok {
		return span{}, false
	}

	return span{
		start:  start,
		end:    inner + close + braces,
		source: source,
		expr:   strings.TrimSpace(expr),
		triple: braces == 3,
	}, true
}

func resolveSpan(sp span, ctx *Context) (any, error) {
	switch sp.source {
	case "res":
		return resolveResponse(sp.expr, ctx)
	case "proc":
		return resolveTransformed(sp.expr, ctx)
	case "param":
		return resolveParam(sp.expr, ctx)
	case "env":
		return resolveEnv(sp.expr, ctx)
	case "func":
		return callBuiltin(sp.expr)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sp.source)
	}
}
