package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/khanh1998/test-pilot/internal/jsonpath"
	"github.com/khanh1998/test-pilot/pkg/api"
)

// resolveResponse handles `res:stepId-endpointIndex[.jsonPath]`, addressing
// the raw body of a previously stored response
func resolveResponse(expr string, ctx *Context) (any, error) {
	key, path := splitKeyAndPath(expr)

	resp, ok := ctx.Responses[api.EndpointKey(key)]
	if !ok {
		return nil, fmt.Errorf("%w: res:%s", ErrUnresolved, expr)
	}
	if path == "" {
		return resp.Body, nil
	}

	value, found := jsonpath.Get(path, resp.Body)
	if !found {
		return nil, fmt.Errorf("%w: res:%s", ErrUnresolved, expr)
	}
	return value, nil
}

// resolveTransformed handles `proc:stepId-endpointIndex.$.alias[.jsonPath]`,
// addressing a named transformation result
func resolveTransformed(expr string, ctx *Context) (any, error) {
	key, path := splitKeyAndPath(expr)
	if path == "" {
		return nil, fmt.Errorf("%w: proc:%s", ErrUnresolved, expr)
	}

	transformed, ok := ctx.Transformed[api.EndpointKey(key)]
	if !ok {
		return nil, fmt.Errorf("%w: proc:%s", ErrUnresolved, expr)
	}

	alias, rest := splitAlias(path)
	if alias == "" {
		return nil, fmt.Errorf("%w: proc:%s", ErrUnresolved, expr)
	}
	value, ok := transformed[alias]
	if !ok {
		return nil, fmt.Errorf("%w: proc:%s", ErrUnresolved, expr)
	}
	if rest == "" {
		return value, nil
	}

	nested, found := jsonpath.Get(rest, value)
	if !found {
		return nil, fmt.Errorf("%w: proc:%s", ErrUnresolved, expr)
	}
	return nested, nil
}

func resolveParam(name string, ctx *Context) (any, error) {
	param, ok := ctx.Params[name]
	if !ok || param == nil {
		return nil, fmt.Errorf("%w: param:%s", ErrUnresolved, name)
	}
	if param.Value != nil || param.HasValue {
		return param.Value, nil
	}
	if param.Default != nil || param.HasDefault {
		return param.Default, nil
	}
	return nil, fmt.Errorf("%w: param:%s", ErrUnresolved, name)
}

func resolveEnv(name string, ctx *Context) (any, error) {
	value, ok := ctx.Env.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: env:%s", ErrUnresolved, name)
	}
	return value, nil
}

// splitKeyAndPath separates the "stepId-endpointIndex" key from an optional
// $-rooted path suffix. Step IDs may themselves contain dots, so the split
// happens at the ".$" boundary rather than the first dot.
func splitKeyAndPath(expr string) (string, string) {
	idx := strings.Index(expr, ".$")
	if idx < 0 {
		return expr, ""
	}
	return expr[:idx], expr[idx+1:]
}

// splitAlias peels `$.alias` off the front of a path, returning the alias
// and the remaining path re-rooted at $
func splitAlias(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "$.")
	if trimmed == path {
		return "", ""
	}

	alias, rest, found := strings.Cut(trimmed, ".")
	if !found {
		return alias, ""
	}
	return alias, "$." + rest
}

// Stringify renders a resolved value the way the double-brace form needs:
// primitives via their string form, structures as JSON text
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case map[string]any, []any:
		text, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(text)
	default:
		return cast.ToString(v)
	}
}
