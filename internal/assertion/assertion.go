// Package assertion evaluates typed checks against responses and
// transformed data.
package assertion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/khanh1998/test-pilot/internal/jsonpath"
	"github.com/khanh1998/test-pilot/internal/template"
	"github.com/khanh1998/test-pilot/pkg/api"
)

var (
	ErrBadExpected = errors.New("malformed expected value")
	ErrBadDataID   = errors.New("malformed data reference")
)

// NoFailure is the index reported when every enabled assertion passed
const NoFailure = -1

// EvaluateAll runs the assertions in list order against a response and the
// endpoint's transformed values. It always evaluates every enabled assertion
// and returns the index of the first failure, or NoFailure, so the caller
// can apply its own halting policy. Disabled assertions are recorded as
// skipped and never fail.
func EvaluateAll(
	assertions []*api.Assertion,
	resp *api.Response,
	transformed map[string]any,
	ctx *template.Context,
) ([]*api.AssertionResult, int) {
	results := make([]*api.AssertionResult, 0, len(assertions))
	firstFailure := NoFailure

	for i, a := range assertions {
		if a.Disabled {
			results = append(results, &api.AssertionResult{
				ID:      a.ID,
				Passed:  true,
				Message: "disabled",
			})
			continue
		}

		res := evaluate(a, resp, transformed, ctx)
		if !res.Passed && firstFailure == NoFailure {
			firstFailure = i
		}
		results = append(results, res)
	}
	return results, firstFailure
}

func evaluate(
	a *api.Assertion,
	resp *api.Response,
	transformed map[string]any,
	ctx *template.Context,
) *api.AssertionResult {
	actual, found, err := extract(a, resp, transformed)
	if err != nil {
		return failure(a, err.Error())
	}

	expected, err := resolveExpected(a, ctx)
	if err != nil {
		return failure(a, err.Error())
	}

	passed, detail := apply(a.Operator, actual, found, expected)
	if passed {
		return &api.AssertionResult{ID: a.ID, Passed: true}
	}
	return failure(a, detail)
}

func failure(a *api.Assertion, detail string) *api.AssertionResult {
	return &api.AssertionResult{
		ID:     a.ID,
		Passed: false,
		Message: fmt.Sprintf(
			"%s %s failed: %s", a.Type, a.Operator, detail,
		),
	}
}

// extract produces the observed value for an assertion. The boolean reports
// whether the addressed value exists at all, which drives the existence
// operators.
func extract(
	a *api.Assertion,
	resp *api.Response,
	transformed map[string]any,
) (any, bool, error) {
	switch a.Type {
	case api.AssertStatusCode:
		if resp == nil {
			return nil, false, nil
		}
		return float64(resp.Status), true, nil

	case api.AssertResponseTime:
		if resp == nil {
			return nil, false, nil
		}
		return float64(resp.TimeMs), true, nil

	case api.AssertHeader:
		return headerValue(resp, a.DataID)

	case api.AssertJSONBody:
		if a.Source() == api.SourceTransformed {
			return transformedValue(transformed, a.DataID)
		}
		if resp == nil {
			return nil, false, nil
		}
		if a.DataID == "" || a.DataID == "$" {
			return resp.Body, true, nil
		}
		val, ok := jsonpath.Get(a.DataID, resp.Body)
		return val, ok, nil

	default:
		return nil, false, fmt.Errorf(
			"%w: %s", api.ErrInvalidAssertionType, a.Type,
		)
	}
}

// headerValue looks a header up by case-insensitive name
func headerValue(resp *api.Response, name string) (any, bool, error) {
	if resp == nil || name == "" {
		return nil, false, nil
	}
	if val, ok := resp.Headers[name]; ok {
		return val, true, nil
	}
	for key, val := range resp.Headers {
		if strings.EqualFold(key, name) {
			return val, true, nil
		}
	}
	return nil, false, nil
}

// transformedValue resolves an "alias" or "alias.$.path" reference against
// the endpoint's transformed map
func transformedValue(
	transformed map[string]any, dataID string,
) (any, bool, error) {
	if dataID == "" {
		return nil, false, fmt.Errorf("%w: empty alias", ErrBadDataID)
	}

	alias, rest := dataID, ""
	if idx := strings.Index(dataID, ".$"); idx >= 0 {
		alias = dataID[:idx]
		rest = "$" + dataID[idx+2:]
	}

	val, ok := transformed[alias]
	if !ok {
		return nil, false, nil
	}
	if rest == "" || rest == "$" {
		return val, true, nil
	}
	sub, ok := jsonpath.Get(rest, val)
	return sub, ok, nil
}

// resolveExpected resolves template expressions in expected values before
// comparison
func resolveExpected(a *api.Assertion, ctx *template.Context) (any, error) {
	if !a.IsTemplate || ctx == nil {
		return a.Expected, nil
	}
	s, ok := a.Expected.(string)
	if !ok {
		return a.Expected, nil
	}
	return template.ResolveString(s, ctx)
}
