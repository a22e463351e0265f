package api

import (
	"errors"
	"fmt"

	"github.com/khanh1998/test-pilot/pkg/util"
)

type (
	// DataSource selects what an assertion inspects
	DataSource string

	// AssertionType is the kind of check an assertion performs
	AssertionType string

	// Operator is a comparison applied by an assertion
	Operator string

	// Assertion is a typed check against a response or transformed value.
	// Assertions are enabled unless Disabled is set.
	Assertion struct {
		ID         string        `json:"id"`
		DataSource DataSource    `json:"data_source"`
		Type       AssertionType `json:"assertion_type"`

		// DataID is the JSON path (json_body), header name (header), or
		// "alias[.path]" reference (transformed_data)
		DataID string `json:"data_id,omitempty"`

		Operator Operator `json:"operator"`
		Expected any      `json:"expected_value,omitempty"`

		// IsTemplate marks Expected as a template expression to be resolved
		// before comparison
		IsTemplate bool `json:"is_template_expression,omitempty"`
		Disabled   bool `json:"disabled,omitempty"`
	}

	// AssertionResult reports the outcome of a single assertion
	AssertionResult struct {
		ID      string `json:"id"`
		Passed  bool   `json:"passed"`
		Message string `json:"message,omitempty"`
	}
)

const (
	SourceResponse    DataSource = "response"
	SourceTransformed DataSource = "transformed_data"

	AssertStatusCode   AssertionType = "status_code"
	AssertResponseTime AssertionType = "response_time"
	AssertHeader       AssertionType = "header"
	AssertJSONBody     AssertionType = "json_body"
)

const (
	OpEquals            Operator = "equals"
	OpNotEquals         Operator = "not_equals"
	OpGreaterThan       Operator = "greater_than"
	OpLessThan          Operator = "less_than"
	OpGreaterOrEqual    Operator = "greater_than_or_equal"
	OpLessOrEqual       Operator = "less_than_or_equal"
	OpContains          Operator = "contains"
	OpNotContains       Operator = "not_contains"
	OpStartsWith        Operator = "starts_with"
	OpEndsWith          Operator = "ends_with"
	OpMatches           Operator = "matches"
	OpHasLength         Operator = "has_length"
	OpLengthGreaterThan Operator = "length_greater_than"
	OpLengthLessThan    Operator = "length_less_than"
	OpContainsAll       Operator = "contains_all"
	OpContainsAny       Operator = "contains_any"
	OpNotContainsAny    Operator = "not_contains_any"
	OpOneOf             Operator = "one_of"
	OpIsType            Operator = "is_type"
	OpIsEmpty           Operator = "is_empty"
	OpIsNotEmpty        Operator = "is_not_empty"
	OpBetween           Operator = "between"
	OpNotBetween        Operator = "not_between"
	OpExists            Operator = "exists"
	OpNotExists         Operator = "not_exists"
	OpIsNull            Operator = "is_null"
	OpIsNotNull         Operator = "is_not_null"
)

var (
	ErrAssertionIDEmpty     = errors.New("assertion ID empty")
	ErrInvalidAssertionType = errors.New("invalid assertion type")
	ErrInvalidDataSource    = errors.New("invalid data source")
	ErrInvalidOperator      = errors.New("invalid operator")
	ErrSourceMustBeResponse = errors.New(
		"assertion type requires data_source=response",
	)
)

var (
	validAssertionTypes = util.SetOf(
		AssertStatusCode,
		AssertResponseTime,
		AssertHeader,
		AssertJSONBody,
	)

	validOperators = util.SetOf(
		OpEquals, OpNotEquals,
		OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpMatches,
		OpHasLength, OpLengthGreaterThan, OpLengthLessThan,
		OpContainsAll, OpContainsAny, OpNotContainsAny,
		OpOneOf, OpIsType, OpIsEmpty, OpIsNotEmpty,
		OpBetween, OpNotBetween,
		OpExists, OpNotExists, OpIsNull, OpIsNotNull,
	)

	// responseOnlyTypes forces data_source=response; only json_body may
	// inspect transformed data
	responseOnlyTypes = util.SetOf(
		AssertStatusCode,
		AssertResponseTime,
		AssertHeader,
	)
)

// Validate checks assertion typing and the type/source pairing rules
func (a *Assertion) Validate() error {
	if a.ID == "" {
		return ErrAssertionIDEmpty
	}
	if !validAssertionTypes.Contains(a.Type) {
		return fmt.Errorf("%w: %s", ErrInvalidAssertionType, a.Type)
	}
	if !validOperators.Contains(a.Operator) {
		return fmt.Errorf("%w: %s", ErrInvalidOperator, a.Operator)
	}

	switch a.DataSource {
	case SourceResponse:
	case SourceTransformed:
		if responseOnlyTypes.Contains(a.Type) {
			return fmt.Errorf("%w: %s", ErrSourceMustBeResponse, a.Type)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidDataSource, a.DataSource)
	}
	return nil
}

// Source returns the effective data source, pinning non-body assertion types
// to the raw response
func (a *Assertion) Source() DataSource {
	if responseOnlyTypes.Contains(a.Type) {
		return SourceResponse
	}
	return a.DataSource
}
