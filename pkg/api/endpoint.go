package api

import (
	"errors"
	"fmt"

	"github.com/khanh1998/test-pilot/pkg/util"
)

type (
	// Endpoint is the imported definition of a callable API operation. It is
	// produced by the OpenAPI-import collaborator and referenced by ID from
	// step endpoints.
	Endpoint struct {
		ID     string `json:"id"`
		API    string `json:"api"`
		Method string `json:"method"`

		// Path is the path template with {name} placeholders
		Path string `json:"path"`
	}

	// Variable is an environment value with an optional fallback default
	Variable struct {
		Value   any `json:"value,omitempty"`
		Default any `json:"default,omitempty"`
	}

	// Environment is the resolved context for the selected sub-environment:
	// variable values and per-API host URLs
	Environment struct {
		Variables map[string]*Variable `json:"variables,omitempty"`
		Hosts     map[string]string    `json:"hosts,omitempty"`
	}

	// WorkConfig controls dispatch retry behavior for an endpoint
	WorkConfig struct {
		MaxRetries  int    `json:"max_retries,omitempty"`
		InitBackoff int64  `json:"init_backoff,omitempty"`
		MaxBackoff  int64  `json:"max_backoff,omitempty"`
		BackoffType string `json:"backoff_type,omitempty"`
	}
)

const (
	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"
)

const (
	Second int64 = 1000
	Minute       = Second * 60
	Hour         = Minute * 60
)

var (
	ErrEndpointIDEmpty    = errors.New("endpoint ID empty")
	ErrEndpointNoMethod   = errors.New("endpoint method empty")
	ErrEndpointNoPath     = errors.New("endpoint path empty")
	ErrInvalidBackoffType = errors.New("invalid backoff type")
	ErrNegativeBackoff    = errors.New("init backoff cannot be negative")
	ErrMaxBackoffTooSmall = errors.New("max backoff must be >= init backoff")
)

var validBackoffTypes = util.SetOf(
	BackoffTypeFixed,
	BackoffTypeLinear,
	BackoffTypeExponential,
)

// Validate checks the imported endpoint definition
func (e *Endpoint) Validate() error {
	if e.ID == "" {
		return ErrEndpointIDEmpty
	}
	if e.Method == "" {
		return fmt.Errorf("%w: %s", ErrEndpointNoMethod, e.ID)
	}
	if e.Path == "" {
		return fmt.Errorf("%w: %s", ErrEndpointNoPath, e.ID)
	}
	return nil
}

// Validate checks retry configuration consistency. A nil config is valid and
// means engine defaults apply.
func (wc *WorkConfig) Validate() error {
	if wc == nil {
		return nil
	}
	if wc.InitBackoff < 0 {
		return ErrNegativeBackoff
	}
	if wc.MaxBackoff != 0 && wc.MaxBackoff < wc.InitBackoff {
		return ErrMaxBackoffTooSmall
	}
	if wc.BackoffType != "" && !validBackoffTypes.Contains(wc.BackoffType) {
		return fmt.Errorf("%w: %s", ErrInvalidBackoffType, wc.BackoffType)
	}
	return nil
}

// Lookup resolves a variable to its value, falling back to the default when
// the active environment omits a value. The second result reports whether
// any value was available.
func (env *Environment) Lookup(name string) (any, bool) {
	if env == nil {
		return nil, false
	}
	v, ok := env.Variables[name]
	if !ok || v == nil {
		return nil, false
	}
	if v.Value != nil {
		return v.Value, true
	}
	if v.Default != nil {
		return v.Default, true
	}
	return nil, false
}
