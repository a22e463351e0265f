package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khanh1998/test-pilot/internal/config"
	"github.com/khanh1998/test-pilot/pkg/api"
)

// Wrapper wraps testify assertions with engine-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 100 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus engine-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// FlowValid asserts that a flow definition is valid
func (w *Wrapper) FlowValid(f *api.Flow) {
	w.Helper()
	w.NoError(f.Validate())
	w.NotEmpty(f.ID)
	w.NotEmpty(f.Steps)
}

// FlowInvalid asserts that a flow is invalid and returns the validation error
func (w *Wrapper) FlowInvalid(
	f *api.Flow, expectedErrorContains string,
) error {
	w.Helper()
	err := f.Validate()
	w.Error(err)
	if err != nil && expectedErrorContains != "" {
		w.Contains(err.Error(), expectedErrorContains)
	}
	return err
}

// EndpointStatus asserts the recorded status of one endpoint invocation
func (w *Wrapper) EndpointStatus(
	result *api.ExecutionResult, key api.EndpointKey,
	expected api.EndpointStatus,
) {
	w.Helper()
	state, ok := result.States[key]
	w.True(ok, "result should have endpoint state: %s", key)
	if ok {
		w.Equal(expected, state.Status)
	}
}

// EndpointNeverRan asserts that an endpoint was never scheduled
func (w *Wrapper) EndpointNeverRan(
	result *api.ExecutionResult, key api.EndpointKey,
) {
	w.Helper()
	w.NotContains(result.States, key)
	w.NotContains(result.Responses, key)
}

// AssertionsPassed asserts that every assertion recorded for an endpoint
// passed
func (w *Wrapper) AssertionsPassed(
	result *api.ExecutionResult, key api.EndpointKey,
) {
	w.Helper()
	state, ok := result.States[key]
	w.True(ok, "result should have endpoint state: %s", key)
	if !ok {
		return
	}
	for _, res := range state.Assertions {
		w.True(res.Passed, "assertion %s: %s", res.ID, res.Message)
	}
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= 65535)
	w.True(cfg.RequestTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}
