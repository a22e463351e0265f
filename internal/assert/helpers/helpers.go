// Package helpers provides engine test fixtures: a mock HTTP API backed by
// httptest plus builders for flows and endpoint definitions.
package helpers

import (
	"testing"
	"time"

	"github.com/khanh1998/test-pilot/internal/config"
	"github.com/khanh1998/test-pilot/internal/dispatch"
	"github.com/khanh1998/test-pilot/internal/runner"
	"github.com/khanh1998/test-pilot/pkg/api"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Runner    *runner.Runner
	API       *MockAPI
	Endpoints []*api.Endpoint
	Config    *config.Config
	Cleanup   func()
}

// Endpoint definitions understood by the mock API
var MockEndpoints = []*api.Endpoint{
	{ID: "login", API: "mock", Method: "POST", Path: "/login"},
	{ID: "list-items", API: "mock", Method: "GET", Path: "/items"},
	{ID: "create-item", API: "mock", Method: "POST", Path: "/items"},
	{ID: "get-item", API: "mock", Method: "GET", Path: "/items/{id}"},
	{ID: "slow", API: "mock", Method: "GET", Path: "/slow"},
	{ID: "flaky", API: "mock", Method: "GET", Path: "/flaky"},
}

// NewTestConfig creates a basic configuration for testing
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.RequestTimeout = 2 * time.Second
	cfg.Work = api.WorkConfig{
		MaxRetries:  2,
		InitBackoff: 5,
		MaxBackoff:  20,
		BackoffType: api.BackoffTypeFixed,
	}
	return cfg
}

// NewTestEngine creates an orchestrator wired to a fresh mock API server
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()

	mock := NewMockAPI()
	cfg := NewTestConfig()

	d := dispatch.New(&dispatch.Config{
		Timeout:         cfg.RequestTimeout,
		Work:            cfg.Work,
		PreserveCookies: true,
	})

	return &TestEngineEnv{
		Runner:    runner.New(d, MockEndpoints, nil),
		API:       mock,
		Endpoints: MockEndpoints,
		Config:    cfg,
		Cleanup:   mock.Close,
	}
}

// Environment returns a run environment pointing at the mock API
func (env *TestEngineEnv) Environment() *api.Environment {
	return &api.Environment{
		Hosts: map[string]string{"mock": env.API.URL()},
		Variables: map[string]*api.Variable{
			"tier": {Value: "test"},
		},
	}
}

// NewFlow builds a flow over the given steps with default settings
func NewFlow(id api.FlowID, steps ...*api.Step) *api.Flow {
	return &api.Flow{
		ID:    id,
		Name:  string(id),
		Steps: steps,
	}
}

// NewStep builds a step over the given endpoints
func NewStep(id api.StepID, endpoints ...*api.StepEndpoint) *api.Step {
	return &api.Step{
		ID:        id,
		Label:     string(id),
		Endpoints: endpoints,
	}
}

// StatusAssertion builds a status_code equals check
func StatusAssertion(id string, status int) *api.Assertion {
	return &api.Assertion{
		ID:         id,
		DataSource: api.SourceResponse,
		Type:       api.AssertStatusCode,
		Operator:   api.OpEquals,
		Expected:   float64(status),
	}
}

// BodyAssertion builds a json_body check against a response path
func BodyAssertion(
	id, path string, op api.Operator, expected any,
) *api.Assertion {
	return &api.Assertion{
		ID:         id,
		DataSource: api.SourceResponse,
		Type:       api.AssertJSONBody,
		DataID:     path,
		Operator:   op,
		Expected:   expected,
	}
}
