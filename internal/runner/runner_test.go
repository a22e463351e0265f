package runner_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanh1998/test-pilot/internal/dispatch"
	"github.com/khanh1998/test-pilot/internal/runner"
	"github.com/khanh1998/test-pilot/pkg/api"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []*dispatch.Request
	handler func(req *dispatch.Request) (*api.Response, error)
}

func (d *fakeDispatcher) Dispatch(
	ctx context.Context, req *dispatch.Request,
) (*api.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.calls = append(d.calls, req)
	d.mu.Unlock()
	return d.handler(req)
}

func (d *fakeDispatcher) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	urls := make([]string, len(d.calls))
	for i, c := range d.calls {
		urls[i] = c.URL
	}
	return urls
}

func jsonResponse(status int, body any) *api.Response {
	return &api.Response{
		Status:    status,
		Body:      body,
		TimeMs:    1,
		DecodedAs: "json",
	}
}

var testEndpoints = []*api.Endpoint{
	{ID: "create", API: "shop", Method: "POST", Path: "/items"},
	{ID: "get", API: "shop", Method: "GET", Path: "/items/{id}"},
	{ID: "list", API: "shop", Method: "GET", Path: "/items"},
}

func testEnv() *api.Environment {
	return &api.Environment{
		Hosts: map[string]string{"shop": "http://shop.test"},
	}
}

func okAssertion(id string) *api.Assertion {
	return &api.Assertion{
		ID: id, DataSource: api.SourceResponse,
		Type: api.AssertStatusCode, Operator: api.OpEquals,
		Expected: float64(200),
	}
}

func TestCrossStepDataFlow(t *testing.T) {
	d := &fakeDispatcher{handler: func(req *dispatch.Request) (*api.Response, error) {
		if req.Method == "POST" {
			return jsonResponse(200, map[string]any{"id": float64(42)}), nil
		}
		return jsonResponse(200, map[string]any{"name": "widget"}), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID: "flow-1",
		Steps: []*api.Step{
			{ID: "step1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "create"},
			}},
			{ID: "step2", Endpoints: []*api.StepEndpoint{
				{
					EndpointID: "get",
					PathParams: map[string]any{
						"id": "{{res:step1-0.$.id}}",
					},
				},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, api.RunCompleted, result.Status)
	assert.Equal(t, []string{
		"http://shop.test/items",
		"http://shop.test/items/42",
	}, d.urls())
	assert.Equal(t, api.EndpointCompleted,
		result.States["step1-0"].Status)
	assert.Equal(t, api.EndpointCompleted,
		result.States["step2-0"].Status)
}

func TestNamedResponse(t *testing.T) {
	d := &fakeDispatcher{handler: func(req *dispatch.Request) (*api.Response, error) {
		if req.Method == "POST" {
			return jsonResponse(200, map[string]any{
				"token": "tok-9",
			}), nil
		}
		return jsonResponse(200, nil), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID: "flow-named",
		Steps: []*api.Step{
			{ID: "login", Endpoints: []*api.StepEndpoint{
				{EndpointID: "create", ResponseName: "auth"},
			}},
			{ID: "fetch", Endpoints: []*api.StepEndpoint{
				{
					EndpointID: "list",
					Headers: map[string]string{
						"Authorization": "Bearer {{res:auth.$.token}}",
					},
				},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)
	require.True(t, result.Success)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.calls, 2)
	assert.Equal(t, "Bearer tok-9", d.calls[1].Headers["Authorization"])
}

func TestTransformationsAndAssertions(t *testing.T) {
	d := &fakeDispatcher{handler: func(*dispatch.Request) (*api.Response, error) {
		return jsonResponse(200, map[string]any{
			"items": []any{
				map[string]any{"name": "a", "price": float64(5)},
				map[string]any{"name": "b", "price": float64(15)},
			},
		}), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID: "flow-tx",
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{
					EndpointID: "list",
					Transforms: []*api.Transformation{
						{
							Alias:      "pricey",
							Expression: "$.items | where($.price > 10) | count()",
						},
					},
					Assertions: []*api.Assertion{
						{
							ID: "a1", DataSource: api.SourceTransformed,
							Type: api.AssertJSONBody, DataID: "pricey",
							Operator: api.OpEquals, Expected: float64(1),
						},
					},
				},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, float64(1), result.Transformed["s1-0"]["pricey"])

	state := result.States["s1-0"]
	require.Len(t, state.Assertions, 1)
	assert.True(t, state.Assertions[0].Passed)
}

func TestStopOnError(t *testing.T) {
	d := &fakeDispatcher{handler: func(req *dispatch.Request) (*api.Response, error) {
		return jsonResponse(200, map[string]any{"ok": true}), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID:       "flow-halt",
		Settings: api.FlowSettings{StopOnError: true},
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list", Assertions: []*api.Assertion{
					okAssertion("ok-1"),
				}},
			}},
			{ID: "s2", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list", Assertions: []*api.Assertion{
					{
						ID: "fail-me", DataSource: api.SourceResponse,
						Type: api.AssertStatusCode, Operator: api.OpEquals,
						Expected: float64(500),
					},
				}},
			}},
			{ID: "s3", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, api.RunFailed, result.Status)
	// step 3 never dispatched, its status never set
	assert.Len(t, d.urls(), 2)
	assert.NotContains(t, result.States, api.EndpointKey("s3-0"))
	assert.Equal(t, api.EndpointFailed, result.States["s2-0"].Status)
	assert.Contains(t, result.States["s2-0"].Error, "fail-me")
}

func TestFailureWithoutStopOnError(t *testing.T) {
	d := &fakeDispatcher{handler: func(req *dispatch.Request) (*api.Response, error) {
		if req.Method == "POST" {
			return jsonResponse(500, nil), nil
		}
		return jsonResponse(200, nil), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID: "flow-continue",
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "create"},
			}},
			{ID: "s2", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)

	// both steps ran; the run completes and the failure stays visible in
	// the endpoint state map
	assert.Len(t, d.urls(), 2)
	assert.True(t, result.Success)
	assert.Equal(t, api.RunCompleted, result.Status)
	assert.Equal(t, api.EndpointFailed, result.States["s1-0"].Status)
	assert.Equal(t, api.EndpointCompleted, result.States["s2-0"].Status)
}

func TestParallelStep(t *testing.T) {
	var active, peak int
	var mu sync.Mutex
	d := &fakeDispatcher{handler: func(*dispatch.Request) (*api.Response, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return jsonResponse(200, nil), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID:       "flow-par",
		Settings: api.FlowSettings{Parallel: true},
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
				{EndpointID: "list"},
				{EndpointID: "list"},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.States, 3)
	assert.Greater(t, peak, 1)
}

func TestConfigurationErrors(t *testing.T) {
	d := &fakeDispatcher{handler: func(*dispatch.Request) (*api.Response, error) {
		return jsonResponse(200, nil), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID: "flow-cfg",
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
			}},
		},
	}

	// missing host for the referenced API
	_, err := r.Run(context.Background(), flow, &api.Environment{})
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrConfiguration)
	assert.Empty(t, d.urls())

	// unknown endpoint reference
	bad := &api.Flow{
		ID: "flow-bad-ref",
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "nope"},
			}},
		},
	}
	_, err = r.Run(context.Background(), bad, testEnv())
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrUnknownRef)
	assert.Empty(t, d.urls())
}

func TestStatusLifecycle(t *testing.T) {
	d := &fakeDispatcher{handler: func(*dispatch.Request) (*api.Response, error) {
		return jsonResponse(200, nil), nil
	}}
	r := runner.New(d, testEndpoints, nil)
	assert.Equal(t, api.RunIdle, r.Status())

	flow := &api.Flow{
		ID: "flow-status",
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)
	assert.Equal(t, api.RunCompleted, result.Status)
	assert.Equal(t, api.RunCompleted, r.Status())
	assert.Equal(t, 1.0, r.Progress())

	r.Reset()
	assert.Equal(t, api.RunIdle, r.Status())

	// a fresh run is allowed again after reset
	result, err = r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestResetMidRunStopsAndDiscards(t *testing.T) {
	release := make(chan struct{})
	d := &fakeDispatcher{handler: func(*dispatch.Request) (*api.Response, error) {
		<-release
		return jsonResponse(200, map[string]any{"late": true}), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID: "flow-reset",
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
			}},
			{ID: "s2", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
			}},
		},
	}

	done := make(chan *api.ExecutionResult, 1)
	go func() {
		result, err := r.Run(context.Background(), flow, testEnv())
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		return r.Status() == api.RunRunning
	}, time.Second, 5*time.Millisecond)

	r.Reset()
	close(release)

	result := <-done
	assert.Equal(t, api.RunStopped, result.Status)
	// the orchestrator itself stays idle after the reset
	assert.Equal(t, api.RunIdle, r.Status())
	// the in-flight endpoint's late completion never dispatched step 2
	assert.LessOrEqual(t, len(d.urls()), 1)
}

func TestWatchEvents(t *testing.T) {
	d := &fakeDispatcher{handler: func(*dispatch.Request) (*api.Response, error) {
		return jsonResponse(200, nil), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	events, closer := r.Watch()
	defer closer()

	flow := &api.Flow{
		ID: "flow-watch",
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
			}},
		},
	}

	_, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)

	var statuses []api.RunStatus
	var sawProgress bool
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case runner.EventStatus:
				statuses = append(statuses, ev.Status)
			case runner.EventProgress:
				sawProgress = true
				assert.Equal(t, 1.0, ev.Progress)
			}
			if len(statuses) == 2 {
				assert.Equal(t, []api.RunStatus{
					api.RunRunning, api.RunCompleted,
				}, statuses)
				assert.True(t, sawProgress)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestEmptyStepAdvances(t *testing.T) {
	d := &fakeDispatcher{handler: func(*dispatch.Request) (*api.Response, error) {
		return jsonResponse(200, nil), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID: "flow-empty",
		Steps: []*api.Step{
			{ID: "s1"},
			{ID: "s2", Endpoints: []*api.StepEndpoint{
				{EndpointID: "list"},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, d.urls(), 1)
}

func TestFlowParameters(t *testing.T) {
	d := &fakeDispatcher{handler: func(*dispatch.Request) (*api.Response, error) {
		return jsonResponse(200, nil), nil
	}}
	r := runner.New(d, testEndpoints, nil)

	flow := &api.Flow{
		ID: "flow-params",
		Parameters: []*api.Parameter{
			{Name: "limit", Value: float64(10)},
			{Name: "sort", Default: "asc"},
		},
		Steps: []*api.Step{
			{ID: "s1", Endpoints: []*api.StepEndpoint{
				{
					EndpointID: "list",
					QueryParams: map[string]any{
						"limit": "{{param:limit}}",
						"sort":  "{{param:sort}}",
					},
				},
			}},
		},
	}

	result, err := r.Run(context.Background(), flow, testEnv())
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t,
		"http://shop.test/items?limit=10&sort=asc", d.urls()[0])
}
