package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	as "github.com/khanh1998/test-pilot/internal/assert"
	"github.com/khanh1998/test-pilot/internal/assert/helpers"
	"github.com/khanh1998/test-pilot/internal/config"
	"github.com/khanh1998/test-pilot/internal/runner"
	"github.com/khanh1998/test-pilot/internal/server"
	"github.com/khanh1998/test-pilot/pkg/api"
)

const (
	pollTimeout  = 10 * time.Second
	eventTimeout = 5 * time.Second
)

type integrationEnv struct {
	Web *httptest.Server
	API *helpers.MockAPI
}

func newIntegrationEnv(t *testing.T, cfg *config.Config) *integrationEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mock := helpers.NewMockAPI()
	router := server.NewServer(cfg).SetupRoutes()
	web := httptest.NewServer(router)

	t.Cleanup(func() {
		web.Close()
		mock.Close()
	})
	return &integrationEnv{Web: web, API: mock}
}

func (env *integrationEnv) post(
	t *testing.T, path string, body any,
) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(
		env.Web.URL+path, "application/json", bytes.NewReader(encoded),
	)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (env *integrationEnv) put(
	t *testing.T, path string, body any,
) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(
		http.MethodPut, env.Web.URL+path, bytes.NewReader(encoded),
	)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (env *integrationEnv) runRequest(flowID api.FlowID) *api.RunRequest {
	return &api.RunRequest{
		FlowID: flowID,
		Environment: &api.Environment{
			Hosts: map[string]string{"mock": env.API.URL()},
		},
	}
}

func decodeRunState(t *testing.T, resp *http.Response) *api.RunState {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var state api.RunState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	return &state
}

func (env *integrationEnv) awaitResult(
	t *testing.T, w *as.Wrapper,
) *api.RunState {
	t.Helper()
	var state *api.RunState
	w.Eventually(func() bool {
		resp, err := http.Get(env.Web.URL + "/engine/runs/latest")
		if err != nil {
			return false
		}
		state = decodeRunState(t, resp)
		return state.Result != nil
	}, pollTimeout, "run never produced a result")
	return state
}

func TestEngineOverHTTP(t *testing.T) {
	w := as.New(t)
	env := newIntegrationEnv(t, helpers.NewTestConfig())

	resp := env.put(t, "/engine/endpoints", helpers.MockEndpoints)
	w.Equal(http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	flow := helpers.NewFlow("shopping",
		helpers.NewStep("create",
			&api.StepEndpoint{
				EndpointID: "create-item",
				Body:       map[string]any{"name": "ledger", "tag": "books"},
				Assertions: []*api.Assertion{
					helpers.StatusAssertion("created", 201),
				},
			},
		),
		helpers.NewStep("fetch",
			&api.StepEndpoint{
				EndpointID: "get-item",
				PathParams: map[string]any{"id": "{{{res:create-0.$.id}}}"},
				Assertions: []*api.Assertion{
					helpers.BodyAssertion(
						"name", "$.name", api.OpEquals, "ledger",
					),
				},
			},
		),
	)

	resp = env.post(t, "/engine/flows", flow)
	w.Equal(http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.post(t, "/engine/runs", env.runRequest(flow.ID))
	w.Equal(http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	state := env.awaitResult(t, w)
	w.Equal(api.RunCompleted, state.Status)
	w.InDelta(1.0, state.Progress, 0.001)
	w.Require.NotNil(state.Result)
	w.True(state.Result.Success)
	w.EndpointStatus(state.Result, "fetch-0", api.EndpointCompleted)
	w.Contains(env.API.Requests(), "GET /items/1")

	resp = env.post(t, "/engine/reset", nil)
	w.Equal(http.StatusOK, resp.StatusCode)
	reset := decodeRunState(t, resp)
	w.Equal(api.RunIdle, reset.Status)
	w.Nil(reset.Result)
}

func TestEventStreamOverWebSocket(t *testing.T) {
	w := as.New(t)

	// short attempts so the run outlives the dial but not the test
	cfg := helpers.NewTestConfig()
	cfg.RequestTimeout = 300 * time.Millisecond
	cfg.Work = api.WorkConfig{
		MaxRetries:  1,
		InitBackoff: 5,
		MaxBackoff:  10,
		BackoffType: api.BackoffTypeFixed,
	}
	env := newIntegrationEnv(t, cfg)

	resp := env.put(t, "/engine/endpoints", helpers.MockEndpoints)
	w.Equal(http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(env.Web.URL, "http") + "/engine/ws"

	// no run yet
	_, rejected, err := websocket.DefaultDialer.Dial(wsURL, nil)
	w.Error(err)
	w.Require.NotNil(rejected)
	w.Equal(http.StatusConflict, rejected.StatusCode)

	flow := helpers.NewFlow("stalling",
		helpers.NewStep("stall", &api.StepEndpoint{EndpointID: "slow"}),
	)
	flow.Settings.StopOnError = true
	resp = env.post(t, "/engine/flows", flow)
	w.Equal(http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.post(t, "/engine/runs", env.runRequest(flow.ID))
	w.Equal(http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	conn, handshake, err := websocket.DefaultDialer.Dial(wsURL, nil)
	w.Require.NoError(err)
	defer func() { _ = conn.Close() }()
	_ = handshake.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(eventTimeout))
	sawTerminal := false
	for !sawTerminal {
		var ev runner.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		if ev.Type == runner.EventStatus &&
			ev.Status != api.RunRunning {
			w.Equal(api.RunFailed, ev.Status)
			sawTerminal = true
		}
	}
	w.True(sawTerminal, "expected a terminal status event")
}
