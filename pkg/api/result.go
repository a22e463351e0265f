package api

import (
	"fmt"
	"time"
)

type (
	// EndpointKey identifies one endpoint invocation within a run, formed as
	// "stepID-endpointIndex"
	EndpointKey string

	// EndpointStatus tracks the lifecycle of one endpoint invocation
	EndpointStatus string

	// RunStatus is the orchestrator's run-level state
	RunStatus string

	// LogLevel classifies execution log entries
	LogLevel string

	// Response is the classified outcome of one HTTP dispatch
	Response struct {
		Status     int               `json:"status"`
		Headers    map[string]string `json:"headers,omitempty"`
		Body       any               `json:"body,omitempty"`
		TimeMs     int64             `json:"time_ms"`
		DecodedAs  string            `json:"decoded_as,omitempty"`
		SetCookies []string          `json:"set_cookies,omitempty"`
	}

	// EndpointState is the per-invocation status record kept in runtime state
	EndpointState struct {
		Status     EndpointStatus     `json:"status"`
		Error      string             `json:"error,omitempty"`
		StartedAt  time.Time          `json:"started_at,omitzero"`
		DurationMs int64              `json:"duration_ms,omitempty"`
		Assertions []*AssertionResult `json:"assertions,omitempty"`
	}

	// LogEntry is one append-only entry in the execution log
	LogEntry struct {
		Level   LogLevel  `json:"level"`
		Message string    `json:"message"`
		Time    time.Time `json:"time"`
	}

	// ExecutionResult is produced once per run and owned by the caller after
	// completion. Individual endpoint failures remain inspectable in States
	// regardless of the run-level Success flag.
	ExecutionResult struct {
		RunID       string                         `json:"run_id"`
		FlowID      FlowID                         `json:"flow_id"`
		Success     bool                           `json:"success"`
		Status      RunStatus                      `json:"status"`
		Responses   map[EndpointKey]*Response      `json:"responses"`
		Transformed map[EndpointKey]map[string]any `json:"transformed"`
		States      map[EndpointKey]*EndpointState `json:"states"`
		Log         []*LogEntry                    `json:"log"`
		StartedAt   time.Time                      `json:"started_at"`
		CompletedAt time.Time                      `json:"completed_at,omitzero"`
	}
)

const (
	EndpointRunning   EndpointStatus = "running"
	EndpointCompleted EndpointStatus = "completed"
	EndpointFailed    EndpointStatus = "failed"

	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"

	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// MakeEndpointKey builds the runtime state key for an endpoint invocation
func MakeEndpointKey(stepID StepID, index int) EndpointKey {
	return EndpointKey(fmt.Sprintf("%s-%d", stepID, index))
}

// Header returns a response header by name, or "" when absent
func (r *Response) Header(name string) string {
	if r == nil {
		return ""
	}
	return r.Headers[name]
}

// IsSuccess reports whether the response carries a 2xx status
func (r *Response) IsSuccess() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}
