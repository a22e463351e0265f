package api

type (
	// ErrorResponse is the uniform error payload of the engine API
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// RunRequest asks the engine to execute a registered flow against an
	// environment
	RunRequest struct {
		FlowID      FlowID       `json:"flow_id"`
		Environment *Environment `json:"environment"`
	}

	// RunAccepted acknowledges an asynchronous run start
	RunAccepted struct {
		FlowID FlowID    `json:"flow_id"`
		Status RunStatus `json:"status"`
	}

	// RunState reports the engine's current run status and, once terminal,
	// the retained execution result
	RunState struct {
		Status   RunStatus        `json:"status"`
		Progress float64          `json:"progress"`
		Result   *ExecutionResult `json:"result,omitempty"`
	}
)
