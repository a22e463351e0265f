package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// FlowID identifies a flow definition
	FlowID string

	// StepID identifies a step within a flow
	StepID string

	// Flow is an ordered sequence of steps, immutable during a single run
	Flow struct {
		ID         FlowID       `json:"id"`
		Name       string       `json:"name"`
		Steps      []*Step      `json:"steps"`
		Parameters []*Parameter `json:"parameters,omitempty"`
		Settings   FlowSettings `json:"settings"`
	}

	// FlowSettings controls how a run schedules and reacts to failures
	FlowSettings struct {
		// Parallel dispatches a step's endpoints concurrently instead of in
		// array order
		Parallel bool `json:"parallel"`

		// StopOnError halts the run after the current step barrier when any
		// endpoint in that step fails
		StopOnError bool `json:"stop_on_error"`
	}

	// Parameter is a caller-supplied flow input with an optional default.
	// HasValue and HasDefault record field presence so a JSON null value
	// stays distinguishable from an absent one.
	Parameter struct {
		Name       string `json:"name"`
		Value      any    `json:"value,omitempty"`
		Default    any    `json:"default,omitempty"`
		HasValue   bool   `json:"-"`
		HasDefault bool   `json:"-"`
	}

	// Step is an ordered unit of the flow containing endpoint invocations
	Step struct {
		ID        StepID          `json:"id"`
		Label     string          `json:"label"`
		Endpoints []*StepEndpoint `json:"endpoints"`
	}

	// StepEndpoint is one configured call to an imported endpoint, scoped to
	// a step. All override fields may contain template expressions.
	StepEndpoint struct {
		EndpointID   string            `json:"endpoint_id"`
		ResponseName string            `json:"response_name,omitempty"`
		PathParams   map[string]any    `json:"path_params,omitempty"`
		QueryParams  map[string]any    `json:"query_params,omitempty"`
		Headers      map[string]string `json:"headers,omitempty"`
		Body         any               `json:"body,omitempty"`
		Transforms   []*Transformation `json:"transformations,omitempty"`
		Assertions   []*Assertion      `json:"assertions,omitempty"`
		WorkConfig   *WorkConfig       `json:"work_config,omitempty"`
	}

	// Transformation is a named derived value computed from a response via
	// the pipeline language
	Transformation struct {
		Alias      string `json:"alias"`
		Expression string `json:"expression"`
	}
)

var (
	ErrFlowIDEmpty        = errors.New("flow ID empty")
	ErrFlowNoSteps        = errors.New("flow has no steps")
	ErrStepIDEmpty        = errors.New("step ID empty")
	ErrStepIDDuplicate    = errors.New("duplicate step ID")
	ErrEndpointRefEmpty   = errors.New("step endpoint references no endpoint")
	ErrTransformNoAlias   = errors.New("transformation alias empty")
	ErrTransformNoExpr    = errors.New("transformation expression empty")
	ErrParameterNameEmpty = errors.New("parameter name empty")
)

// UnmarshalJSON records whether the value and default fields were present
// in the source document, so `"value": null` resolves to nil instead of
// falling through to the default
func (p *Parameter) UnmarshalJSON(data []byte) error {
	type parameter Parameter
	if err := json.Unmarshal(data, (*parameter)(p)); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	_, p.HasValue = fields["value"]
	_, p.HasDefault = fields["default"]
	return nil
}

// Validate checks the structural integrity of a flow definition
func (f *Flow) Validate() error {
	if f.ID == "" {
		return ErrFlowIDEmpty
	}
	if len(f.Steps) == 0 {
		return ErrFlowNoSteps
	}

	seen := map[StepID]struct{}{}
	for _, step := range f.Steps {
		if step.ID == "" {
			return ErrStepIDEmpty
		}
		if _, ok := seen[step.ID]; ok {
			return fmt.Errorf("%w: %s", ErrStepIDDuplicate, step.ID)
		}
		seen[step.ID] = struct{}{}

		if err := step.Validate(); err != nil {
			return err
		}
	}

	for _, param := range f.Parameters {
		if param.Name == "" {
			return ErrParameterNameEmpty
		}
	}
	return nil
}

// Validate checks a step's endpoints, transformations, and assertions
func (s *Step) Validate() error {
	for _, ep := range s.Endpoints {
		if ep.EndpointID == "" {
			return fmt.Errorf("%w: step %s", ErrEndpointRefEmpty, s.ID)
		}

		for _, tr := range ep.Transforms {
			if tr.Alias == "" {
				return fmt.Errorf("%w: step %s", ErrTransformNoAlias, s.ID)
			}
			if tr.Expression == "" {
				return fmt.Errorf("%w: %s", ErrTransformNoExpr, tr.Alias)
			}
		}

		for _, a := range ep.Assertions {
			if err := a.Validate(); err != nil {
				return fmt.Errorf("step %s: %w", s.ID, err)
			}
		}

		if err := ep.WorkConfig.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	return nil
}
