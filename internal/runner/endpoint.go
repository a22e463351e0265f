package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/khanh1998/test-pilot/internal/assertion"
	"github.com/khanh1998/test-pilot/internal/dispatch"
	"github.com/khanh1998/test-pilot/internal/pipeline"
	"github.com/khanh1998/test-pilot/internal/template"
	"github.com/khanh1998/test-pilot/pkg/api"
	"github.com/khanh1998/test-pilot/pkg/log"
)

// executeSteps walks the flow's steps under a strict barrier: a step never
// starts before the previous one has fully completed. Returns the run's
// terminal status.
func (r *Runner) executeSteps(
	ctx context.Context, generation uint64, state *runtimeState,
	flow *api.Flow, env *api.Environment,
) api.RunStatus {
	params := paramMap(flow.Parameters)

	for i, step := range flow.Steps {
		if ctx.Err() != nil {
			r.logf(state, api.LogWarning, "run cancelled before step %s",
				step.ID)
			return api.RunStopped
		}

		r.logf(state, api.LogInfo, "step %s (%d/%d) started",
			step.ID, i+1, len(flow.Steps))
		r.executeStep(ctx, generation, state, step, flow, params, env)
		r.stepCompleted(generation)

		if ctx.Err() != nil {
			return api.RunStopped
		}
		if flow.Settings.StopOnError && state.failed() {
			r.logf(state, api.LogError,
				"stopping after step %s: an endpoint failed", step.ID)
			return api.RunFailed
		}
	}

	// without stop-on-error the run itself succeeds; per-endpoint failures
	// stay visible in the endpoint state map
	return api.RunCompleted
}

// executeStep runs one step's endpoints, concurrently or in array order per
// the flow settings. A step with no endpoints advances immediately.
func (r *Runner) executeStep(
	ctx context.Context, generation uint64, state *runtimeState,
	step *api.Step, flow *api.Flow, params map[string]*api.Parameter,
	env *api.Environment,
) {
	if len(step.Endpoints) == 0 {
		return
	}

	// endpoints in a concurrent step see only pre-step state
	responses, transformed := state.templateView()

	if !flow.Settings.Parallel {
		for i, ep := range step.Endpoints {
			if ctx.Err() != nil {
				return
			}
			r.executeEndpoint(ctx, generation, state, step, i, ep,
				responses, transformed, params, env)
		}
		return
	}

	var wg sync.WaitGroup
	for i, ep := range step.Endpoints {
		wg.Add(1)
		go func(i int, ep *api.StepEndpoint) {
			defer wg.Done()
			r.executeEndpoint(ctx, generation, state, step, i, ep,
				responses, transformed, params, env)
		}(i, ep)
	}
	wg.Wait()
}

func (r *Runner) executeEndpoint(
	ctx context.Context, generation uint64, state *runtimeState,
	step *api.Step, index int, ep *api.StepEndpoint,
	responses map[api.EndpointKey]*api.Response,
	transformed map[api.EndpointKey]map[string]any,
	params map[string]*api.Parameter, env *api.Environment,
) {
	key := api.MakeEndpointKey(step.ID, index)
	started := time.Now()
	state.markRunning(key, started)

	tmplCtx := &template.Context{
		Responses:   responses,
		Transformed: transformed,
		Params:      params,
		Env:         env,
	}

	resp, aliased, failErr := r.invoke(ctx, step, ep, tmplCtx)

	endState := &api.EndpointState{
		Status:     api.EndpointCompleted,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}

	var results []*api.AssertionResult
	if failErr == nil {
		var firstFailure int
		results, firstFailure = assertion.EvaluateAll(
			ep.Assertions, resp, aliased, tmplCtx,
		)
		endState.Assertions = results

		switch {
		case firstFailure != assertion.NoFailure:
			failErr = fmt.Errorf("assertion %s failed: %s",
				results[firstFailure].ID, results[firstFailure].Message)
		case !resp.IsSuccess():
			failErr = fmt.Errorf("endpoint returned HTTP %d", resp.Status)
		}
	}

	if failErr != nil {
		endState.Status = api.EndpointFailed
		endState.Error = failErr.Error()
	}

	if !state.commit(generation, key, ep.ResponseName, resp, aliased, endState) {
		r.logger.Debug("stale endpoint result discarded",
			log.EndpointKey(key),
			log.StepID(step.ID))
		return
	}

	if failErr != nil {
		r.logf(state, api.LogError, "endpoint %s failed: %v", key, failErr)
		return
	}
	r.logf(state, api.LogInfo, "endpoint %s completed in %dms",
		key, endState.DurationMs)
}

// invoke resolves, dispatches, and transforms one endpoint call. The raw
// response is returned even when the call is considered failed so that it
// remains inspectable in runtime state.
func (r *Runner) invoke(
	ctx context.Context, step *api.Step, ep *api.StepEndpoint,
	tmplCtx *template.Context,
) (*api.Response, map[string]any, error) {
	req, err := r.buildRequest(ep, tmplCtx)
	if err != nil {
		return nil, nil, err
	}

	resp, err := r.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	aliased := map[string]any{}
	for _, tr := range ep.Transforms {
		val, err := pipeline.Run(tr.Expression, resp.Body)
		if err != nil {
			return resp, aliased, fmt.Errorf(
				"transformation %s: %w", tr.Alias, err,
			)
		}
		aliased[tr.Alias] = val
	}
	return resp, aliased, nil
}

// buildRequest turns a step endpoint plus its definition into a dispatchable
// request: host resolution, path placeholder fill, query string, headers,
// and raw body text
func (r *Runner) buildRequest(
	ep *api.StepEndpoint, tmplCtx *template.Context,
) (*dispatch.Request, error) {
	def, ok := r.endpoints[ep.EndpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRef, ep.EndpointID)
	}

	path := def.Path
	for name, raw := range ep.PathParams {
		val, err := template.Resolve(raw, tmplCtx)
		if err != nil {
			return nil, fmt.Errorf("path param %s: %w", name, err)
		}
		path = strings.ReplaceAll(path,
			"{"+name+"}", url.PathEscape(template.Stringify(val)))
	}

	query := url.Values{}
	for name, raw := range ep.QueryParams {
		val, err := template.Resolve(raw, tmplCtx)
		if err != nil {
			return nil, fmt.Errorf("query param %s: %w", name, err)
		}
		query.Set(name, template.Stringify(val))
	}

	host := strings.TrimSuffix(tmplCtx.Env.Hosts[def.API], "/")
	full := host + "/" + strings.TrimPrefix(path, "/")
	if encoded := query.Encode(); encoded != "" {
		full += "?" + encoded
	}

	headers := make(map[string]string, len(ep.Headers))
	for name, raw := range ep.Headers {
		val, err := template.ResolveString(raw, tmplCtx)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", name, err)
		}
		headers[name] = template.Stringify(val)
	}

	body, err := buildBody(ep.Body, tmplCtx)
	if err != nil {
		return nil, err
	}

	return &dispatch.Request{
		Method:  def.Method,
		URL:     full,
		Headers: headers,
		Body:    body,
		Work:    ep.WorkConfig,
	}, nil
}

// buildBody serializes the endpoint body override. String bodies are treated
// as raw JSON text so triple-brace substitutions can strip their enclosing
// quotes; structured bodies are resolved then marshaled.
func buildBody(raw any, tmplCtx *template.Context) (string, error) {
	switch b := raw.(type) {
	case nil:
		return "", nil
	case string:
		return template.ResolveRawJSON(b, tmplCtx)
	default:
		resolved, err := template.Resolve(b, tmplCtx)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(resolved)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

func paramMap(params []*api.Parameter) map[string]*api.Parameter {
	res := make(map[string]*api.Parameter, len(params))
	for _, p := range params {
		res[p.Name] = p
	}
	return res
}
