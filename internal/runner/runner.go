// Package runner walks a flow's steps in order, executing each step's
// endpoints and accumulating runtime state for later steps.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khanh1998/test-pilot/internal/dispatch"
	"github.com/khanh1998/test-pilot/pkg/api"
	"github.com/khanh1998/test-pilot/pkg/log"
)

type (
	// EventType classifies watcher notifications
	EventType string

	// Event is one watcher notification: a status change, a progress update,
	// or an appended log entry
	Event struct {
		Type     EventType     `json:"type"`
		Status   api.RunStatus `json:"status,omitempty"`
		Progress float64       `json:"progress,omitempty"`
		Log      *api.LogEntry `json:"log,omitempty"`
	}

	// Runner is the flow execution orchestrator. A Runner executes one run
	// at a time; Reset cancels any in-flight run and returns to idle.
	Runner struct {
		dispatcher dispatch.Dispatcher
		endpoints  map[string]*api.Endpoint
		logger     *slog.Logger

		mu         sync.Mutex
		status     api.RunStatus
		generation uint64
		cancel     context.CancelFunc
		completed  int
		total      int

		watchers  map[int]chan Event
		nextWatch int
	}
)

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
)

const watcherBuffer = 64

var (
	ErrRunActive      = errors.New("a run is already active")
	ErrConfiguration  = errors.New("configuration error")
	ErrUnknownAPIHost = errors.New("no host configured for API")
	ErrUnknownRef     = errors.New("unknown endpoint reference")
)

// New creates an orchestrator over a dispatcher and the imported endpoint
// definitions
func New(
	dispatcher dispatch.Dispatcher, endpoints []*api.Endpoint,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]*api.Endpoint, len(endpoints))
	for _, e := range endpoints {
		byID[e.ID] = e
	}
	return &Runner{
		dispatcher: dispatcher,
		endpoints:  byID,
		logger:     logger,
		status:     api.RunIdle,
		watchers:   map[int]chan Event{},
	}
}

// Status returns the current run-level state
func (r *Runner) Status() api.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Progress reports completedSteps/totalSteps for the current or most recent
// run. The value only ever increases during a run.
func (r *Runner) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total == 0 {
		return 0
	}
	return float64(r.completed) / float64(r.total)
}

// Watch subscribes to run events. The returned closer must be called to
// release the subscription; slow consumers miss events rather than blocking
// the run.
func (r *Runner) Watch() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextWatch
	r.nextWatch++
	ch := make(chan Event, watcherBuffer)
	r.watchers[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if ch, ok := r.watchers[id]; ok {
			delete(r.watchers, id)
			close(ch)
		}
	}
}

// Reset cancels any in-flight run, discards its pending writes via the
// generation bump, and returns the orchestrator to idle. Safe to call at
// any time.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.status == api.RunRunning {
		r.setStatusLocked(api.RunStopped)
	}
	r.setStatusLocked(api.RunIdle)
	r.completed = 0
	r.total = 0
}

// Run executes a flow against an environment and returns the caller-owned
// execution result. Endpoint failures are reported inside the result; only
// configuration and scheduling errors are returned.
func (r *Runner) Run(
	ctx context.Context, flow *api.Flow, env *api.Environment,
) (*api.ExecutionResult, error) {
	if err := flow.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := r.validateHosts(flow, env); err != nil {
		return nil, err
	}

	runCtx, generation, err := r.start(ctx, flow)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	state := newRuntimeState(generation)
	startedAt := time.Now()

	r.logger.Info("run started",
		log.RunID(runID),
		log.FlowID(flow.ID),
		slog.Int("steps", len(flow.Steps)))
	r.logf(state, api.LogInfo, "run %s started: flow %s", runID, flow.ID)

	status := r.executeSteps(runCtx, generation, state, flow, env)

	r.finish(generation, status)
	r.logf(state, api.LogInfo, "run %s %s", runID, status)
	r.logger.Info("run finished",
		log.RunID(runID),
		log.FlowID(flow.ID),
		log.Status(string(status)))

	responses, transformed, states, entries := state.snapshot()
	return &api.ExecutionResult{
		RunID:       runID,
		FlowID:      flow.ID,
		Success:     status == api.RunCompleted,
		Status:      status,
		Responses:   responses,
		Transformed: transformed,
		States:      states,
		Log:         entries,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}, nil
}

// validateHosts checks up front that every referenced endpoint exists and
// has a host resolution, so no network call is attempted on a misconfigured
// flow
func (r *Runner) validateHosts(flow *api.Flow, env *api.Environment) error {
	for _, step := range flow.Steps {
		for _, ep := range step.Endpoints {
			def, ok := r.endpoints[ep.EndpointID]
			if !ok {
				return fmt.Errorf("%w: %w: %s",
					ErrConfiguration, ErrUnknownRef, ep.EndpointID)
			}
			if env == nil || env.Hosts[def.API] == "" {
				return fmt.Errorf("%w: %w: %s",
					ErrConfiguration, ErrUnknownAPIHost, def.API)
			}
		}
	}
	return nil
}

func (r *Runner) start(
	ctx context.Context, flow *api.Flow,
) (context.Context, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == api.RunRunning {
		return nil, 0, ErrRunActive
	}
	// terminal statuses pass through idle before the next run
	if r.status != api.RunIdle {
		r.setStatusLocked(api.RunIdle)
	}
	r.setStatusLocked(api.RunRunning)

	r.generation++
	r.completed = 0
	r.total = len(flow.Steps)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	return runCtx, r.generation, nil
}

func (r *Runner) finish(generation uint64, status api.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if generation != r.generation {
		return
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.setStatusLocked(status)
}

// setStatusLocked applies a table-validated status change and notifies
// watchers. Invalid transitions are dropped with a warning.
func (r *Runner) setStatusLocked(next api.RunStatus) {
	if r.status == next {
		return
	}
	if !runTransitions.CanTransition(r.status, next) {
		r.logger.Warn("invalid status transition",
			log.Status(string(r.status)),
			slog.String("next", string(next)))
		return
	}
	r.status = next
	r.emitLocked(Event{Type: EventStatus, Status: next})
}

func (r *Runner) stepCompleted(generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if generation != r.generation {
		return
	}
	r.completed++
	progress := float64(r.completed) / float64(r.total)
	r.emitLocked(Event{Type: EventProgress, Progress: progress})
}

func (r *Runner) emitLocked(ev Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Runner) logf(
	state *runtimeState, level api.LogLevel, format string, args ...any,
) {
	message := fmt.Sprintf(format, args...)
	state.append(level, message)

	r.mu.Lock()
	defer r.mu.Unlock()
	if state.generation != r.generation {
		return
	}
	r.emitLocked(Event{Type: EventLog, Log: &api.LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	}})
}
