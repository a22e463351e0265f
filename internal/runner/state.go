package runner

import (
	"sync"
	"time"

	"github.com/khanh1998/test-pilot/pkg/api"
	"github.com/khanh1998/test-pilot/pkg/util"
)

// StateTransitions maps states to their set of valid next states
//
// The run-level status table validates every orchestrator status change
type StateTransitions[T comparable] map[T]util.Set[T]

var runTransitions = StateTransitions[api.RunStatus]{
	api.RunIdle: util.SetOf(
		api.RunRunning,
	),
	api.RunRunning: util.SetOf(
		api.RunCompleted,
		api.RunFailed,
		api.RunStopped,
	),
	api.RunCompleted: util.SetOf(api.RunIdle),
	api.RunFailed:    util.SetOf(api.RunIdle),
	api.RunStopped:   util.SetOf(api.RunIdle),
}

// CanTransition returns whether transition from one state to another is valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// runtimeState is the per-run accumulation of responses, transformed values,
// and endpoint status. Created fresh for every run and tagged with the run's
// generation; writes carrying a stale generation are dropped.
type runtimeState struct {
	sync.Mutex
	generation uint64

	responses   map[api.EndpointKey]*api.Response
	named       map[api.EndpointKey]*api.Response
	transformed map[api.EndpointKey]map[string]any
	states      map[api.EndpointKey]*api.EndpointState
	log         []*api.LogEntry
}

func newRuntimeState(generation uint64) *runtimeState {
	return &runtimeState{
		generation:  generation,
		responses:   map[api.EndpointKey]*api.Response{},
		named:       map[api.EndpointKey]*api.Response{},
		transformed: map[api.EndpointKey]map[string]any{},
		states:      map[api.EndpointKey]*api.EndpointState{},
	}
}

// commit stores an endpoint's outcome, refusing stale generations
func (s *runtimeState) commit(
	generation uint64, key api.EndpointKey, name string,
	resp *api.Response, transformed map[string]any, state *api.EndpointState,
) bool {
	s.Lock()
	defer s.Unlock()
	if generation != s.generation {
		return false
	}

	if resp != nil {
		s.responses[key] = resp
		if name != "" {
			s.named[api.EndpointKey(name)] = resp
		}
	}
	if transformed != nil {
		s.transformed[key] = transformed
	}
	s.states[key] = state
	return true
}

func (s *runtimeState) markRunning(key api.EndpointKey, at time.Time) {
	s.Lock()
	defer s.Unlock()
	s.states[key] = &api.EndpointState{
		Status:    api.EndpointRunning,
		StartedAt: at,
	}
}

func (s *runtimeState) append(level api.LogLevel, message string) {
	s.Lock()
	defer s.Unlock()
	s.log = append(s.log, &api.LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
}

// snapshot copies the three runtime maps plus the log for the caller-owned
// execution result
func (s *runtimeState) snapshot() (
	map[api.EndpointKey]*api.Response,
	map[api.EndpointKey]map[string]any,
	map[api.EndpointKey]*api.EndpointState,
	[]*api.LogEntry,
) {
	s.Lock()
	defer s.Unlock()

	responses := make(map[api.EndpointKey]*api.Response, len(s.responses))
	for k, v := range s.responses {
		responses[k] = v
	}
	transformed := make(
		map[api.EndpointKey]map[string]any, len(s.transformed),
	)
	for k, v := range s.transformed {
		transformed[k] = v
	}
	states := make(map[api.EndpointKey]*api.EndpointState, len(s.states))
	for k, v := range s.states {
		states[k] = v
	}
	log := make([]*api.LogEntry, len(s.log))
	copy(log, s.log)

	return responses, transformed, states, log
}

// templateView builds the resolver context visible to an endpoint: everything
// committed by prior steps, both by key and by response name
func (s *runtimeState) templateView() (
	map[api.EndpointKey]*api.Response, map[api.EndpointKey]map[string]any,
) {
	s.Lock()
	defer s.Unlock()

	responses := make(
		map[api.EndpointKey]*api.Response,
		len(s.responses)+len(s.named),
	)
	for k, v := range s.responses {
		responses[k] = v
	}
	for k, v := range s.named {
		responses[k] = v
	}
	transformed := make(
		map[api.EndpointKey]map[string]any, len(s.transformed),
	)
	for k, v := range s.transformed {
		transformed[k] = v
	}
	return responses, transformed
}

// failed reports whether any committed endpoint has failed
func (s *runtimeState) failed() bool {
	s.Lock()
	defer s.Unlock()
	for _, st := range s.states {
		if st.Status == api.EndpointFailed {
			return true
		}
	}
	return false
}
