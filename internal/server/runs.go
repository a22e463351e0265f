package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/khanh1998/test-pilot/internal/runner"
	"github.com/khanh1998/test-pilot/pkg/api"
	"github.com/khanh1998/test-pilot/pkg/log"
)

var ErrRunInProgress = errors.New("a run is already in progress")

// startRun launches an asynchronous execution of a registered flow. The
// result is retained in memory and served by latestRun once the run ends.
func (s *Server) startRun(c *gin.Context) {
	var req api.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, ErrInvalidBody)
		return
	}

	s.mu.Lock()
	flow, ok := s.flows[req.FlowID]
	if !ok {
		s.mu.Unlock()
		errorResponse(c, http.StatusNotFound, ErrFlowNotFound)
		return
	}
	if s.runner != nil && s.runner.Status() == api.RunRunning {
		s.mu.Unlock()
		errorResponse(c, http.StatusConflict, ErrRunInProgress)
		return
	}
	r := s.newRunner()
	s.runner = r
	s.last = nil
	s.mu.Unlock()

	go func() {
		result, err := r.Run(context.Background(), flow, req.Environment)
		if err != nil {
			slog.Error("run rejected",
				log.FlowID(req.FlowID),
				log.Error(err))
			return
		}

		s.mu.Lock()
		if s.runner == r {
			s.last = result
		}
		s.mu.Unlock()
	}()

	c.JSON(http.StatusAccepted, api.RunAccepted{
		FlowID: req.FlowID,
		Status: api.RunRunning,
	})
}

func (s *Server) latestRun(c *gin.Context) {
	s.mu.Lock()
	r := s.runner
	last := s.last
	s.mu.Unlock()

	if r == nil {
		c.JSON(http.StatusOK, api.RunState{Status: api.RunIdle})
		return
	}
	c.JSON(http.StatusOK, api.RunState{
		Status:   r.Status(),
		Progress: r.Progress(),
		Result:   last,
	})
}

// resetRun cancels any in-flight run and discards the retained result
func (s *Server) resetRun(c *gin.Context) {
	s.mu.Lock()
	r := s.runner
	s.last = nil
	s.mu.Unlock()

	if r != nil {
		r.Reset()
	}
	c.JSON(http.StatusOK, api.RunState{Status: api.RunIdle})
}

// watch returns an event feed for the current runner, or nil when no run
// has been started yet
func (s *Server) watch() (<-chan runner.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner == nil {
		return nil, nil
	}
	return s.runner.Watch()
}
