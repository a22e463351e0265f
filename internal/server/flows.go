package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/khanh1998/test-pilot/pkg/api"
)

var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrInvalidBody  = errors.New("invalid request body")
)

func (s *Server) listFlows(c *gin.Context) {
	s.mu.Lock()
	flows := make([]*api.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f)
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, flows)
}

func (s *Server) registerFlow(c *gin.Context) {
	var flow api.Flow
	if err := c.ShouldBindJSON(&flow); err != nil {
		errorResponse(c, http.StatusBadRequest, ErrInvalidBody)
		return
	}
	if err := flow.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	s.flows[flow.ID] = &flow
	s.mu.Unlock()

	c.JSON(http.StatusCreated, &flow)
}

func (s *Server) getFlow(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))

	s.mu.Lock()
	flow, ok := s.flows[flowID]
	s.mu.Unlock()

	if !ok {
		errorResponse(c, http.StatusNotFound, ErrFlowNotFound)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (s *Server) deleteFlow(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))

	s.mu.Lock()
	_, ok := s.flows[flowID]
	delete(s.flows, flowID)
	s.mu.Unlock()

	if !ok {
		errorResponse(c, http.StatusNotFound, ErrFlowNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listEndpoints(c *gin.Context) {
	s.mu.Lock()
	endpoints := make([]*api.Endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		endpoints = append(endpoints, e)
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, endpoints)
}

// replaceEndpoints swaps the full set of imported endpoint definitions, the
// unit the OpenAPI-import collaborator produces
func (s *Server) replaceEndpoints(c *gin.Context) {
	var endpoints []*api.Endpoint
	if err := c.ShouldBindJSON(&endpoints); err != nil {
		errorResponse(c, http.StatusBadRequest, ErrInvalidBody)
		return
	}
	for _, e := range endpoints {
		if err := e.Validate(); err != nil {
			errorResponse(c, http.StatusBadRequest, err)
			return
		}
	}

	s.mu.Lock()
	s.endpoints = make(map[string]*api.Endpoint, len(endpoints))
	for _, e := range endpoints {
		s.endpoints[e.ID] = e
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, endpoints)
}
