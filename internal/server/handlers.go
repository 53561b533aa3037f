package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ShayCichocki/ensemble/internal/metrics"
	"github.com/ShayCichocki/ensemble/internal/orchestrator"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrMissingSessionID),
		errors.Is(err, orchestrator.ErrUnknownMode),
		errors.Is(err, orchestrator.ErrUnknownAction),
		errors.Is(err, metrics.ErrMissingAgentID),
		errors.Is(err, metrics.ErrInvalidRating):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), APIResponse{Success: false, Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: msg})
}

func (s *Server) handleTurn(c *gin.Context) {
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" && req.ConfirmedIntent == "" {
		badRequest(c, "message or confirmed_intent is required")
		return
	}

	// The turn outlives the request so a dropped connection does not cancel
	// it. Cancellation goes through the control endpoint.
	ctx := context.WithoutCancel(c.Request.Context())
	result, err := s.deps.Orchestrator.Dispatch(ctx, orchestrator.DispatchRequest{
		SessionID:       c.Param("id"),
		UserID:          req.UserID,
		MessageID:       req.MessageID,
		Message:         req.Message,
		ConfirmedIntent: req.ConfirmedIntent,
		Mode:            req.Mode,
	})
	if err != nil {
		s.logger.Log("[server] turn rejected for %s: %v", c.Param("id"), err)
		c.JSON(statusFor(err), APIResponse{Success: false, Error: err.Error(), Data: result})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: result.Success, Data: result, Error: result.Error})
}

func (s *Server) handleControl(c *gin.Context) {
	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	ack, err := s.deps.Orchestrator.Control(c.Request.Context(), c.Param("id"), req.UserID, req.Action)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: ack.Message, Data: ack})
}

func (s *Server) handleState(c *gin.Context) {
	st, err := s.deps.Orchestrator.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: st})
}

func (s *Server) handleEvents(c *gin.Context) {
	events, err := s.deps.Orchestrator.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: events})
}

func (s *Server) handleListAgents(c *gin.Context) {
	if s.deps.Agents == nil {
		c.JSON(http.StatusOK, APIResponse{Success: true, Data: []any{}})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: s.deps.Agents.ListCapabilities()})
}

func (s *Server) handleAgentStats(c *gin.Context) {
	window, ok := intQuery(c, "window_days", s.cfg.DefaultWindowDays)
	if !ok {
		return
	}
	stats, err := s.deps.Metrics.GetStats(c.Request.Context(), c.Param("id"), window)
	if err != nil {
		fail(c, err)
		return
	}
	if stats == nil {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: "no metrics in window"})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: stats})
}

func (s *Server) handleTopPerformers(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 5)
	if !ok {
		return
	}
	window, ok := intQuery(c, "window_days", s.cfg.DefaultWindowDays)
	if !ok {
		return
	}
	rankings, err := s.deps.Metrics.GetTopPerformers(c.Request.Context(), limit, window)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: rankings})
}

func (s *Server) handleTrending(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 5)
	if !ok {
		return
	}
	trends, err := s.deps.Metrics.GetTrendingAgents(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: trends})
}

func (s *Server) handleRecordMetric(c *gin.Context) {
	var req MetricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := s.deps.Metrics.Record(c.Request.Context(), req.metric()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Message: "metric recorded"})
}

// intQuery parses a non-negative integer query parameter, writing a 400 on
// failure.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "invalid "+key+": "+raw)
		return 0, false
	}
	return n, true
}
