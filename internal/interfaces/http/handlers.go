package http

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
	"github.com/nyimbi/stateflow/internal/engine"
	"github.com/nyimbi/stateflow/internal/history"
)

type actorPayload struct {
	ID    string   `json:"id" binding:"required"`
	Roles []string `json:"roles"`
}

func (a actorPayload) toActor() entity.Actor {
	return entity.User{UserID: a.ID, Roles: a.Roles}
}

type createInstanceRequest struct {
	ID        string         `json:"id" binding:"required"`
	ModelType string         `json:"model_type" binding:"required"`
	Workflow  string         `json:"workflow" binding:"required"`
	Fields    map[string]any `json:"fields"`
}

func (s *Server) handleCreateInstance(c *gin.Context) {
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := s.engine.CreateInstance(c.Request.Context(), req.ID, req.ModelType, req.Workflow, req.Fields)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

type triggerRequest struct {
	Event string       `json:"event" binding:"required"`
	Actor actorPayload `json:"actor" binding:"required"`
}

func (s *Server) handleTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reqCtx := &entity.RequestContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		TraceID:   c.GetHeader("X-Trace-Id"),
	}

	result, err := s.engine.Trigger(c.Request.Context(), c.Param("id"), req.Event, req.Actor.toActor(), reqCtx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type revertRequest struct {
	TargetState string       `json:"target_state" binding:"required"`
	Actor       actorPayload `json:"actor" binding:"required"`
	Reason      string       `json:"reason"`
	Validate    bool         `json:"validate"`
	Force       bool         `json:"force"`
}

func (s *Server) handleRevert(c *gin.Context) {
	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reqCtx := &entity.RequestContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		TraceID:   c.GetHeader("X-Trace-Id"),
	}

	result, err := s.engine.RevertToState(
		c.Request.Context(), c.Param("id"), req.TargetState, req.Actor.toActor(), req.Reason,
		engine.RevertOptions{Validate: req.Validate, Force: req.Force}, reqCtx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type transitionView struct {
	Trigger  string   `json:"trigger"`
	Dest     string   `json:"dest"`
	Priority int      `json:"priority"`
	Roles    []string `json:"roles,omitempty"`
	Auto     bool     `json:"auto,omitempty"`
}

func (s *Server) handleTransitions(c *gin.Context) {
	actor := entity.User{
		UserID: c.Query("actor_id"),
		Roles:  c.QueryArray("role"),
	}

	transitions, err := s.engine.AvailableTransitions(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		s.writeError(c, err)
		return
	}

	views := make([]transitionView, 0, len(transitions))
	for _, t := range transitions {
		views = append(views, transitionView{
			Trigger:  t.Trigger,
			Dest:     t.Dest,
			Priority: t.Priority,
			Roles:    t.RequiredRoles,
			Auto:     t.Auto,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transitions": views})
}

// parseHistoryFilter builds a history filter from query parameters. On a
// bad parameter it writes the 400 response and reports false.
func parseHistoryFilter(c *gin.Context) (history.Filter, bool) {
	filter := history.Filter{
		ActorID:     c.Query("actor_id"),
		Search:      c.Query("search"),
		RevertOnly:  c.Query("revert_only") == "true",
		OldestFirst: c.Query("order") == "asc",
	}
	if states := c.QueryArray("state"); len(states) > 0 {
		filter.States = states
	}
	if tags := c.QueryArray("tag"); len(tags) > 0 {
		filter.Tags = tags
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return filter, false
		}
		filter.From = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return filter, false
		}
		filter.To = &t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return filter, false
		}
		filter.Limit = n
	}
	if offset := c.Query("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return filter, false
		}
		filter.Offset = n
	}
	return filter, true
}

func (s *Server) handleHistory(c *gin.Context) {
	filter, ok := parseHistoryFilter(c)
	if !ok {
		return
	}

	entries, err := s.store.Get(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// handleHistoryReport renders the filtered audit trail as an .xlsx
// attachment
func (s *Server) handleHistoryReport(c *gin.Context) {
	filter, ok := parseHistoryFilter(c)
	if !ok {
		return
	}

	id := c.Param("id")
	entries, err := s.store.Get(c.Request.Context(), id, filter)
	if err != nil {
		s.writeError(c, err)
		return
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("history-%s-%d.xlsx", id, time.Now().UnixNano()))
	defer os.Remove(path)

	if err := history.NewReportWriter(s.logger).Write(entries, path); err != nil {
		s.writeError(c, err)
		return
	}
	c.FileAttachment(path, fmt.Sprintf("history-%s.xlsx", id))
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": s.registry.Names()})
}

func (s *Server) handleExport(c *gin.Context) {
	def, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}

	if c.Query("format") == "yaml" {
		data, err := workflow.MarshalYAML(def)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/yaml", data)
		return
	}
	c.JSON(http.StatusOK, workflow.Export(def))
}

func (s *Server) handleDiagram(c *gin.Context) {
	def, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	c.String(http.StatusOK, workflow.Mermaid(def))
}

func (s *Server) handleFlash(c *gin.Context) {
	messages := s.flash.Pop(c.Param("recipient"))
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

// writeError maps engine error kinds to HTTP status codes. The engine
// returns structured kinds only; presentation is decided here.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrAmbiguousAutoTransition):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrData):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrConfiguration):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
