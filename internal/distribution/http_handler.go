package distribution

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leadflow/internal/logger"
	"leadflow/pkg/errors"
)

// Engine is the surface the HTTP and CLI adapters drive.
type Engine interface {
	Distribute(ctx context.Context, req Request) (*Result, error)
	RedistributeUnassigned(ctx context.Context, workspaceID string, limit int) (*BatchResult, error)
	ListLogs(ctx context.Context, workspaceID string, limit int) ([]Log, error)
}

type Handler struct {
	engine Engine
	logger logger.Logger
}

func NewHandler(engine Engine, log logger.Logger) *Handler {
	return &Handler{engine: engine, logger: log}
}

// RegisterRoutes mounts the API under /api/v1; middleware applies to that group only.
func (h *Handler) RegisterRoutes(router gin.IRouter, middleware ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", middleware...)
	{
		v1.POST("/distribute", h.Distribute)

		ws := v1.Group("/workspaces/:workspace_id")
		{
			ws.POST("/redistribute", h.Redistribute)
			ws.GET("/distribution-logs", h.ListLogs)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	if errors.IsValidation(err) {
		h.logger.WarnwCtx(ctx, "Request rejected", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.ErrorwCtx(ctx, "Request error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// Distribute godoc
// @Summary      Distribute a lead
// @Description  Runs one distribution attempt. Business outcomes return 200 with success=false.
// @Tags         distribution
// @Accept       json
// @Produce      json
// @Param        request  body      Request  true  "Lead context"
// @Success      200      {object}  Result
// @Failure      400      {object}  map[string]interface{}
// @Failure      503      {object}  map[string]interface{}
// @Router       /distribute [post]
func (h *Handler) Distribute(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	result, err := h.engine.Distribute(c.Request.Context(), req)
	if err != nil {
		if errors.IsInfrastructure(err) {
			h.logger.ErrorwCtx(c.Request.Context(), "Distribution unavailable", "error", err)
			body := errors.ToErrorResponse(err)
			body["success"] = false
			body["reason"] = string(OutcomeInfrastructureError)
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Redistribute godoc
// @Summary      Redistribute unassigned leads
// @Tags         distribution
// @Produce      json
// @Param        workspace_id  path      string  true   "Workspace ID"
// @Param        limit         query     int     false  "Maximum leads to process"
// @Success      200           {object}  BatchResult
// @Failure      400           {object}  map[string]interface{}
// @Failure      503           {object}  map[string]interface{}
// @Router       /workspaces/{workspace_id}/redistribute [post]
func (h *Handler) Redistribute(c *gin.Context) {
	limit, ok := h.limitParam(c)
	if !ok {
		return
	}

	ctx := WithTrigger(c.Request.Context(), TriggerAPI)
	result, err := h.engine.RedistributeUnassigned(ctx, c.Param("workspace_id"), limit)
	if err != nil && result == nil {
		h.handleError(c, err)
		return
	}
	// A cancelled run still reports what it did.
	c.JSON(http.StatusOK, result)
}

// ListLogs godoc
// @Summary      List recent distribution logs
// @Tags         distribution
// @Produce      json
// @Param        workspace_id  path      string  true   "Workspace ID"
// @Param        limit         query     int     false  "Maximum rows"
// @Success      200           {array}   Log
// @Failure      503           {object}  map[string]interface{}
// @Router       /workspaces/{workspace_id}/distribution-logs [get]
func (h *Handler) ListLogs(c *gin.Context) {
	limit, ok := h.limitParam(c)
	if !ok {
		return
	}

	logs, err := h.engine.ListLogs(c.Request.Context(), c.Param("workspace_id"), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// limitParam parses ?limit; zero means the engine default.
func (h *Handler) limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		h.handleError(c, errors.ErrValidation.WithDetail("message", "limit must be a non-negative integer"))
		return 0, false
	}
	return limit, true
}
