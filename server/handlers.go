package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/catalog"
	"llmstreambench/internal/errdefs"
	"llmstreambench/internal/history"
	"llmstreambench/internal/logging"
	"llmstreambench/internal/stream"
)

const (
	defaultKeepAlive = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// Handlers serves the test, stream, model and history endpoints.
type Handlers struct {
	Catalog *catalog.Store
	History *history.Store
	Tasks   *TaskManager
	Runner  *Runner
	Limits  bench.Limits
	// KeepAlive is the idle time after which an SSE comment is sent.
	KeepAlive time.Duration

	upgrader websocket.Upgrader
}

// NewHandlers wires the handlers to their stores.
func NewHandlers(models *catalog.Store, hist *history.Store, tasks *TaskManager, runner *Runner) *Handlers {
	return &Handlers{
		Catalog:   models,
		History:   hist,
		Tasks:     tasks,
		Runner:    runner,
		Limits:    bench.DefaultLimits(),
		KeepAlive: defaultKeepAlive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origins are enforced by CORSMiddleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func abortWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
		Detail:  message,
	})
}

// Health reports liveness and the number of unfinished tasks.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		ActiveTasks: h.Tasks.ActiveCount(),
	})
}

// StartTest validates a test configuration, starts it in the background and
// returns the task id to stream from.
func (h *Handlers) StartTest(c *gin.Context) {
	var cfg bench.TestConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		AppLogger.Error("Failed to parse test request: %v", err)
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}
	if err := h.Limits.Check(cfg); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	models := make([]catalog.Model, 0, len(cfg.Models))
	for _, name := range cfg.Models {
		m, err := h.Catalog.Get(name)
		if errors.Is(err, catalog.ErrNotFound) {
			abortWithError(c, http.StatusBadRequest, fmt.Sprintf("model '%s' is not in the catalog", name))
			return
		}
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("failed to load models: %v", err))
			return
		}
		models = append(models, m)
	}

	taskID, ctx := h.Tasks.Create(cfg)
	go h.Runner.Run(ctx, taskID, cfg, models)

	AppLogger.InfoWithContext(&logging.LogContext{TaskID: taskID}, "Started test of %d models", len(models))
	c.JSON(http.StatusOK, TestResponse{
		TaskID:  taskID,
		Status:  "started",
		Message: fmt.Sprintf("started %d model tests", len(models)),
	})
}

// StreamSSE replays a task's events as named server-sent events and follows
// it until complete or error.
func (h *Handlers) StreamSSE(c *gin.Context) {
	taskID := c.Param("task_id")
	sub, err := h.Tasks.Subscribe(taskID)
	if err != nil {
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("task %s not found", taskID))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	c.Stream(func(w io.Writer) bool {
		waitCtx, cancel := context.WithTimeout(ctx, keepAlive)
		ev, err := sub.Next(waitCtx)
		cancel()
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			_, _ = io.WriteString(w, ": ping\n\n")
			return true
		case err != nil:
			if ctx.Err() != nil {
				AppLogger.InfoWithContext(&logging.LogContext{TaskID: taskID}, "SSE connection closed for task")
			}
			return false
		}
		c.SSEvent(string(ev.Event), ev.Data)
		return !isFinal(ev.Event)
	})
}

// StreamWebSocket sends a task's events as {event, data} JSON frames.
func (h *Handlers) StreamWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	sub, err := h.Tasks.Subscribe(taskID)
	if err != nil {
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("task %s not found", taskID))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		AppLogger.ErrorWithContext(&logging.LogContext{TaskID: taskID}, "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// The client never sends data; reading detects when it goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				AppLogger.WarnWithContext(&logging.LogContext{TaskID: taskID}, "WebSocket stream ended: %v", err)
			}
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			AppLogger.WarnWithContext(&logging.LogContext{TaskID: taskID}, "WebSocket write failed: %v", err)
			return
		}
		if isFinal(ev.Event) {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
			return
		}
	}
}

func isFinal(kind stream.Kind) bool {
	return kind == stream.KindComplete || kind == stream.KindError
}

// ListModels returns the catalog without API keys.
func (h *Handlers) ListModels(c *gin.Context) {
	models, err := h.Catalog.List()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("failed to load models: %v", err))
		return
	}
	infos := make([]catalog.Info, 0, len(models))
	for _, m := range models {
		infos = append(infos, m.Info())
	}
	c.JSON(http.StatusOK, ModelsResponse{Models: infos})
}

// GetModel returns one model by name.
func (h *Handlers) GetModel(c *gin.Context) {
	name := c.Param("name")
	m, err := h.Catalog.Get(name)
	if errors.Is(err, catalog.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("model '%s' not found", name))
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("failed to load models: %v", err))
		return
	}
	c.JSON(http.StatusOK, m.Info())
}

// AddModel appends a model to the catalog.
func (h *Handlers) AddModel(c *gin.Context) {
	var req AddModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	m, err := h.Catalog.Add(catalog.Model{
		Name:       req.Name,
		Endpoint:   req.Endpoint,
		APIKey:     req.APIKey,
		APIVersion: req.APIVersion,
	})
	var verr *errdefs.ValidationError
	switch {
	case errors.As(err, &verr):
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("%s is required", verr.Field))
		return
	case errors.Is(err, catalog.ErrDuplicate):
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("model '%s' already exists", req.Name))
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("failed to save model: %v", err))
		return
	}

	AppLogger.InfoWithContext(&logging.LogContext{Model: m.Name}, "Added model to catalog")
	c.JSON(http.StatusOK, DetailResponse{Detail: fmt.Sprintf("model '%s' added", m.Name)})
}

// ListHistory returns the newest history items.
func (h *Handlers) ListHistory(c *gin.Context) {
	limit := history.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := h.History.List(limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("failed to read history: %v", err))
		return
	}
	c.JSON(http.StatusOK, HistoryListResponse{Status: "success", Count: len(items), Records: items})
}

// GetHistory returns one full history record.
func (h *Handlers) GetHistory(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.History.Get(id)
	if errors.Is(err, history.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("history record %s not found", id))
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("failed to read history: %v", err))
		return
	}
	c.JSON(http.StatusOK, HistoryRecordResponse{Status: "success", Record: rec})
}

// DeleteHistory removes one history record.
func (h *Handlers) DeleteHistory(c *gin.Context) {
	id := c.Param("id")
	err := h.History.Delete(id)
	if errors.Is(err, history.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("history record %s not found", id))
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("failed to delete history record: %v", err))
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "success", Message: fmt.Sprintf("record %s deleted", id)})
}

// ClearHistory removes every history record.
func (h *Handlers) ClearHistory(c *gin.Context) {
	if err := h.History.Clear(); err != nil {
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("failed to clear history: %v", err))
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "success", Message: "history cleared"})
}
