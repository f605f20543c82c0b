// Package chat serves the chat protocol over HTTP and WebSocket.
package chat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/bytes"

	"github.com/xiaot623/aichat/internal/config"
	"github.com/xiaot623/aichat/internal/observability"
	"github.com/xiaot623/aichat/internal/service"
	"github.com/xiaot623/aichat/protocol"
	"github.com/xiaot623/aichat/protocol/wire"
)

// Endpoint labels used in metrics.
const (
	endpointComplete = "complete"
	endpointStream   = "stream"
	endpointWS       = "ws"
)

const defaultWSReadLimit = 32 << 20

// Handler handles chat HTTP requests.
type Handler struct {
	service        *service.Service
	metrics        *observability.Metrics
	upgrader       websocket.Upgrader
	wsWriteTimeout time.Duration
	wsReadLimit    int64
}

// NewHandler creates a new chat handler.
func NewHandler(svc *service.Service, metrics *observability.Metrics, cfg *config.Config) *Handler {
	readLimit := int64(defaultWSReadLimit)
	if cfg.BodyLimit != "" {
		if n, err := bytes.Parse(cfg.BodyLimit); err == nil && n > 0 {
			readLimit = n
		}
	}
	return &Handler{
		service: svc,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		wsWriteTimeout: cfg.WSWriteTimeout,
		wsReadLimit:    readLimit,
	}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/chat", h.Complete)
	e.POST("/chat/stream", h.CompleteStream)
	e.GET("/chat/ws", h.CompleteWS)
	e.GET("/chat/sessions/:id", h.GetSession)
	e.DELETE("/chat/sessions/:id", h.DeleteSession)
}

// Complete answers a chat request with a single completion.
// POST /chat
func (h *Handler) Complete(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	req, err := wire.DecodeRequest(c.Request().Header.Get(echo.HeaderContentType), c.Request().Body)
	if err != nil {
		return h.fail(c, endpointComplete, start, err)
	}

	completion, err := h.service.Complete(ctx, req)
	if err != nil {
		return h.fail(c, endpointComplete, start, err)
	}

	h.observe(endpointComplete, http.StatusOK, start)
	return c.JSON(http.StatusOK, completion)
}

// CompleteStream answers a chat request with newline-delimited completion deltas.
// POST /chat/stream
func (h *Handler) CompleteStream(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	req, err := wire.DecodeRequest(c.Request().Header.Get(echo.HeaderContentType), c.Request().Body)
	if err != nil {
		return h.fail(c, endpointStream, start, err)
	}

	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return h.fail(c, endpointStream, start, errStreamingUnsupported)
	}

	fw := wire.NewFrameWriter(res)
	started := false
	err = h.service.CompleteStream(ctx, req, func(d *protocol.CompletionDelta) error {
		if !started {
			// Headers are deferred so request errors still get a proper status.
			res.Header().Set(echo.HeaderContentType, wire.ContentTypeNDJSON)
			res.Header().Set("Cache-Control", "no-cache")
			res.Header().Set("Connection", "keep-alive")
			res.WriteHeader(http.StatusOK)
			h.metrics.ActiveStreams.WithLabelValues("http").Inc()
			started = true
		}
		if err := fw.WriteDelta(d); err != nil {
			return err
		}
		flusher.Flush()
		h.metrics.DeltasTotal.WithLabelValues("http").Inc()
		return nil
	})
	if !started {
		if err == nil {
			err = errEmptyStream
		}
		return h.fail(c, endpointStream, start, err)
	}
	h.metrics.ActiveStreams.WithLabelValues("http").Dec()

	if err != nil {
		// The status is already sent; drop the connection so the caller sees a
		// truncated body rather than a clean end of stream.
		status, _ := classify(err)
		h.observe(endpointStream, status, start)
		observability.LoggerFromContext(ctx).Error("chat stream failed", "error", err)
		abortConnection(res.Writer)
		return nil
	}

	h.observe(endpointStream, http.StatusOK, start)
	return nil
}

// GetSession returns the stored history of a session.
// GET /chat/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid session id", "invalid_request_error"))
	}

	history, ok, err := h.service.SessionHistory(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "internal_error"))
	}
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("session not found", "not_found"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessionState": id,
		"history":      history,
	})
}

// DeleteSession drops a session's history.
// DELETE /chat/sessions/:id
func (h *Handler) DeleteSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid session id", "invalid_request_error"))
	}

	if err := h.service.RemoveSession(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "internal_error"))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) fail(c echo.Context, endpoint string, start time.Time, err error) error {
	status, errType := classify(err)
	h.observe(endpoint, status, start)

	logger := observability.LoggerFromContext(c.Request().Context())
	if status >= http.StatusInternalServerError {
		logger.Error("chat request failed", "endpoint", endpoint, "status", status, "error", err)
	} else {
		logger.Warn("chat request rejected", "endpoint", endpoint, "status", status, "error", err)
	}
	return c.JSON(status, errorBody(err.Error(), errType))
}

func (h *Handler) observe(endpoint string, status int, start time.Time) {
	h.metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	h.metrics.RequestDurationSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func errorBody(message, errType string) ErrorResponse {
	return ErrorResponse{Error: &APIError{Message: message, Type: errType}}
}

// abortConnection closes the underlying connection without finishing the response.
func abortConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}
