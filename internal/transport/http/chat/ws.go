package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/aichat/internal/observability"
	"github.com/xiaot623/aichat/internal/policy"
	"github.com/xiaot623/aichat/internal/service"
	"github.com/xiaot623/aichat/protocol"
)

// maxCloseReason is the longest close reason a control frame can carry.
const maxCloseReason = 123

// CompleteWS streams completion deltas over a WebSocket. The first text
// message carries the request; each delta is sent as one text message and a
// normal close ends the stream.
// GET /chat/ws
func (h *Handler) CompleteWS(c echo.Context) error {
	start := time.Now()
	logger := observability.LoggerFromContext(c.Request().Context())

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied.
		logger.Warn("failed to upgrade websocket", "error", err)
		h.observe(endpointWS, http.StatusBadRequest, start)
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(h.wsReadLimit)

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	req, err := readRequest(conn)
	if err != nil {
		h.observe(endpointWS, http.StatusBadRequest, start)
		logger.Warn("invalid websocket request", "error", err)
		h.closeWith(conn, websocket.CloseInvalidFramePayloadData, err.Error())
		return nil
	}

	// Any further read failing means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.metrics.ActiveStreams.WithLabelValues(endpointWS).Inc()
	defer h.metrics.ActiveStreams.WithLabelValues(endpointWS).Dec()

	err = h.service.CompleteStream(ctx, req, func(d *protocol.CompletionDelta) error {
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		h.setWriteDeadline(conn)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
		h.metrics.DeltasTotal.WithLabelValues(endpointWS).Inc()
		return nil
	})

	status, _ := classify(err)
	if err == nil {
		status = http.StatusOK
	}
	h.observe(endpointWS, status, start)

	if err != nil {
		logger.Error("websocket stream failed", "error", err)
		h.closeWith(conn, closeCode(err), err.Error())
		return nil
	}
	h.closeWith(conn, websocket.CloseNormalClosure, "")
	return nil
}

func readRequest(conn *websocket.Conn) (*protocol.Request, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &protocol.DecodeError{Err: fmt.Errorf("decode request: %w", err)}
		}
		return &req, nil
	}
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	h.setWriteDeadline(conn)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (h *Handler) setWriteDeadline(conn *websocket.Conn) {
	if h.wsWriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(h.wsWriteTimeout))
	}
}

func closeCode(err error) int {
	var (
		requestErr *service.RequestError
		blockedErr *policy.BlockedError
	)
	switch {
	case errors.As(err, &requestErr):
		return websocket.CloseInvalidFramePayloadData
	case errors.As(err, &blockedErr):
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}
