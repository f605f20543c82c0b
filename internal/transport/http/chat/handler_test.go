package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/bytes"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xiaot623/aichat/internal/config"
	"github.com/xiaot623/aichat/internal/engine"
	"github.com/xiaot623/aichat/internal/observability"
	"github.com/xiaot623/aichat/internal/policy"
	"github.com/xiaot623/aichat/internal/service"
	"github.com/xiaot623/aichat/internal/statestore"
	"github.com/xiaot623/aichat/protocol"
	"github.com/xiaot623/aichat/protocol/wire"
)

func newTestHandler(t *testing.T) (*Handler, statestore.Store) {
	t.Helper()
	cfg := &config.Config{MaxMessages: 5, EngineTimeout: time.Second, BodyLimit: "2K"}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := statestore.NewMemoryStore()
	svc := service.New(store, engine.NewMockEngine(4), nil, metrics, cfg)
	return NewHandler(svc, metrics, cfg), store
}

func TestNewHandlerReadLimit(t *testing.T) {
	h, _ := newTestHandler(t)
	want, err := bytes.Parse("2K")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if h.wsReadLimit != want || want == defaultWSReadLimit {
		t.Fatalf("expected read limit %d, got %d", want, h.wsReadLimit)
	}
}

func TestCompleteHandler(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Complete(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"role":"assistant"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestCompleteStreamHandler(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CompleteStream(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != wire.ContentTypeNDJSON {
		t.Fatalf("expected ndjson content type, got %q", got)
	}
	deltas := 0
	fr := wire.NewFrameReader(rec.Body)
	for {
		frame, err := fr.Next()
		if err != nil {
			break
		}
		if _, err := wire.DecodeDelta(frame); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		deltas++
	}
	if deltas < 2 {
		t.Fatalf("expected several deltas, got %d", deltas)
	}
}

func TestDeleteSessionInvalidID(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/chat/sessions/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	if err := h.DeleteSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetSession(t *testing.T) {
	e := echo.New()
	h, store := newTestHandler(t)
	id := uuid.New()
	if err := store.Set(context.Background(), id, "\nUser: a\nChatBot: b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/chat/sessions/"+id.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())

	if err := h.GetSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `ChatBot: b`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		typ    string
	}{
		{&protocol.DecodeError{Err: errors.New("bad json")}, http.StatusBadRequest, "invalid_request_error"},
		{&protocol.DecodeError{Err: fmt.Errorf("%w %q", wire.ErrUnsupportedContentType, "text/plain")}, http.StatusUnsupportedMediaType, "invalid_request_error"},
		{&service.RequestError{Err: protocol.ErrNoMessages}, http.StatusBadRequest, "invalid_request_error"},
		{&policy.BlockedError{Filename: "a"}, http.StatusUnprocessableEntity, "attachment_rejected"},
		{&service.EngineError{Err: errors.New("down")}, http.StatusBadGateway, "upstream_error"},
		{echo.ErrStatusRequestEntityTooLarge, http.StatusRequestEntityTooLarge, "invalid_request_error"},
		{context.Canceled, statusClientClosedRequest, "cancelled"},
		{errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		status, typ := classify(tc.err)
		if status != tc.status || typ != tc.typ {
			t.Fatalf("classify(%v) = %d %s, want %d %s", tc.err, status, typ, tc.status, tc.typ)
		}
	}
}
