package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/aichat/internal/policy"
	"github.com/xiaot623/aichat/internal/service"
	"github.com/xiaot623/aichat/protocol"
	"github.com/xiaot623/aichat/protocol/wire"
)

// statusClientClosedRequest is reported when the caller went away before the reply.
const statusClientClosedRequest = 499

var (
	errStreamingUnsupported = errors.New("streaming not supported")
	errEmptyStream          = errors.New("completion produced no deltas")
)

// ErrorResponse is the JSON body of a failed chat call.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError describes a failure.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// classify maps a decode or service error to an HTTP status and error type.
func classify(err error) (int, string) {
	var (
		httpErr    *echo.HTTPError
		decodeErr  *protocol.DecodeError
		requestErr *service.RequestError
		blockedErr *policy.BlockedError
		engineErr  *service.EngineError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code, "invalid_request_error"
	case errors.Is(err, wire.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType, "invalid_request_error"
	case errors.As(err, &decodeErr), errors.As(err, &requestErr):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &blockedErr):
		return http.StatusUnprocessableEntity, "attachment_rejected"
	case errors.As(err, &engineErr):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
