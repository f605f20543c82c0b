package protocol

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoMessages is returned when a request is dispatched without any message.
var ErrNoMessages = errors.New("request has no messages")

// TransportError reports a non-success HTTP status or a connection failure.
// StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("chat transport error: %v", e.Err)
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("chat endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat endpoint returned status %d: %s", e.StatusCode, truncate(string(e.Body), 512))
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a response body that does not match the protocol schema.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "chat decode error: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a request that could not be encoded or dispatched.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return "chat encode error: " + e.Err.Error() }

func (e *EncodeError) Unwrap() error { return e.Err }

// CancelledError reports that the caller's context ended the call.
// It unwraps to the context error.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string { return "chat call cancelled: " + e.Err.Error() }

func (e *CancelledError) Unwrap() error { return e.Err }

// Cancelled wraps the context error of ctx, or returns nil when ctx is still live.
func Cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &CancelledError{Err: err}
	}
	return nil
}

// IsCancelled reports whether err is, or wraps, a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
