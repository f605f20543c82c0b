package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/xiaot623/aichat/protocol"
	"github.com/xiaot623/aichat/protocol/wire"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("stream closed")

type frameSource interface {
	Next() ([]byte, error)
	Close() error
}

type bodyFrames struct {
	body   io.ReadCloser
	reader *wire.FrameReader
}

func (b *bodyFrames) Next() ([]byte, error) { return b.reader.Next() }
func (b *bodyFrames) Close() error          { return b.body.Close() }

type wsFrames struct {
	conn *websocket.Conn
}

func (w *wsFrames) Next() ([]byte, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (w *wsFrames) Close() error { return w.conn.Close() }

// Stream is a forward-only, finite sequence of completion deltas. It is not
// restartable and not safe for concurrent use. Cancelling the context passed to
// the call that created it releases the underlying connection.
type Stream struct {
	ctx    context.Context
	src    frameSource
	logger *slog.Logger
	stop   func() bool
	once   sync.Once
	err    error
	agg    protocol.Aggregator
}

func newStream(ctx context.Context, src frameSource, logger *slog.Logger) *Stream {
	s := &Stream{ctx: ctx, src: src, logger: logger}
	s.stop = context.AfterFunc(ctx, func() { _ = src.Close() })
	return s
}

// Recv returns the next delta, or io.EOF once the stream is exhausted.
// After any error, further calls return the same error.
func (s *Stream) Recv() (*protocol.CompletionDelta, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := protocol.Cancelled(s.ctx); err != nil {
		s.finish(err)
		return nil, err
	}

	frame, err := s.src.Next()
	if err != nil {
		switch {
		case protocol.Cancelled(s.ctx) != nil:
			err = protocol.Cancelled(s.ctx)
		case err == io.EOF:
		default:
			err = &protocol.TransportError{Err: fmt.Errorf("read stream: %w", err)}
		}
		s.finish(err)
		return nil, err
	}

	d, err := wire.DecodeDelta(frame)
	if err != nil {
		s.finish(err)
		return nil, err
	}
	s.agg.Add(d)
	return d, nil
}

// Deltas iterates the remaining deltas. Iteration stops at the end of the
// stream or after yielding a single non-nil error. Breaking out early closes
// the stream.
func (s *Stream) Deltas() iter.Seq2[*protocol.CompletionDelta, error] {
	return func(yield func(*protocol.CompletionDelta, error) bool) {
		for {
			d, err := s.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(d, nil) {
				s.Close()
				return
			}
		}
	}
}

// Collect drains the stream and aggregates it into one completion.
func (s *Stream) Collect() (*protocol.Completion, error) {
	defer s.Close()

	for _, err := range s.Deltas() {
		if err != nil {
			return nil, err
		}
	}
	return s.Completion(), nil
}

// Completion aggregates the deltas delivered so far. Callers that consume the
// stream themselves call it once they are done. A role change mid-stream and a
// non-assistant final role are logged as warnings.
func (s *Stream) Completion() *protocol.Completion {
	completion := s.agg.Completion()
	if s.agg.RoleChanged() {
		s.logger.WarnContext(s.ctx, "streamed completion changed role mid-stream; last role wins",
			"role", completion.Message.Role)
	}
	if completion.Message.Role != protocol.RoleAssistant {
		s.logger.WarnContext(s.ctx, "completion carries a non-assistant role", "role", completion.Message.Role)
	}
	return completion
}

// Received returns the number of deltas delivered so far.
func (s *Stream) Received() int { return s.agg.Len() }

// Close releases the underlying connection. Deltas already returned stay valid.
func (s *Stream) Close() error {
	if s.err == nil {
		s.err = ErrStreamClosed
	}
	s.release()
	return nil
}

func (s *Stream) finish(err error) {
	s.err = err
	s.release()
}

func (s *Stream) release() {
	s.once.Do(func() {
		s.stop()
		_ = s.src.Close()
	})
}
