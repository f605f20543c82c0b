// Package service implements the reference chat backend: it resolves the
// session, invokes the completion engine and records the conversation history.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/aichat/internal/config"
	"github.com/xiaot623/aichat/internal/engine"
	"github.com/xiaot623/aichat/internal/observability"
	"github.com/xiaot623/aichat/internal/policy"
	"github.com/xiaot623/aichat/internal/statestore"
	"github.com/xiaot623/aichat/protocol"
)

// ErrTooManyMessages is returned when a request exceeds the configured message limit.
var ErrTooManyMessages = errors.New("too many messages")

// RequestError reports a request the backend refuses to process.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "invalid chat request: " + e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// EngineError reports a failure of the completion engine.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string { return "completion engine failed: " + e.Err.Error() }

func (e *EngineError) Unwrap() error { return e.Err }

type Service struct {
	store   statestore.Store
	engine  engine.Engine
	policy  *policy.Engine
	metrics *observability.Metrics
	config  *config.Config
}

// New creates the service. policyEngine may be nil to admit every attachment.
func New(store statestore.Store, eng engine.Engine, policyEngine *policy.Engine, metrics *observability.Metrics, cfg *config.Config) *Service {
	return &Service{
		store:   store,
		engine:  eng,
		policy:  policyEngine,
		metrics: metrics,
		config:  cfg,
	}
}

// turn is one resolved request ready for the engine.
type turn struct {
	sessionID uuid.UUID
	history   string
	userInput string
	context   []byte
}

func (t *turn) nextHistory(reply string) string {
	return t.history + "\nUser: " + t.userInput + "\nChatBot: " + reply
}

// Complete answers the last message of req.
func (s *Service) Complete(ctx context.Context, req *protocol.Request) (*protocol.Completion, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := observability.LoggerFromContext(ctx).With("session_id", t.sessionID)

	engineCtx, cancel := s.engineContext(ctx)
	defer cancel()

	res, err := s.engine.Complete(engineCtx, t.history, t.userInput)
	if err != nil {
		logger.Error("completion engine failed", "error", err)
		return nil, s.engineErr(ctx, err)
	}

	if err := s.store.Set(ctx, t.sessionID, t.nextHistory(res.Content)); err != nil {
		return nil, fmt.Errorf("failed to store history: %w", err)
	}
	logger.Info("chat completed", "model", res.Model, "finish_reason", res.FinishReason)

	completion := engine.ToCompletion(res, t.sessionID)
	completion.Context = t.context
	return completion, nil
}

// CompleteStream answers the last message of req as a sequence of deltas.
// emit is called in order; an error from emit aborts the stream and the
// history is left unchanged.
func (s *Service) CompleteStream(ctx context.Context, req *protocol.Request, emit func(*protocol.CompletionDelta) error) error {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return err
	}
	logger := observability.LoggerFromContext(ctx).With("session_id", t.sessionID)

	engineCtx, cancel := s.engineContext(ctx)
	defer cancel()

	emitted := 0
	send := func(fragment string) error {
		d := engine.FragmentToDelta(fragment, t.sessionID)
		if emitted == 0 {
			d.Context = t.context
		}
		emitted++
		return emit(d)
	}

	var emitErr error
	res, err := s.engine.Stream(engineCtx, t.history, t.userInput, func(fragment string) error {
		if err := send(fragment); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		logger.Warn("stream aborted by consumer", "error", emitErr, "deltas", emitted)
		return emitErr
	}
	if err != nil {
		logger.Error("completion engine stream failed", "error", err, "deltas", emitted)
		return s.engineErr(ctx, err)
	}

	// The session state must reach the caller even for an empty reply.
	if emitted == 0 {
		if err := send(""); err != nil {
			return err
		}
	}

	if err := s.store.Set(ctx, t.sessionID, t.nextHistory(res.Content)); err != nil {
		return fmt.Errorf("failed to store history: %w", err)
	}
	logger.Info("chat stream completed", "model", res.Model, "deltas", emitted)
	return nil
}

// RemoveSession drops the stored history for id.
func (s *Service) RemoveSession(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	observability.LoggerFromContext(ctx).Info("session removed", "session_id", id)
	return nil
}

// SessionHistory returns the stored history for id.
func (s *Service) SessionHistory(ctx context.Context, id uuid.UUID) (string, bool, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) prepare(ctx context.Context, req *protocol.Request) (*turn, error) {
	if req == nil {
		return nil, &RequestError{Err: protocol.ErrNoMessages}
	}
	if err := req.Validate(); err != nil {
		return nil, &RequestError{Err: err}
	}
	if s.config.MaxMessages > 0 && len(req.Messages) > s.config.MaxMessages {
		return nil, &RequestError{Err: fmt.Errorf("%w: %d > %d", ErrTooManyMessages, len(req.Messages), s.config.MaxMessages)}
	}
	if err := s.checkAttachments(ctx, req); err != nil {
		return nil, err
	}

	sessionID := uuid.New()
	if req.SessionState != nil {
		sessionID = *req.SessionState
	}
	history, err := s.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	last, _ := req.LastMessage()
	return &turn{
		sessionID: sessionID,
		history:   history,
		userInput: userInput(last),
		context:   req.Context,
	}, nil
}

func (s *Service) checkAttachments(ctx context.Context, req *protocol.Request) error {
	if s.policy == nil {
		return nil
	}
	for _, m := range req.Messages {
		for _, f := range m.Files {
			d, err := s.policy.Evaluate(ctx, f)
			if err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.AttachmentsTotal.WithLabelValues(d.Decision).Inc()
			}
			if !d.Allowed() {
				return &policy.BlockedError{Filename: f.Filename, Reasons: d.Reasons}
			}
		}
	}
	return nil
}

func (s *Service) engineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.EngineTimeout > 0 {
		return context.WithTimeout(ctx, s.config.EngineTimeout)
	}
	return context.WithCancel(ctx)
}

// engineErr keeps caller cancellation distinguishable from engine failures.
func (s *Service) engineErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &EngineError{Err: err}
}

// userInput is the text handed to the engine for the message being answered.
// Attachments are listed after the content.
func userInput(m protocol.Message) string {
	if len(m.Files) == 0 {
		return m.Content
	}
	var b strings.Builder
	b.WriteString(m.Content)
	for _, f := range m.Files {
		fmt.Fprintf(&b, "\n[attachment: %s (%s, %d bytes)]", f.Filename, f.ContentType, len(f.Data))
	}
	return b.String()
}
