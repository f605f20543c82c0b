package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/aichat/internal/config"
	"github.com/xiaot623/aichat/internal/engine"
	"github.com/xiaot623/aichat/internal/observability"
	"github.com/xiaot623/aichat/internal/policy"
	"github.com/xiaot623/aichat/internal/statestore"
	"github.com/xiaot623/aichat/protocol"
)

type failingEngine struct {
	err error
}

func (f failingEngine) Complete(ctx context.Context, history, userInput string) (*engine.Result, error) {
	return nil, f.err
}

func (f failingEngine) Stream(ctx context.Context, history, userInput string, fn engine.FragmentFunc) (*engine.Result, error) {
	return nil, f.err
}

type silentEngine struct{}

func (silentEngine) Complete(ctx context.Context, history, userInput string) (*engine.Result, error) {
	return &engine.Result{}, nil
}

func (silentEngine) Stream(ctx context.Context, history, userInput string, fn engine.FragmentFunc) (*engine.Result, error) {
	return &engine.Result{}, nil
}

func newTestService(t *testing.T, eng engine.Engine) (*Service, statestore.Store) {
	t.Helper()
	if eng == nil {
		eng = engine.NewMockEngine(8)
	}
	pol, err := policy.NewEngine(context.Background(), "", 16, []string{"text/"})
	require.NoError(t, err)
	store := statestore.NewMemoryStore()
	cfg := &config.Config{MaxMessages: 3, EngineTimeout: time.Second}
	return New(store, eng, pol, observability.NewMetrics(prometheus.NewRegistry()), cfg), store
}

func userRequest(content string) *protocol.Request {
	return protocol.NewRequest(protocol.Message{Role: protocol.RoleUser, Content: content})
}

func TestCompleteCreatesSession(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)

	req := userRequest("hi")
	req.Context = []byte("ctx-1")
	c, err := svc.Complete(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, protocol.RoleAssistant, c.Message.Role)
	assert.Contains(t, c.Message.Content, `"hi"`)
	assert.Equal(t, []byte("ctx-1"), c.Context)
	require.NotNil(t, c.SessionState)

	history, ok, err := store.Get(ctx, *c.SessionState)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "\nUser: hi\nChatBot: "+c.Message.Content, history)
}

func TestCompleteContinuesSession(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)

	first, err := svc.Complete(ctx, userRequest("one"))
	require.NoError(t, err)

	second, err := svc.Complete(ctx, userRequest("two").WithSessionState(first.SessionState))
	require.NoError(t, err)
	assert.Equal(t, *first.SessionState, *second.SessionState)
	assert.True(t, strings.HasPrefix(second.Message.Content, "[MOCK] turn 2:"))

	history, _, err := store.Get(ctx, *first.SessionState)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(history, "\nUser: "))
}

func TestCompleteRejectsInvalidRequests(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Complete(context.Background(), &protocol.Request{})
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.ErrorIs(t, err, protocol.ErrNoMessages)

	msgs := make([]protocol.Message, 4)
	for i := range msgs {
		msgs[i] = protocol.Message{Role: protocol.RoleUser, Content: "x"}
	}
	_, err = svc.Complete(context.Background(), protocol.NewRequest(msgs...))
	assert.ErrorIs(t, err, ErrTooManyMessages)
}

func TestCompleteAttachments(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := protocol.NewRequest(protocol.Message{Role: protocol.RoleUser, Content: "see", Files: []protocol.Attachment{
		{Filename: "a.txt", ContentType: "text/plain", Data: []byte("abc")},
	}})
	c, err := svc.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, c.Message.Content, "a.txt")

	req = protocol.NewRequest(protocol.Message{Role: protocol.RoleUser, Content: "see", Files: []protocol.Attachment{
		{Filename: "a.png", ContentType: "image/png", Data: []byte("abc")},
	}})
	_, err = svc.Complete(context.Background(), req)
	var blocked *policy.BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, "a.png", blocked.Filename)
}

func TestCompleteEngineFailure(t *testing.T) {
	boom := errors.New("boom")
	svc, store := newTestService(t, failingEngine{err: boom})

	id := uuid.New()
	_, err := svc.Complete(context.Background(), userRequest("hi").WithSessionState(&id))
	var engErr *EngineError
	require.True(t, errors.As(err, &engErr))
	assert.ErrorIs(t, err, boom)

	history, _, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCompleteCancelled(t *testing.T) {
	svc, _ := newTestService(t, failingEngine{err: context.Canceled})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Complete(ctx, userRequest("hi"))
	assert.ErrorIs(t, err, context.Canceled)
	var engErr *EngineError
	assert.False(t, errors.As(err, &engErr))
}

func TestCompleteStreamAggregatesToComplete(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)

	req := userRequest("stream me")
	req.Context = []byte("c")
	var deltas []*protocol.CompletionDelta
	err := svc.CompleteStream(ctx, req, func(d *protocol.CompletionDelta) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	require.Greater(t, len(deltas), 1)
	assert.Equal(t, []byte("c"), deltas[0].Context)
	assert.Nil(t, deltas[1].Context)

	c := protocol.Aggregate(deltas)
	assert.Equal(t, protocol.RoleAssistant, c.Message.Role)
	assert.Equal(t, []byte("c"), c.Context)
	require.NotNil(t, c.SessionState)

	full, err := engine.NewMockEngine(8).Complete(ctx, "", "stream me")
	require.NoError(t, err)
	assert.Equal(t, full.Content, c.Message.Content)

	history, _, err := store.Get(ctx, *c.SessionState)
	require.NoError(t, err)
	assert.Contains(t, history, full.Content)
}

func TestCompleteStreamEmptyReplyCarriesSession(t *testing.T) {
	svc, _ := newTestService(t, silentEngine{})

	var deltas []*protocol.CompletionDelta
	err := svc.CompleteStream(context.Background(), userRequest("hi"), func(d *protocol.CompletionDelta) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.NotNil(t, deltas[0].SessionState)
	assert.Empty(t, deltas[0].Delta.Content)
}

func TestCompleteStreamConsumerAbort(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)
	gone := errors.New("client gone")

	id := uuid.New()
	calls := 0
	err := svc.CompleteStream(ctx, userRequest("hi").WithSessionState(&id), func(d *protocol.CompletionDelta) error {
		calls++
		return gone
	})
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 1, calls)

	history, _, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRemoveSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	c, err := svc.Complete(ctx, userRequest("hi"))
	require.NoError(t, err)

	_, ok, err := svc.SessionHistory(ctx, *c.SessionState)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.RemoveSession(ctx, *c.SessionState))
	_, ok, err = svc.SessionHistory(ctx, *c.SessionState)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserInput(t *testing.T) {
	assert.Equal(t, "plain", userInput(protocol.Message{Content: "plain"}))
	got := userInput(protocol.Message{Content: "x", Files: []protocol.Attachment{
		{Filename: "a.txt", ContentType: "text/plain", Data: []byte("12")},
	}})
	assert.Equal(t, "x\n[attachment: a.txt (text/plain, 2 bytes)]", got)
}
