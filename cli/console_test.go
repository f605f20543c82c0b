package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/aichat/client"
	"github.com/xiaot623/aichat/internal/config"
	"github.com/xiaot623/aichat/internal/engine"
	"github.com/xiaot623/aichat/internal/observability"
	"github.com/xiaot623/aichat/internal/service"
	handler "github.com/xiaot623/aichat/internal/transport/http"
	"github.com/xiaot623/aichat/protocol"
	"github.com/xiaot623/aichat/protocol/wire"
	"github.com/xiaot623/aichat/tests/helpers"
)

func newTestConsole(t *testing.T, mode string) (*console, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{MaxMessages: 10, EngineTimeout: 5 * time.Second, WSWriteTimeout: time.Second}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := service.New(helpers.NewTestBadgerStore(t), engine.NewMockEngine(5), nil, metrics, cfg)

	srv := httptest.NewServer(handler.NewServer(cfg, svc, metrics, reg))
	t.Cleanup(srv.Close)

	c, err := client.NewClient(srv.URL+"/chat", client.WithTimeout(5*time.Second))
	require.NoError(t, err)
	out := &bytes.Buffer{}
	return newConsoleWith(c, out, mode), out
}

func TestConsoleKeepsSession(t *testing.T) {
	for _, mode := range []string{modeHTTP, modeStream, modeWS} {
		t.Run(mode, func(t *testing.T) {
			con, out := newTestConsole(t, mode)
			ctx := context.Background()

			require.NoError(t, con.ask(ctx, "first", nil))
			require.NotNil(t, con.session)
			session := *con.session

			require.NoError(t, con.ask(ctx, "second", nil))
			assert.Equal(t, session, *con.session)
			assert.Contains(t, out.String(), "turn 1")
			assert.Contains(t, out.String(), "turn 2")
		})
	}
}

func TestConsoleREPL(t *testing.T) {
	con, out := newTestConsole(t, modeHTTP)

	in := strings.NewReader("hello\n/session\n\n/reset\nagain\n/quit\nignored\n")
	require.NoError(t, con.repl(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "Session: ")
	assert.Contains(t, text, "Session reset.")
	assert.Contains(t, text, "Bye!")
	assert.Equal(t, 2, strings.Count(text, "turn 1"))
	assert.NotContains(t, text, "ignored")
}

func TestConsoleREPLStopsOnCancel(t *testing.T) {
	con, out := newTestConsole(t, modeHTTP)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, con.repl(ctx, r))
	assert.Contains(t, out.String(), "Interrupted")
}

func TestReadAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text notes\n"), 0o600))

	a, err := readAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", a.Filename)
	assert.True(t, strings.HasPrefix(a.ContentType, "text/plain"))
	assert.Equal(t, []byte("plain text notes\n"), a.Data)

	_, err = readAttachments([]string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestConsoleSendsAttachments(t *testing.T) {
	con, out := newTestConsole(t, modeHTTP)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text notes\n"), 0o600))

	files, err := readAttachments([]string{path})
	require.NoError(t, err)
	require.NoError(t, con.ask(context.Background(), "read this", files))
	assert.Contains(t, out.String(), "notes.txt")
}

func TestConsoleStreamWarnsOnRoleChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", wire.ContentTypeNDJSON)
		fw := wire.NewFrameWriter(w)
		_ = fw.WriteDelta(&protocol.CompletionDelta{Delta: protocol.MessageDelta{Role: protocol.RoleAssistant, Content: "one "}})
		_ = fw.WriteDelta(&protocol.CompletionDelta{Delta: protocol.MessageDelta{Role: protocol.RoleUser, Content: "two"}})
	}))
	defer srv.Close()

	var logs bytes.Buffer
	c, err := client.NewClient(srv.URL, client.WithTimeout(5*time.Second),
		client.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	out := &bytes.Buffer{}
	con := newConsoleWith(c, out, modeStream)

	require.NoError(t, con.ask(context.Background(), "hi", nil))
	assert.Contains(t, out.String(), "one two")
	assert.Contains(t, logs.String(), "changed role mid-stream")
	assert.Contains(t, logs.String(), "non-assistant role")
}
