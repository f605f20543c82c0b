package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, StoreMemory, cfg.StateStore)
	assert.Equal(t, 100, cfg.MaxMessages)
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AICHAT_HTTP_PORT", "9999")
	t.Setenv("AICHAT_STATE_STORE", "SQLite")
	t.Setenv("AICHAT_SESSION_TTL_MS", "1500")
	t.Setenv("AICHAT_ALLOWED_CONTENT_TYPES", "text/, image/png ,")
	t.Setenv("AICHAT_MAX_MESSAGES", "not-a-number")

	cfg := Load()
	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.Equal(t, StoreSQLite, cfg.StateStore)
	assert.Equal(t, 1500*time.Millisecond, cfg.SessionTTL)
	assert.Equal(t, []string{"text/", "image/png"}, cfg.AllowedContentTypes)
	assert.Equal(t, 100, cfg.MaxMessages)
}

func TestValidateRejectsUnknownStore(t *testing.T) {
	cfg := Load()
	cfg.StateStore = "redis"
	assert.Error(t, cfg.Validate())
}

func TestClientConfig(t *testing.T) {
	cfg := LoadClient()
	cfg.ChatEndpoint = ""
	assert.EqualError(t, cfg.Validate(), "chat endpoint must be set")

	t.Setenv("AICHATPROTOCOL_CHAT_ENDPOINT", "http://localhost:8080/chat")
	cfg = LoadClient()
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("AICHAT_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("AICHAT_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("AICHAT_TEST_DOTENV"))
}
