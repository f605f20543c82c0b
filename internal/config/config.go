// Package config provides configuration for the chat backend and the console client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// State store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Config holds the backend configuration.
type Config struct {
	// Server settings
	HTTPPort  int
	BodyLimit string

	// State store
	StateStore  string
	DatabaseURL string
	BadgerPath  string
	SessionTTL  time.Duration

	// Completion engine
	Mode          string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	SystemPrompt  string
	EngineTimeout time.Duration

	// Request limits
	MaxMessages         int
	MaxAttachmentBytes  int
	AllowedContentTypes []string

	// WebSocket settings
	WSWriteTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// DefaultSystemPrompt mirrors a plain chat bot prompt with history substitution.
const DefaultSystemPrompt = `You are a helpful chat bot. Continue the conversation below.
{{history}}
User: {{userInput}}
ChatBot:`

// LoadDotEnv loads variables from .env files when present. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:            getEnvInt("AICHAT_HTTP_PORT", 8080),
		BodyLimit:           getEnv("AICHAT_BODY_LIMIT", "32M"),
		StateStore:          strings.ToLower(getEnv("AICHAT_STATE_STORE", StoreMemory)),
		DatabaseURL:         getEnv("AICHAT_DATABASE_URL", "file:aichat.db?cache=shared&mode=rwc"),
		BadgerPath:          getEnv("AICHAT_BADGER_PATH", "./data/sessions"),
		SessionTTL:          time.Duration(getEnvInt("AICHAT_SESSION_TTL_MS", 0)) * time.Millisecond,
		Mode:                getEnv("AICHAT_MODE", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		SystemPrompt:        getEnv("AICHAT_SYSTEM_PROMPT", DefaultSystemPrompt),
		EngineTimeout:       time.Duration(getEnvInt("AICHAT_ENGINE_TIMEOUT_MS", 120000)) * time.Millisecond,
		MaxMessages:         getEnvInt("AICHAT_MAX_MESSAGES", 100),
		MaxAttachmentBytes:  getEnvInt("AICHAT_MAX_ATTACHMENT_BYTES", 10<<20),
		AllowedContentTypes: getEnvList("AICHAT_ALLOWED_CONTENT_TYPES", []string{"text/", "image/", "application/pdf", "application/json", "application/octet-stream"}),
		WSWriteTimeout:      time.Duration(getEnvInt("AICHAT_WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
	}
}

// Validate checks settings that cannot fall back to a default.
func (c *Config) Validate() error {
	switch c.StateStore {
	case StoreMemory, StoreSQLite, StoreBadger:
	default:
		return fmt.Errorf("unknown state store %q", c.StateStore)
	}
	if c.MaxMessages <= 0 {
		return errors.New("AICHAT_MAX_MESSAGES must be positive")
	}
	return nil
}

// ClientConfig holds the console client configuration.
type ClientConfig struct {
	ChatEndpoint string
	Timeout      time.Duration
	LogLevel     string
}

// LoadClient loads the console client configuration from AICHATPROTOCOL_* variables.
func LoadClient() *ClientConfig {
	return &ClientConfig{
		ChatEndpoint: getEnv("AICHATPROTOCOL_CHAT_ENDPOINT", ""),
		Timeout:      time.Duration(getEnvInt("AICHATPROTOCOL_TIMEOUT_MS", 0)) * time.Millisecond,
		LogLevel:     getEnv("AICHATPROTOCOL_LOG_LEVEL", "warn"),
	}
}

// Validate checks that the chat endpoint is set.
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.ChatEndpoint) == "" {
		return errors.New("chat endpoint must be set")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
