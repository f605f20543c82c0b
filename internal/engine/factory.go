package engine

import (
	"log/slog"
	"strings"

	"github.com/xiaot623/aichat/internal/config"
)

// ModeMock selects the mock engine.
const ModeMock = "MOCK"

// New creates an engine from configuration. AICHAT_MODE=MOCK, or a missing
// OpenAI key, selects the mock engine.
func New(cfg *config.Config) (Engine, error) {
	if strings.EqualFold(cfg.Mode, ModeMock) {
		slog.Info("AICHAT_MODE=MOCK detected, using mock engine")
		return NewMockEngine(10), nil
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, using mock engine")
		return NewMockEngine(10), nil
	}
	return NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.SystemPrompt)
}
