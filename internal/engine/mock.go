package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MockEngine is a deterministic engine for local runs and tests.
type MockEngine struct {
	chunkSize int
}

// NewMockEngine creates a mock engine streaming in chunks of chunkSize bytes.
func NewMockEngine(chunkSize int) *MockEngine {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	return &MockEngine{chunkSize: chunkSize}
}

// Ensure MockEngine implements Engine.
var _ Engine = (*MockEngine)(nil)

// Complete returns a mock reply.
func (m *MockEngine) Complete(ctx context.Context, history, userInput string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Content:      m.reply(history, userInput),
		Model:        "mock",
		FinishReason: "stop",
	}, nil
}

// Stream simulates streaming by splitting the mock reply into chunks.
func (m *MockEngine) Stream(ctx context.Context, history, userInput string, fn FragmentFunc) (*Result, error) {
	content := m.reply(history, userInput)
	for _, chunk := range splitIntoChunks(content, m.chunkSize) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := fn(chunk); err != nil {
			return nil, err
		}
	}
	return &Result{Content: content, Model: "mock", FinishReason: "stop"}, nil
}

// reply numbers the turn from the history so session continuity is observable.
func (m *MockEngine) reply(history, userInput string) string {
	turn := strings.Count(history, "\nUser: ") + 1
	if strings.TrimSpace(userInput) == "" {
		return fmt.Sprintf("[MOCK] turn %d: This is a mock response.", turn)
	}
	return fmt.Sprintf("[MOCK] turn %d: Received your message: %q. This is a mock response.", turn, truncate(userInput, 100))
}

// splitIntoChunks splits a string into chunks of approximately the given size
// without breaking UTF-8 sequences.
func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	var chunks []string
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if b.Len() >= chunkSize {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
