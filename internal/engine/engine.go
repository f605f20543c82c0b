// Package engine abstracts the completion engine that produces reply text.
package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/xiaot623/aichat/protocol"
)

// FragmentFunc is called for each streamed fragment, in order.
type FragmentFunc func(fragment string) error

// Engine produces a reply to userInput given the conversation history.
// It is invoked once per chat request.
type Engine interface {
	// Complete returns the full reply.
	Complete(ctx context.Context, history, userInput string) (*Result, error)

	// Stream produces the reply as fragments and returns the assembled result.
	Stream(ctx context.Context, history, userInput string, fn FragmentFunc) (*Result, error)
}

// Result is the engine's output for one request.
type Result struct {
	Content      string
	Model        string
	FinishReason string
}

// ToCompletion adapts an engine result into a protocol completion for the session.
func ToCompletion(r *Result, sessionID uuid.UUID) *protocol.Completion {
	id := sessionID
	return &protocol.Completion{
		Message: protocol.Message{
			Role:    protocol.RoleAssistant,
			Content: r.Content,
		},
		SessionState: &id,
	}
}

// FragmentToDelta adapts one streamed fragment into a protocol delta.
func FragmentToDelta(fragment string, sessionID uuid.UUID) *protocol.CompletionDelta {
	id := sessionID
	return &protocol.CompletionDelta{
		Delta: protocol.MessageDelta{
			Role:    protocol.RoleAssistant,
			Content: fragment,
		},
		SessionState: &id,
	}
}
