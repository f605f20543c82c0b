// Package protocol defines the AI chat protocol data model: messages, attachments,
// request and response envelopes, the error taxonomy, and delta aggregation.
package protocol

import (
	"fmt"
	"io"
)

// Attachment is a file carried by a user message.
type Attachment struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"contentType" validate:"required"`
	Data        []byte `json:"data"`
}

// NewAttachment reads r fully and returns an attachment holding its bytes.
func NewAttachment(filename, contentType string, r io.Reader) (Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Attachment{}, &EncodeError{Err: fmt.Errorf("read attachment %q: %w", filename, err)}
	}
	return Attachment{Filename: filename, ContentType: contentType, Data: data}, nil
}

// Message represents one chat message.
// Context is an opaque blob; an empty Context is treated as absent.
type Message struct {
	Content string       `json:"content"`
	Role    Role         `json:"role" validate:"required,oneof=system assistant user"`
	Context []byte       `json:"context,omitempty"`
	Files   []Attachment `json:"files,omitempty" validate:"omitempty,dive"`
}

// HasFiles reports whether the message carries at least one attachment.
func (m *Message) HasFiles() bool {
	return len(m.Files) > 0
}

// MessageDelta is an incremental fragment of a message.
type MessageDelta struct {
	Content string `json:"content,omitempty"`
	Role    Role   `json:"role,omitempty"`
	Context []byte `json:"context,omitempty"`
}
