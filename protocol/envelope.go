package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Request is the body of a chat call. The last message is the one to be answered.
// SessionState must echo a value previously returned by the backend.
type Request struct {
	Messages     []Message  `json:"messages" validate:"required,min=1,dive"`
	SessionState *uuid.UUID `json:"sessionState,omitempty"`
	Context      []byte     `json:"context,omitempty"`
}

// NewRequest builds a request from the given messages.
func NewRequest(messages ...Message) *Request {
	return &Request{Messages: messages}
}

// WithSessionState returns a shallow copy of r carrying the given session state.
func (r *Request) WithSessionState(state *uuid.UUID) *Request {
	cp := *r
	cp.SessionState = state
	return &cp
}

// HasFiles reports whether any message in the request carries attachments.
func (r *Request) HasFiles() bool {
	for i := range r.Messages {
		if r.Messages[i].HasFiles() {
			return true
		}
	}
	return false
}

// LastMessage returns the message the caller expects to be answered.
func (r *Request) LastMessage() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

// WithoutFiles returns a copy of r whose messages carry no attachments.
// The receiver and its message slice are left untouched.
func (r *Request) WithoutFiles() *Request {
	cp := *r
	cp.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		m.Files = nil
		cp.Messages[i] = m
	}
	return &cp
}

// MarshalJSON always emits "messages" as an array, never null.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	p := plain(r)
	if p.Messages == nil {
		p.Messages = []Message{}
	}
	return json.Marshal(p)
}

// Completion is the full response to a Request.
type Completion struct {
	Message      Message    `json:"message"`
	SessionState *uuid.UUID `json:"sessionState,omitempty"`
	Context      []byte     `json:"context,omitempty"`
}

// CompletionDelta is one frame of a streamed response.
type CompletionDelta struct {
	Delta        MessageDelta `json:"delta"`
	SessionState *uuid.UUID   `json:"sessionState,omitempty"`
	Context      []byte       `json:"context,omitempty"`
}
