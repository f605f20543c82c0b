package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// Aggregator folds a stream of CompletionDelta values into one Completion.
//
// Content concatenates in arrival order. Context, message context and session
// state take the last value that was present. Role is last-writer-wins: a delta
// that names a role different from an earlier one replaces it and RoleChanged
// starts reporting true. When no delta names a role the result is assistant.
//
// An Aggregator is not safe for concurrent use.
type Aggregator struct {
	content      strings.Builder
	role         Role
	roleChanged  bool
	msgContext   []byte
	context      []byte
	sessionState *uuid.UUID
	count        int
}

// Add folds one delta into the aggregate.
func (a *Aggregator) Add(d *CompletionDelta) {
	if d == nil {
		return
	}
	a.count++
	a.content.WriteString(d.Delta.Content)
	if d.Delta.Role != "" {
		if a.role != "" && a.role != d.Delta.Role {
			a.roleChanged = true
		}
		a.role = d.Delta.Role
	}
	if len(d.Delta.Context) > 0 {
		a.msgContext = d.Delta.Context
	}
	if len(d.Context) > 0 {
		a.context = d.Context
	}
	if d.SessionState != nil {
		s := *d.SessionState
		a.sessionState = &s
	}
}

// Len returns the number of deltas added so far.
func (a *Aggregator) Len() int { return a.count }

// RoleChanged reports whether a later delta overrode an earlier, different role.
func (a *Aggregator) RoleChanged() bool { return a.roleChanged }

// Completion returns the completion equivalent to the deltas added so far.
func (a *Aggregator) Completion() *Completion {
	role := a.role
	if role == "" {
		role = RoleAssistant
	}
	c := &Completion{
		Message: Message{
			Content: a.content.String(),
			Role:    role,
			Context: a.msgContext,
		},
		Context: a.context,
	}
	if a.sessionState != nil {
		s := *a.sessionState
		c.SessionState = &s
	}
	return c
}

// Aggregate folds deltas in order and returns the resulting completion.
func Aggregate(deltas []*CompletionDelta) *Completion {
	var a Aggregator
	for _, d := range deltas {
		a.Add(d)
	}
	return a.Completion()
}
