package protocol

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateLaw(t *testing.T) {
	s1 := uuid.New()
	s2 := uuid.New()
	deltas := []*CompletionDelta{
		{Delta: MessageDelta{Role: RoleAssistant, Content: "Hel"}, SessionState: &s1},
		{Delta: MessageDelta{Content: "lo"}, Context: []byte("first")},
		{Delta: MessageDelta{Content: ", "}},
		{Delta: MessageDelta{Content: "world", Context: []byte("m")}, Context: []byte("second"), SessionState: &s2},
		{Delta: MessageDelta{Content: ""}},
	}

	got := Aggregate(deltas)
	require.NotNil(t, got.SessionState)
	assert.Equal(t, &Completion{
		Message:      Message{Content: "Hello, world", Role: RoleAssistant, Context: []byte("m")},
		SessionState: &s2,
		Context:      []byte("second"),
	}, got)
}

func TestAggregateRoleLastWriterWins(t *testing.T) {
	var a Aggregator
	a.Add(&CompletionDelta{Delta: MessageDelta{Role: RoleAssistant, Content: "a"}})
	assert.False(t, a.RoleChanged())
	a.Add(&CompletionDelta{Delta: MessageDelta{Role: RoleAssistant, Content: "b"}})
	assert.False(t, a.RoleChanged())
	a.Add(&CompletionDelta{Delta: MessageDelta{Role: RoleSystem, Content: "c"}})
	assert.True(t, a.RoleChanged())

	c := a.Completion()
	assert.Equal(t, RoleSystem, c.Message.Role)
	assert.Equal(t, "abc", c.Message.Content)
	assert.Equal(t, 3, a.Len())
}

func TestAggregateDefaults(t *testing.T) {
	c := Aggregate(nil)
	assert.Equal(t, RoleAssistant, c.Message.Role)
	assert.Empty(t, c.Message.Content)
	assert.Nil(t, c.SessionState)
	assert.Nil(t, c.Context)
}
