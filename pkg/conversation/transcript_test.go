package conversation

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRejectsOrphanToolResult(t *testing.T) {
	tr := Transcript{NewUserMessage("hi")}

	_, err := tr.Append(NewToolResultMessage("sql", "call-missing", "boom", false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrphanToolResult))
	assert.Len(t, tr, 1)
}

func TestAppendAcceptsResultAfterCall(t *testing.T) {
	tr := Transcript{NewUserMessage("hi")}
	call := NewToolCallMessage("sql", "", ToolCall{ID: "c1", Name: "get_return_policy"})

	out, err := tr.Append(call, NewToolResultMessage("sql", "c1", "30 days", false))
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.NoError(t, out.Validate())
	assert.Len(t, tr, 1, "receiver must not change")
}

func TestAppendDoesNotAliasReceiver(t *testing.T) {
	base := make(Transcript, 0, 10)
	base = append(base, NewUserMessage("a"))

	a := base.MustAppend(NewAssistantMessage("x", "first"))
	b := base.MustAppend(NewAssistantMessage("x", "second"))

	assert.Equal(t, "first", a[1].Content)
	assert.Equal(t, "second", b[1].Content)
}

func TestValidateDetectsOrphan(t *testing.T) {
	tr := Transcript{
		NewUserMessage("q"),
		NewToolResultMessage("sql", "nope", "x", false),
	}
	assert.True(t, errors.Is(tr.Validate(), ErrOrphanToolResult))
}

func TestNewToolCallMessageAssignsIDs(t *testing.T) {
	m := NewToolCallMessage("sql", "", ToolCall{Name: "a"})
	require.Len(t, m.ToolCalls, 1)
	assert.NotEmpty(t, m.ToolCalls[0].ID)
	assert.NotNil(t, m.ToolCalls[0].Arguments)
}

func TestShape(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want Shape
	}{
		{"user", NewUserMessage("q"), ShapePlain},
		{"assistant", NewAssistantMessage("sql", "a"), ShapePlain},
		{"tool calls", NewToolCallMessage("sql", "", ToolCall{ID: "1", Name: "t"}), ShapeToolCalls},
		{"tool result", NewToolResultMessage("sql", "1", "r", false), ShapeToolResult},
		{"system", NewSystemMessage("s"), ShapeUnrecognized},
		{"bare tool", Message{Role: RoleTool, Content: "x"}, ShapeUnrecognized},
		{"unknown role", Message{Role: "function", Content: "x"}, ShapeUnrecognized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.msg.Shape())
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	tr := Transcript{NewToolCallMessage("sql", "", ToolCall{ID: "1", Name: "t", Arguments: map[string]any{"x": 1}})}
	cp := tr.Clone()
	cp[0].ToolCalls[0].Arguments["x"] = 2

	assert.Equal(t, 1, tr[0].ToolCalls[0].Arguments["x"])
}

func TestPendingToolCalls(t *testing.T) {
	tr := Transcript{
		NewToolCallMessage("sql", "", ToolCall{ID: "1", Name: "a"}, ToolCall{ID: "2", Name: "b"}),
	}
	tr = tr.MustAppend(NewToolResultMessage("sql", "1", "ok", false))

	pending := tr.PendingToolCalls()
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].ID)
}

func TestFromInput(t *testing.T) {
	tr, err := FromInput([]InputMessage{{Role: "user", Content: "hello"}, {Role: "Assistant", Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, tr, 2)
	assert.Equal(t, RoleAssistant, tr[1].Role)

	_, err = FromInput([]InputMessage{{Role: "tool", Content: "x"}})
	assert.Error(t, err)

	_, err = FromInput(nil)
	assert.Error(t, err)
}
