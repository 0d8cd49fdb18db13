package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/events"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

func newSpec(t *testing.T) Spec {
	add, err := tools.NewToolFromFunc("add", "adds two numbers", func(in addInput) (int, error) {
		return in.A + in.B, nil
	})
	require.NoError(t, err)
	reg, err := tools.NewInMemoryRegistry(*add)
	require.NoError(t, err)
	spec, err := NewSpec("calculator", "does math", "You are a calculator.", reg)
	require.NoError(t, err)
	return spec
}

func userTranscript(text string) conversation.Transcript {
	return conversation.Transcript{conversation.NewUserMessage(text)}
}

func TestRunToolThenAnswer(t *testing.T) {
	script := llm.NewScript(
		llm.CallTool("add", map[string]any{"a": 2, "b": 3}),
		llm.Reply("2 + 3 = 5"),
	)
	var emitted []conversation.Message
	res, err := NewLoop(script).Run(context.Background(), newSpec(t), userTranscript("what is 2+3?"), func(m conversation.Message) {
		emitted = append(emitted, m)
	})
	require.NoError(t, err)

	assert.Equal(t, "2 + 3 = 5", res.Final.Content)
	assert.Equal(t, "calculator", res.Final.Author)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, conversation.ShapeToolCalls, res.Messages[0].Shape())
	assert.Equal(t, conversation.ShapeToolResult, res.Messages[1].Shape())
	assert.Equal(t, "5", res.Messages[1].ToolResult.Content)
	assert.Equal(t, res.Messages[0].ToolCalls[0].ID, res.Messages[1].ToolResult.ToolCallID)
	assert.Equal(t, []conversation.Message(res.Messages), emitted)

	calls := script.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, conversation.RoleSystem, calls[0].Transcript[0].Role)
	assert.Equal(t, "You are a calculator.", calls[0].Transcript[0].Content)
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, "add", calls[0].Tools[0].Name)
	// second call sees the tool result
	assert.Len(t, calls[1].Transcript, 4)
	assert.NoError(t, calls[1].Transcript.Validate())
}

func TestRunUnknownToolIsFedBack(t *testing.T) {
	script := llm.NewScript(
		llm.CallTool("multiply", map[string]any{"a": 2}),
		llm.Reply("sorry, I can only add"),
	)
	res, err := NewLoop(script).Run(context.Background(), newSpec(t), userTranscript("2*3?"), nil)
	require.NoError(t, err)

	tr := res.Messages[1]
	require.Equal(t, conversation.ShapeToolResult, tr.Shape())
	assert.True(t, tr.ToolResult.IsError)
	assert.True(t, strings.HasPrefix(tr.ToolResult.Content, "Error: unknown tool"))
	assert.Equal(t, "sorry, I can only add", res.Final.Content)
}

func TestRunToolErrorIsFedBack(t *testing.T) {
	boom, err := tools.NewToolFromFunc("boom", "fails", func() (string, error) {
		return "", errors.New("database unavailable")
	})
	require.NoError(t, err)
	reg, err := tools.NewInMemoryRegistry(*boom)
	require.NoError(t, err)
	spec, err := NewSpec("sql", "runs sql", "", reg)
	require.NoError(t, err)

	script := llm.NewScript(llm.CallTool("boom", nil), llm.Reply("the database is down"))
	res, err := NewLoop(script).Run(context.Background(), spec, userTranscript("hi"), nil)
	require.NoError(t, err)
	assert.Contains(t, res.Messages[1].ToolResult.Content, "database unavailable")

	// no system prompt configured
	assert.Equal(t, conversation.RoleUser, script.Calls()[0].Transcript[0].Role)
}

func TestRunMaxIterations(t *testing.T) {
	script := llm.NewScript(llm.CallTool("add", map[string]any{"a": 1, "b": 1}))
	script.Repeat = true
	res, err := NewLoop(script, WithMaxIterations(3)).Run(context.Background(), newSpec(t), userTranscript("loop"), nil)
	assert.ErrorIs(t, err, ErrMaxIterations)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, res.Messages, 6)
}

func TestRunEngineError(t *testing.T) {
	script := llm.NewScript(llm.Fail(errors.New("rate limited")))
	_, err := NewLoop(script).Run(context.Background(), newSpec(t), userTranscript("x"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent calculator")
}

func TestRunPublishesEvents(t *testing.T) {
	sink := &events.CollectingSink{}
	ctx := events.WithRunID(events.WithEventSinks(context.Background(), sink), "run-1")
	script := llm.NewScript(llm.CallTool("add", map[string]any{"a": 1, "b": 2}), llm.Reply("3"))

	_, err := NewLoop(script).Run(ctx, newSpec(t), userTranscript("1+2"), nil)
	require.NoError(t, err)

	require.Len(t, sink.OfType(events.EventTypeToolCall), 1)
	res := sink.OfType(events.EventTypeToolResult)
	require.Len(t, res, 1)
	assert.Equal(t, "add", res[0].(*events.EventToolResult).Name)
	assert.Equal(t, "run-1", res[0].Metadata().RunID)
	assert.Len(t, sink.OfType(events.EventTypeMessage), 1)
}

func TestNewSpecValidation(t *testing.T) {
	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)
	_, err = NewSpec("Bad Name", "x", "", reg)
	assert.Error(t, err)
	_, err = NewSpec("ok", "", "", reg)
	assert.Error(t, err)
	_, err = NewSpec("ok", "x", "", nil)
	assert.Error(t, err)
}
