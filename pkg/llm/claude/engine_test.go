package claude

import (
	"testing"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeParamsMergesToolResultsIntoUserTurn(t *testing.T) {
	tr := conversation.Transcript{
		conversation.NewSystemMessage("sys"),
		conversation.NewUserMessage("q"),
	}
	tr = tr.MustAppend(
		conversation.NewToolCallMessage("sql", "looking", conversation.ToolCall{ID: "a", Name: "t1"}, conversation.ToolCall{ID: "b", Name: "t2"}),
		conversation.NewToolResultMessage("sql", "a", "ra", false),
		conversation.NewToolResultMessage("sql", "b", "rb", true),
	)

	params, err := MakeParams(llm.Settings{Model: "claude-sonnet-4-5"}, tr, nil, llm.ApplyCallOptions())
	require.NoError(t, err)
	require.Len(t, params.System, 1)
	assert.Equal(t, "sys", params.System[0].Text)
	require.Len(t, params.Messages, 3)
	assert.Len(t, params.Messages[1].Content, 3)
	assert.Len(t, params.Messages[2].Content, 2)
	assert.EqualValues(t, llm.DefaultSettings().MaxTokens, params.MaxTokens)
}

func TestMakeParamsTools(t *testing.T) {
	schema := &jsonschema.Schema{Type: "object", Required: []string{"query"}}
	params, err := MakeParams(llm.Settings{Model: "m", MaxTokens: 10}, conversation.Transcript{conversation.NewUserMessage("q")},
		[]llm.ToolSchema{{Name: "search", Description: "d", Parameters: schema}}, llm.ApplyCallOptions())
	require.NoError(t, err)
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.Tools[0].OfTool)
	assert.Equal(t, "search", params.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"query"}, params.Tools[0].OfTool.InputSchema.Required)
}

func TestMakeParamsToolChoice(t *testing.T) {
	tr := conversation.Transcript{conversation.NewUserMessage("q")}
	schemas := []llm.ToolSchema{{Name: "transfer_to_sql", Parameters: &jsonschema.Schema{Type: "object"}}}
	settings := llm.Settings{Model: "m"}

	params, err := MakeParams(settings, tr, schemas, llm.ApplyCallOptions(llm.WithParallelToolCalls(false)))
	require.NoError(t, err)
	require.NotNil(t, params.ToolChoice.OfAuto)
	assert.True(t, params.ToolChoice.OfAuto.DisableParallelToolUse.Value)

	params, err = MakeParams(settings, tr, schemas, llm.ApplyCallOptions(llm.WithToolChoice(llm.ToolChoiceRequired)))
	require.NoError(t, err)
	require.NotNil(t, params.ToolChoice.OfAny)
	assert.False(t, params.ToolChoice.OfAny.DisableParallelToolUse.Valid())

	params, err = MakeParams(settings, tr, schemas, llm.ApplyCallOptions())
	require.NoError(t, err)
	require.NotNil(t, params.ToolChoice.OfAuto)
	assert.False(t, params.ToolChoice.OfAuto.DisableParallelToolUse.Valid())

	params, err = MakeParams(settings, tr, schemas, llm.ApplyCallOptions(llm.WithToolChoice(llm.ToolChoiceNone)))
	require.NoError(t, err)
	assert.Empty(t, params.Tools)
	assert.Nil(t, params.ToolChoice.OfAuto)
}
