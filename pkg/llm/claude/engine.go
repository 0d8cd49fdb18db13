// Package claude implements llm.Engine on the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Engine struct {
	client   anthropic.Client
	settings llm.Settings
}

var _ llm.Engine = (*Engine)(nil)

func NewEngine(settings llm.Settings) (*Engine, error) {
	opts := []option.RequestOption{}
	if settings.APIKey != "" {
		opts = append(opts, option.WithAPIKey(settings.APIKey))
	}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	return &Engine{client: anthropic.NewClient(opts...), settings: settings}, nil
}

func (e *Engine) Complete(ctx context.Context, t conversation.Transcript, schemas []llm.ToolSchema, opts ...llm.CallOption) (conversation.Message, error) {
	params, err := MakeParams(e.settings, t, schemas, llm.ApplyCallOptions(opts...))
	if err != nil {
		return conversation.Message{}, err
	}
	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return conversation.Message{}, errors.Wrap(err, "anthropic messages")
	}
	log.Debug().
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Str("stop_reason", string(resp.StopReason)).
		Msg("claude completion")
	return FromResponse(resp), nil
}

// MakeParams builds request parameters. System messages are hoisted into the system
// prompt, and consecutive same-role messages are merged into one turn.
func MakeParams(settings llm.Settings, t conversation.Transcript, schemas []llm.ToolSchema, opts llm.CallOptions) (anthropic.MessageNewParams, error) {
	maxTokens := settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultSettings().MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(settings.Model),
		MaxTokens: int64(maxTokens),
	}
	if settings.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*settings.Temperature))
	}

	var system []string
	type turn struct {
		assistant bool
		blocks    []anthropic.ContentBlockParamUnion
	}
	var turns []turn
	push := func(assistant bool, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].assistant == assistant {
			turns[n-1].blocks = append(turns[n-1].blocks, blocks...)
			return
		}
		turns = append(turns, turn{assistant: assistant, blocks: blocks})
	}

	for _, m := range t {
		switch m.Role {
		case conversation.RoleSystem:
			system = append(system, m.Content)
		case conversation.RoleUser:
			if m.Content != "" {
				push(false, anthropic.NewTextBlock(m.Content))
			}
		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, c := range m.ToolCalls {
				args := c.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, args, c.Name))
			}
			push(true, blocks...)
		case conversation.RoleTool:
			if m.ToolResult == nil {
				return params, errors.Errorf("tool message %s has no result", m.ID)
			}
			push(false, anthropic.NewToolResultBlock(m.ToolResult.ToolCallID, m.ToolResult.Content, m.ToolResult.IsError))
		default:
			return params, errors.Errorf("unsupported role %q", m.Role)
		}
	}

	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	for _, tr := range turns {
		if tr.assistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(tr.blocks...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(tr.blocks...))
		}
	}

	if opts.ToolChoice == llm.ToolChoiceNone {
		return params, nil
	}
	for _, s := range schemas {
		props, required, err := llm.SchemaProperties(s.Parameters)
		if err != nil {
			return params, err
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		})
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = toolChoice(opts)
	}
	return params, nil
}

// toolChoice maps call options onto the anthropic tool_choice parameter.
func toolChoice(opts llm.CallOptions) anthropic.ToolChoiceUnionParam {
	single := opts.ParallelToolCalls != nil && !*opts.ParallelToolCalls
	if opts.ToolChoice == llm.ToolChoiceRequired {
		choice := &anthropic.ToolChoiceAnyParam{}
		if single {
			choice.DisableParallelToolUse = anthropic.Bool(true)
		}
		return anthropic.ToolChoiceUnionParam{OfAny: choice}
	}
	choice := &anthropic.ToolChoiceAutoParam{}
	if single {
		choice.DisableParallelToolUse = anthropic.Bool(true)
	}
	return anthropic.ToolChoiceUnionParam{OfAuto: choice}
}

// FromResponse converts the response content blocks into a transcript message.
func FromResponse(resp *anthropic.Message) conversation.Message {
	var text []string
	var calls []conversation.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{"_raw": string(block.Input)}
				}
			}
			calls = append(calls, conversation.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	content := strings.Join(text, "")
	if len(calls) == 0 {
		return conversation.NewAssistantMessage("", content)
	}
	return conversation.NewToolCallMessage("", content, calls...)
}
