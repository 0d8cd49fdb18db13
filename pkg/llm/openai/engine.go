// Package openai implements llm.Engine on the OpenAI chat completions API. Any
// OpenAI-compatible serving endpoint works through Settings.BaseURL.
package openai

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

type Engine struct {
	client   *go_openai.Client
	settings llm.Settings
}

var _ llm.Engine = (*Engine)(nil)

func NewEngine(settings llm.Settings) (*Engine, error) {
	if settings.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}
	return &Engine{client: go_openai.NewClientWithConfig(cfg), settings: settings}, nil
}

func (e *Engine) Complete(ctx context.Context, t conversation.Transcript, schemas []llm.ToolSchema, opts ...llm.CallOption) (conversation.Message, error) {
	req, err := MakeRequest(e.settings, t, schemas, llm.ApplyCallOptions(opts...))
	if err != nil {
		return conversation.Message{}, err
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return conversation.Message{}, errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return conversation.Message{}, errors.New("openai returned no choices")
	}
	log.Debug().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("openai completion")

	return FromChoice(resp.Choices[0].Message), nil
}

// MakeRequest builds a chat completion request from a transcript.
func MakeRequest(settings llm.Settings, t conversation.Transcript, schemas []llm.ToolSchema, opts llm.CallOptions) (go_openai.ChatCompletionRequest, error) {
	msgs, err := ToMessages(t)
	if err != nil {
		return go_openai.ChatCompletionRequest{}, err
	}
	req := go_openai.ChatCompletionRequest{
		Model:     settings.Model,
		Messages:  msgs,
		MaxTokens: settings.MaxTokens,
	}
	if settings.Temperature != nil {
		req.Temperature = *settings.Temperature
	}
	if len(schemas) > 0 {
		for _, s := range schemas {
			req.Tools = append(req.Tools, go_openai.Tool{
				Type: go_openai.ToolTypeFunction,
				Function: &go_openai.FunctionDefinition{
					Name:        s.Name,
					Description: s.Description,
					Parameters:  s.Parameters,
				},
			})
		}
		switch opts.ToolChoice {
		case llm.ToolChoiceNone, llm.ToolChoiceRequired:
			req.ToolChoice = string(opts.ToolChoice)
		default:
			req.ToolChoice = "auto"
		}
		if opts.ParallelToolCalls != nil {
			req.ParallelToolCalls = *opts.ParallelToolCalls
		}
	}
	return req, nil
}

// ToMessages converts a transcript into provider messages.
func ToMessages(t conversation.Transcript) ([]go_openai.ChatCompletionMessage, error) {
	out := make([]go_openai.ChatCompletionMessage, 0, len(t))
	for _, m := range t {
		switch m.Role {
		case conversation.RoleSystem:
			out = append(out, go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleSystem, Content: m.Content})
		case conversation.RoleUser:
			out = append(out, go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleUser, Content: m.Content})
		case conversation.RoleAssistant:
			msg := go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, c := range m.ToolCalls {
				args, err := json.Marshal(c.Arguments)
				if err != nil {
					return nil, errors.Wrapf(err, "marshal arguments of %s", c.Name)
				}
				msg.ToolCalls = append(msg.ToolCalls, go_openai.ToolCall{
					ID:   c.ID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      c.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case conversation.RoleTool:
			if m.ToolResult == nil {
				return nil, errors.Errorf("tool message %s has no result", m.ID)
			}
			out = append(out, go_openai.ChatCompletionMessage{
				Role:       go_openai.ChatMessageRoleTool,
				Content:    m.ToolResult.Content,
				ToolCallID: m.ToolResult.ToolCallID,
			})
		default:
			return nil, errors.Errorf("unsupported role %q", m.Role)
		}
	}
	return out, nil
}

// FromChoice converts a provider message into a transcript message.
func FromChoice(m go_openai.ChatCompletionMessage) conversation.Message {
	if len(m.ToolCalls) == 0 {
		return conversation.NewAssistantMessage("", m.Content)
	}
	calls := make([]conversation.ToolCall, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		calls = append(calls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: llm.DecodeArguments(tc.Function.Arguments),
		})
	}
	return conversation.NewToolCallMessage("", m.Content, calls...)
}
