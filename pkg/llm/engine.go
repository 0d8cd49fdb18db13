// Package llm defines the language model collaborator used by the supervisor and the
// sub-agent loops, plus decorators shared by all providers.
package llm

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// ToolSchema is the provider-neutral description of a callable tool.
type ToolSchema struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

type CallOptions struct {
	ToolChoice        ToolChoice
	ParallelToolCalls *bool
}

type CallOption func(*CallOptions)

func WithToolChoice(c ToolChoice) CallOption {
	return func(o *CallOptions) { o.ToolChoice = c }
}

func WithParallelToolCalls(enabled bool) CallOption {
	return func(o *CallOptions) { o.ParallelToolCalls = &enabled }
}

func ApplyCallOptions(opts ...CallOption) CallOptions {
	o := CallOptions{ToolChoice: ToolChoiceAuto}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Engine completes a transcript. The returned assistant message either carries
// ToolCalls (the model wants a tool run) or plain text (a final answer).
type Engine interface {
	Complete(ctx context.Context, transcript conversation.Transcript, tools []ToolSchema, opts ...CallOption) (conversation.Message, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, transcript conversation.Transcript, tools []ToolSchema, opts ...CallOption) (conversation.Message, error)

func (f EngineFunc) Complete(ctx context.Context, transcript conversation.Transcript, tools []ToolSchema, opts ...CallOption) (conversation.Message, error) {
	return f(ctx, transcript, tools, opts...)
}

// SchemasFromRegistry lists the registry's tools as schemas for the model.
func SchemasFromRegistry(reg tools.Registry) []ToolSchema {
	if reg == nil {
		return nil
	}
	defs := reg.ListTools()
	out := make([]ToolSchema, 0, len(defs))
	for _, d := range defs {
		out = append(out, ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

// SchemaProperties splits a schema into the properties map and required list, which
// is the shape some providers want.
func SchemaProperties(s *jsonschema.Schema) (map[string]any, []string, error) {
	if s == nil {
		return map[string]any{}, nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal schema")
	}
	var m struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, errors.Wrap(err, "unmarshal schema")
	}
	if m.Properties == nil {
		m.Properties = map[string]any{}
	}
	return m.Properties, m.Required, nil
}

// DecodeArguments parses a provider's JSON argument string. Malformed JSON is kept
// under "_raw" so that schema validation rejects it and the model sees the problem.
func DecodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}
