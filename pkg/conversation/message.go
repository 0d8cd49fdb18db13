// Package conversation holds the transcript model shared by the supervisor, the
// sub-agent loops and the output normalizer.
package conversation

import (
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is a request by the model to invoke a named tool with structured arguments.
type ToolCall struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Arguments map[string]any `json:"arguments" yaml:"arguments"`
}

// ToolResult carries the outcome of a tool execution. ToolCallID is a
// back-reference to the ToolCall that produced it.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id" yaml:"tool_call_id"`
	Content    string `json:"content" yaml:"content"`
	IsError    bool   `json:"is_error,omitempty" yaml:"is_error,omitempty"`
}

// Message is a single immutable entry of a transcript.
//
// Author is the name of the node that produced the message (the supervisor or a
// sub-agent). It is informational only and never sent to a provider.
type Message struct {
	ID         string      `json:"id" yaml:"id"`
	Role       Role        `json:"role" yaml:"role"`
	Content    string      `json:"content" yaml:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty" yaml:"tool_result,omitempty"`
	Author     string      `json:"author,omitempty" yaml:"author,omitempty"`
}

// Shape is the tagged classification of a message used wherever behavior depends on
// the runtime form of a message.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapePlain
	ShapeToolCalls
	ShapeToolResult
)

func (s Shape) String() string {
	switch s {
	case ShapePlain:
		return "plain"
	case ShapeToolCalls:
		return "tool_calls"
	case ShapeToolResult:
		return "tool_result"
	case ShapeUnrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Shape classifies the message. System messages and malformed tool messages are
// unrecognized: they are never rendered to the caller as regular content.
func (m Message) Shape() Shape {
	switch m.Role {
	case RoleTool:
		if m.ToolResult != nil && m.ToolResult.ToolCallID != "" {
			return ShapeToolResult
		}
		return ShapeUnrecognized
	case RoleAssistant:
		if len(m.ToolCalls) > 0 {
			return ShapeToolCalls
		}
		return ShapePlain
	case RoleUser:
		if len(m.ToolCalls) > 0 || m.ToolResult != nil {
			return ShapeUnrecognized
		}
		return ShapePlain
	case RoleSystem:
		return ShapeUnrecognized
	default:
		return ShapeUnrecognized
	}
}

func newID() string {
	return uuid.NewString()
}

func NewUserMessage(text string) Message {
	return Message{ID: newID(), Role: RoleUser, Content: text}
}

func NewSystemMessage(text string) Message {
	return Message{ID: newID(), Role: RoleSystem, Content: text}
}

func NewAssistantMessage(author, text string) Message {
	return Message{ID: newID(), Role: RoleAssistant, Content: text, Author: author}
}

// NewToolCallMessage creates an assistant message requesting one or more tool calls.
// Calls without an ID get a generated one.
func NewToolCallMessage(author, text string, calls ...ToolCall) Message {
	cp := make([]ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		cp[i] = c
	}
	return Message{ID: newID(), Role: RoleAssistant, Content: text, ToolCalls: cp, Author: author}
}

func NewToolResultMessage(author, toolCallID, content string, isError bool) Message {
	return Message{
		ID:     newID(),
		Role:   RoleTool,
		Author: author,
		ToolResult: &ToolResult{
			ToolCallID: toolCallID,
			Content:    content,
			IsError:    isError,
		},
		Content: content,
	}
}
