package llm

import (
	"context"
	"sync"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrScriptExhausted = errors.New("scripted engine has no more responses")

// Call records one request made to a Script.
type Call struct {
	Transcript conversation.Transcript
	Tools      []ToolSchema
	Options    CallOptions
}

// Step produces one scripted response.
type Step func(t conversation.Transcript, tools []ToolSchema) (conversation.Message, error)

// Script is an Engine that replays steps in order. It is used by tests and by
// `concierge ask --dry-run`.
type Script struct {
	mu    sync.Mutex
	steps []Step
	calls []Call
	// Repeat makes the last step answer every call once the script runs out.
	Repeat bool
}

var _ Engine = (*Script)(nil)

func NewScript(steps ...Step) *Script {
	return &Script{steps: steps}
}

func (s *Script) Complete(ctx context.Context, t conversation.Transcript, tools []ToolSchema, opts ...CallOption) (conversation.Message, error) {
	if err := ctx.Err(); err != nil {
		return conversation.Message{}, err
	}
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, Call{Transcript: t.Clone(), Tools: tools, Options: ApplyCallOptions(opts...)})
	var step Step
	switch {
	case idx < len(s.steps):
		step = s.steps[idx]
	case s.Repeat && len(s.steps) > 0:
		step = s.steps[len(s.steps)-1]
	}
	s.mu.Unlock()
	if step == nil {
		return conversation.Message{}, ErrScriptExhausted
	}
	return step(t, tools)
}

func (s *Script) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Reply answers with plain text.
func Reply(text string) Step {
	return func(conversation.Transcript, []ToolSchema) (conversation.Message, error) {
		return conversation.NewAssistantMessage("", text), nil
	}
}

// CallTool answers with a single tool call.
func CallTool(name string, args map[string]any) Step {
	return func(conversation.Transcript, []ToolSchema) (conversation.Message, error) {
		return conversation.NewToolCallMessage("", "", conversation.ToolCall{Name: name, Arguments: args}), nil
	}
}

// Fail answers with an error.
func Fail(err error) Step {
	return func(conversation.Transcript, []ToolSchema) (conversation.Message, error) {
		return conversation.Message{}, err
	}
}
