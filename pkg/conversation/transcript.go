package conversation

import (
	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrphanToolResult  = errors.New("tool result without matching tool call")
	ErrMissingToolCallID = errors.New("tool call without id")
)

// Transcript is an ordered, append-only sequence of messages. Append never mutates
// the receiver's backing array, so earlier snapshots stay valid.
type Transcript []Message

// Append returns a new transcript with msgs added. Every ToolResult must reference a
// ToolCall already present in the transcript (or earlier in msgs).
func (t Transcript) Append(msgs ...Message) (Transcript, error) {
	known := t.toolCallIDs()
	out := make(Transcript, len(t), len(t)+len(msgs))
	copy(out, t)
	for _, m := range msgs {
		if err := checkMessage(m, known); err != nil {
			log.Warn().Err(err).Str("message_id", m.ID).Str("role", string(m.Role)).Msg("rejecting message")
			return t, err
		}
		for _, c := range m.ToolCalls {
			known[c.ID] = struct{}{}
		}
		out = append(out, m)
	}
	return out, nil
}

// MustAppend is Append for callers that built msgs themselves and cannot violate
// referential integrity.
func (t Transcript) MustAppend(msgs ...Message) Transcript {
	out, err := t.Append(msgs...)
	if err != nil {
		panic(err)
	}
	return out
}

// Validate checks referential integrity over the whole transcript.
func (t Transcript) Validate() error {
	known := map[string]struct{}{}
	for _, m := range t {
		if err := checkMessage(m, known); err != nil {
			return err
		}
		for _, c := range m.ToolCalls {
			known[c.ID] = struct{}{}
		}
	}
	return nil
}

func checkMessage(m Message, known map[string]struct{}) error {
	for _, c := range m.ToolCalls {
		if c.ID == "" {
			return errors.Wrapf(ErrMissingToolCallID, "tool %q", c.Name)
		}
	}
	if m.ToolResult != nil {
		if _, ok := known[m.ToolResult.ToolCallID]; !ok {
			return errors.Wrapf(ErrOrphanToolResult, "tool_call_id=%q", m.ToolResult.ToolCallID)
		}
	}
	return nil
}

func (t Transcript) toolCallIDs() map[string]struct{} {
	ids := map[string]struct{}{}
	for _, m := range t {
		for _, c := range m.ToolCalls {
			ids[c.ID] = struct{}{}
		}
	}
	return ids
}

// Clone returns a deep copy, including tool call argument maps.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	return clone.Clone(t).(Transcript)
}

// Last returns the last message, if any.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// LastAssistant returns the most recent plain assistant message.
func (t Transcript) LastAssistant() (Message, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Role == RoleAssistant && t[i].Shape() == ShapePlain {
			return t[i], true
		}
	}
	return Message{}, false
}

// PendingToolCalls returns tool calls that have no result yet, in transcript order.
func (t Transcript) PendingToolCalls() []ToolCall {
	answered := map[string]struct{}{}
	for _, m := range t {
		if m.ToolResult != nil {
			answered[m.ToolResult.ToolCallID] = struct{}{}
		}
	}
	var pending []ToolCall
	for _, m := range t {
		for _, c := range m.ToolCalls {
			if _, ok := answered[c.ID]; !ok {
				pending = append(pending, c)
			}
		}
	}
	return pending
}

// WithoutSystem returns the transcript with system messages removed.
func (t Transcript) WithoutSystem() Transcript {
	out := make(Transcript, 0, len(t))
	for _, m := range t {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
