package conversation

import (
	"strings"

	"github.com/pkg/errors"
)

// InputMessage is the caller-facing {role, content} pair.
type InputMessage struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// FromInput converts caller messages into a transcript. Only user, assistant and
// system roles are accepted from callers; tool traffic is internal.
func FromInput(in []InputMessage) (Transcript, error) {
	if len(in) == 0 {
		return nil, errors.New("no messages")
	}
	t := make(Transcript, 0, len(in))
	for i, m := range in {
		switch Role(strings.ToLower(strings.TrimSpace(m.Role))) {
		case RoleUser:
			t = append(t, NewUserMessage(m.Content))
		case RoleAssistant:
			t = append(t, NewAssistantMessage("", m.Content))
		case RoleSystem:
			t = append(t, NewSystemMessage(m.Content))
		default:
			return nil, errors.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}
	return t, nil
}
