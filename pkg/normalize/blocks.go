// Package normalize turns transcript messages into display strings with tagged
// tool call and tool result blocks.
package normalize

import (
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Separator follows every normalized item.
const Separator = "\n\n"

const (
	toolCallOpen    = "<tool_call>"
	toolCallClose   = "</tool_call>"
	toolResultOpen  = "<tool_call_result>"
	toolResultClose = "</tool_call_result>"
)

// ErrUnrecognizedMessageType marks a message shape the normalizer cannot render.
var ErrUnrecognizedMessageType = errors.New("unrecognized message type")

type BlockKind int

const (
	BlockText BlockKind = iota
	BlockToolCall
	BlockToolResult
	BlockFallback
)

func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockToolCall:
		return "tool_call"
	case BlockToolResult:
		return "tool_result"
	case BlockFallback:
		return "fallback"
	default:
		return fmt.Sprintf("block(%d)", int(k))
	}
}

// Block is one normalized item. Text always holds the rendered form; Err is set
// on fallback blocks.
type Block struct {
	Kind BlockKind
	Text string
	Err  error
}

func (b Block) String() string { return b.Text }

type wireToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// SerializeToolCall renders call as a <tool_call> block. Arguments are encoded
// to a JSON string inside the block.
func SerializeToolCall(call conversation.ToolCall) (string, error) {
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argJSON, err := json.Marshal(args)
	if err != nil {
		return "", errors.Wrapf(err, "encode arguments of %s", call.Name)
	}
	body, err := json.MarshalIndent(wireToolCall{ID: call.ID, Name: call.Name, Arguments: string(argJSON)}, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "encode tool call %s", call.ID)
	}
	return toolCallOpen + string(body) + toolCallClose, nil
}

// SerializeToolResult renders r as a <tool_call_result> block.
func SerializeToolResult(r conversation.ToolResult) (string, error) {
	body, err := json.MarshalIndent(wireToolResult{ID: r.ToolCallID, Content: r.Content}, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "encode tool result %s", r.ToolCallID)
	}
	return toolResultOpen + string(body) + toolResultClose, nil
}

// ParseToolCallBlock recovers the call, with structured arguments, from a
// rendered block. Surrounding whitespace and the separator are ignored.
func ParseToolCallBlock(s string) (conversation.ToolCall, error) {
	body, err := unwrap(s, toolCallOpen, toolCallClose)
	if err != nil {
		return conversation.ToolCall{}, err
	}
	var w wireToolCall
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return conversation.ToolCall{}, errors.Wrap(err, "decode tool call block")
	}
	args := map[string]any{}
	if w.Arguments != "" {
		if err := json.Unmarshal([]byte(w.Arguments), &args); err != nil {
			return conversation.ToolCall{}, errors.Wrap(err, "decode tool call arguments")
		}
	}
	return conversation.ToolCall{ID: w.ID, Name: w.Name, Arguments: args}, nil
}

func ParseToolResultBlock(s string) (conversation.ToolResult, error) {
	body, err := unwrap(s, toolResultOpen, toolResultClose)
	if err != nil {
		return conversation.ToolResult{}, err
	}
	var w wireToolResult
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return conversation.ToolResult{}, errors.Wrap(err, "decode tool result block")
	}
	return conversation.ToolResult{ToolCallID: w.ID, Content: w.Content}, nil
}

func unwrap(s, openTag, closeTag string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, openTag) || !strings.HasSuffix(s, closeTag) {
		return "", errors.Errorf("not a %s block", strings.Trim(openTag, "<>"))
	}
	return s[len(openTag) : len(s)-len(closeTag)], nil
}

// MessageBlocks renders one message. A plain message gives one text block, a
// tool result one result block, and a tool call message its text block followed
// by one block per call. Anything else gives a fallback block.
func MessageBlocks(m conversation.Message) []Block {
	switch m.Shape() {
	case conversation.ShapePlain:
		return []Block{{Kind: BlockText, Text: m.Content}}
	case conversation.ShapeToolResult:
		s, err := SerializeToolResult(*m.ToolResult)
		if err != nil {
			return []Block{fallback(m, err)}
		}
		return []Block{{Kind: BlockToolResult, Text: s}}
	case conversation.ShapeToolCalls:
		out := make([]Block, 0, len(m.ToolCalls)+1)
		out = append(out, Block{Kind: BlockText, Text: m.Content})
		for _, c := range m.ToolCalls {
			s, err := SerializeToolCall(c)
			if err != nil {
				out = append(out, fallbackValue(c, err))
				continue
			}
			out = append(out, Block{Kind: BlockToolCall, Text: s})
		}
		return out
	case conversation.ShapeUnrecognized:
		return []Block{fallback(m, errors.Wrapf(ErrUnrecognizedMessageType, "role %q", m.Role))}
	default:
		return []Block{fallback(m, errors.Wrapf(ErrUnrecognizedMessageType, "shape %s", m.Shape()))}
	}
}

func fallback(m conversation.Message, err error) Block {
	log.Warn().Err(err).Str("message_id", m.ID).Str("role", string(m.Role)).Msg("normalize: rendering message as plain value")
	text := m.Content
	if text == "" {
		text = fmt.Sprintf("%+v", m)
	}
	return Block{Kind: BlockFallback, Text: text, Err: err}
}

func fallbackValue(v any, err error) Block {
	log.Warn().Err(err).Msg("normalize: rendering value as plain text")
	return Block{Kind: BlockFallback, Text: fmt.Sprintf("%+v", v), Err: err}
}

// Blocks lazily renders messages in order. It consumes msgs once.
func Blocks(msgs iter.Seq[conversation.Message]) iter.Seq[Block] {
	return func(yield func(Block) bool) {
		for m := range msgs {
			for _, b := range MessageBlocks(m) {
				if !yield(b) {
					return
				}
			}
		}
	}
}

// Strings renders each block followed by Separator.
func Strings(blocks iter.Seq[Block]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for b := range blocks {
			if !yield(b.Text + Separator) {
				return
			}
		}
	}
}

// Render is Strings(Blocks(msgs)).
func Render(msgs iter.Seq[conversation.Message]) iter.Seq[string] {
	return Strings(Blocks(msgs))
}

// Join concatenates every rendered string.
func Join(items iter.Seq[string]) string {
	var sb strings.Builder
	for s := range items {
		sb.WriteString(s)
	}
	return sb.String()
}
