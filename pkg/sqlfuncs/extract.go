package sqlfuncs

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/pkg/errors"
)

const extractPrompt = `Extract the product mentioned in the customer text.
Answer with a JSON object of the form {"product": "<product name>"}.
Use an empty string when no product is mentioned. Do not add any other text.`

// ProductExtractor pulls the product name out of free text with a language model.
type ProductExtractor struct {
	engine llm.Engine
}

func NewProductExtractor(engine llm.Engine) *ProductExtractor {
	return &ProductExtractor{engine: engine}
}

func (p *ProductExtractor) Extract(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	t := conversation.Transcript{
		conversation.NewSystemMessage(extractPrompt),
		conversation.NewUserMessage(text),
	}
	msg, err := p.engine.Complete(ctx, t, nil, llm.WithToolChoice(llm.ToolChoiceNone))
	if err != nil {
		return "", errors.Wrap(err, "extract_product")
	}
	return parseProduct(msg.Content), nil
}

// parseProduct accepts the JSON answer, optionally fenced, and falls back to
// the raw text when the model ignored the format.
func parseProduct(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	var out struct {
		Product string `json:"product"`
	}
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return strings.TrimSpace(out.Product)
	}
	return strings.Trim(s, "\"")
}
