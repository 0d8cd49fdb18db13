package genie

import (
	"context"

	"github.com/go-go-golems/concierge/pkg/tools"
)

const ToolName = "ask_genie"

type AskInput struct {
	Question string `json:"question" jsonschema:"required,description=A natural language question about the customer service data"`
}

// NewTool exposes the engine as ask_genie. The tool returns the phrased answer
// followed by the SQL that produced it.
func NewTool(e *Engine) (*tools.ToolDefinition, error) {
	def, err := tools.NewToolFromFunc(ToolName,
		"Chat with the customer service table: answers questions about customer service requests and policies using SQL.",
		func(ctx context.Context, in AskInput) (string, error) {
			a, err := e.Ask(ctx, in.Question)
			if err != nil {
				return "", err
			}
			return a.Text + "\n\nSQL: " + a.SQL, nil
		})
	if err != nil {
		return nil, err
	}
	def.Tags = []string{"genie"}
	return def, nil
}
