package retriever

import (
	"context"

	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/pkg/errors"
)

const DefaultToolDescription = "Use this tool to search for product documentation."

type SearchInput struct {
	Query string `json:"query" jsonschema:"required,description=What to look up in the product documentation"`
}

// NewTool wraps r as a tool returning the k best passages as JSON.
func NewTool(r Retriever, name, description string, k int) (*tools.ToolDefinition, error) {
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}
	if description == "" {
		description = DefaultToolDescription
	}
	def, err := tools.NewToolFromFunc(name, description,
		func(ctx context.Context, in SearchInput) ([]Passage, error) {
			return r.Search(ctx, in.Query, k)
		})
	if err != nil {
		return nil, err
	}
	def.Tags = []string{"retriever"}
	return def, nil
}
