package sandbox

import (
	"context"

	"github.com/go-go-golems/concierge/pkg/tools"
)

const ToolName = "code_exec"

type CodeInput struct {
	Code string `json:"code" jsonschema:"required,description=JavaScript source to run. Use console.log to print results. The value of the last expression is also returned."`
}

// NewTool exposes the sandbox as the code_exec tool.
func NewTool(s *Sandbox) (*tools.ToolDefinition, error) {
	return tools.NewToolFromFunc(ToolName,
		"Executes JavaScript code for arithmetic and data calculations and returns what it printed. No network or file access is available.",
		func(ctx context.Context, in CodeInput) (string, error) {
			return s.Exec(ctx, in.Code)
		})
}
