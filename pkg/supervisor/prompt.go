package supervisor

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/concierge/pkg/agent"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/invopop/jsonschema"
)

// HandoffPrefix prefixes the tool the supervisor calls to delegate to an agent.
const HandoffPrefix = "transfer_to_"

// DefaultRoutingPrompt enumerates the agents and their responsibilities and
// forbids parallel delegation and answering directly.
func DefaultRoutingPrompt(specs []agent.Spec) string {
	var sb strings.Builder
	sb.WriteString("You are a supervisor managing several agents:\n")
	for i, s := range specs {
		fmt.Fprintf(&sb, "%d. %s agent: %s\n", i+1, s.Name, s.Description)
	}
	sb.WriteString("Assign work to one agent at a time, do not call agents in parallel.\n")
	sb.WriteString("Do not do any work yourself.")
	return sb.String()
}

// HandoffName is the tool name that delegates to agent.
func HandoffName(agent string) string {
	return HandoffPrefix + agent
}

func handoffSchemas(specs []agent.Spec) []llm.ToolSchema {
	out := make([]llm.ToolSchema, len(specs))
	for i, s := range specs {
		out[i] = llm.ToolSchema{
			Name:        HandoffName(s.Name),
			Description: fmt.Sprintf("Ask agent '%s' for help", s.Name),
			Parameters:  &jsonschema.Schema{Type: "object"},
		}
	}
	return out
}
