package app

import (
	"regexp"
	"strings"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/genie"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/sandbox"
	"github.com/go-go-golems/concierge/pkg/sqlfuncs"
	"github.com/go-go-golems/concierge/pkg/supervisor"
)

const dryRunSQL = "SELECT issue_category, COUNT(*) AS requests FROM cust_service_data GROUP BY issue_category"

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// NewDryRunEngine returns an offline engine that routes on keywords, calls one
// tool per agent and answers with the tool output. It exercises the whole
// pipeline without a model provider.
func NewDryRunEngine() *llm.Script {
	s := llm.NewScript(dryRunStep)
	s.Repeat = true
	return s
}

func dryRunStep(t conversation.Transcript, schemas []llm.ToolSchema) (conversation.Message, error) {
	last, _ := t.Last()
	question := lastUserText(t)

	switch {
	case len(schemas) == 0:
		return helperReply(t), nil
	case strings.HasPrefix(schemas[0].Name, supervisor.HandoffPrefix):
		if last.Role == conversation.RoleAssistant && last.Shape() == conversation.ShapePlain && last.Author != supervisor.NodeName {
			return conversation.NewAssistantMessage("", ""), nil
		}
		return conversation.NewToolCallMessage("", "", conversation.ToolCall{
			Name: supervisor.HandoffName(routeByKeyword(question)),
		}), nil
	default:
		if last.Shape() == conversation.ShapeToolResult && last.Author != supervisor.NodeName {
			return conversation.NewAssistantMessage("", last.ToolResult.Content), nil
		}
		name, args := pickTool(question, schemas)
		return conversation.NewToolCallMessage("", "", conversation.ToolCall{Name: name, Arguments: args}), nil
	}
}

func lastUserText(t conversation.Transcript) string {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Role == conversation.RoleUser {
			return t[i].Content
		}
	}
	return ""
}

func routeByKeyword(q string) string {
	q = strings.ToLower(q)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}
	switch {
	case has("policy", "policies", "refund", "exchange", "history", "latest", "return"):
		return AgentSQL
	case has("calculate", "total", "sum", "how much", "+"):
		return AgentCalculator
	case has("how many", "table", "count", "category", "categories"):
		return AgentGenie
	default:
		return AgentRetriever
	}
}

func pickTool(q string, schemas []llm.ToolSchema) (string, map[string]any) {
	has := func(name string) bool {
		for _, s := range schemas {
			if s.Name == name {
				return true
			}
		}
		return false
	}
	lq := strings.ToLower(q)
	switch {
	case has(sandbox.ToolName):
		nums := numberRe.FindAllString(q, -1)
		if len(nums) == 0 {
			nums = []string{"0"}
		}
		return sandbox.ToolName, map[string]any{"code": "console.log(" + strings.Join(nums, " + ") + ")"}
	case has(genie.ToolName):
		return genie.ToolName, map[string]any{"question": q}
	case has(sqlfuncs.FnReturnPolicy) && (strings.Contains(lq, "policy") || strings.Contains(lq, "return")):
		return sqlfuncs.FnReturnPolicy, map[string]any{}
	case has(sqlfuncs.FnLatestInteraction):
		return sqlfuncs.FnLatestInteraction, map[string]any{}
	case has(sqlfuncs.FnReturnPolicy):
		return sqlfuncs.FnReturnPolicy, map[string]any{}
	default:
		return schemas[0].Name, map[string]any{"query": q}
	}
}

// helperReply answers the tool-less calls made by genie and the product
// extractor.
func helperReply(t conversation.Transcript) conversation.Message {
	if len(t) > 0 && strings.Contains(t[0].Content, "SQLite") {
		return conversation.NewAssistantMessage("", dryRunSQL)
	}
	if len(t) > 0 && strings.Contains(t[0].Content, "Result (JSON rows)") {
		i := strings.Index(t[0].Content, "Result (JSON rows):")
		return conversation.NewAssistantMessage("", strings.TrimSpace(t[0].Content[i+len("Result (JSON rows):"):]))
	}
	return conversation.NewAssistantMessage("", `{"product": ""}`)
}
