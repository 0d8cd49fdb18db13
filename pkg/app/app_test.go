package app

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/concierge/pkg/config"
	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/events"
	"github.com/go-go-golems/concierge/pkg/genie"
	"github.com/go-go-golems/concierge/pkg/normalize"
	"github.com/go-go-golems/concierge/pkg/sandbox"
	"github.com/go-go-golems/concierge/pkg/sqlfuncs"
	"github.com/go-go-golems/concierge/pkg/supervisor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	return cfg
}

func newTestApp(t *testing.T) *App {
	a, err := Build(context.Background(), testConfig(), WithEngine(NewDryRunEngine()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func ask(text string) conversation.Transcript {
	return conversation.Transcript{conversation.NewUserMessage(text)}
}

func TestBuildWiresFourAgents(t *testing.T) {
	a := newTestApp(t)

	names := make([]string, len(a.Agents))
	for i, s := range a.Agents {
		names[i] = s.Name
	}
	assert.Equal(t, []string{AgentSQL, AgentCalculator, AgentGenie, AgentRetriever}, names)

	assert.ElementsMatch(t, []string{
		sqlfuncs.FnLatestInteraction, sqlfuncs.FnExtractProduct,
		sqlfuncs.FnReturnPolicy, sqlfuncs.FnRequestsHistory,
	}, a.Agents[0].ToolNames())
	assert.Equal(t, []string{sandbox.ToolName}, a.Agents[1].ToolNames())
	assert.Equal(t, []string{genie.ToolName}, a.Agents[2].ToolNames())
	assert.Equal(t, []string{"product_docs_retriever"}, a.Agents[3].ToolNames())

	prompt := a.Supervisor.Prompt()
	assert.Contains(t, prompt, "You are a supervisor managing several agents:")
	assert.Contains(t, prompt, "1. sql agent: assign specific SQL query tasks")
	assert.Contains(t, prompt, "do not call agents in parallel")
}

func TestBuildRejectsUnknownFunction(t *testing.T) {
	cfg := testConfig()
	cfg.UCFunctions = []string{"get_return_policy", "drop_everything"}
	_, err := Build(context.Background(), cfg, WithEngine(NewDryRunEngine()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop_everything")
}

func TestBuildRegistersOnlyConfiguredFunctions(t *testing.T) {
	cfg := testConfig()
	cfg.UCFunctions = []string{"get_return_policy"}
	a, err := Build(context.Background(), cfg, WithEngine(NewDryRunEngine()))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, []string{"get_return_policy"}, a.Agents[0].ToolNames())
}

func TestReturnPolicyQuestionIsAnsweredBySQL(t *testing.T) {
	a := newTestApp(t)

	res, err := a.Supervisor.Route(a.Context(context.Background()), ask("What is the return policy?"), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{AgentSQL}, res.Delegations)
	assert.Equal(t, AgentSQL, res.Final.Author)
	assert.Contains(t, res.Final.Content, "Items can be returned within 30 days")
	assert.False(t, res.Exhausted)
}

func TestReturnPolicyStreamUsesSQLFunction(t *testing.T) {
	a := newTestApp(t)
	sink := &events.CollectingSink{}
	ctx := events.WithEventSinks(a.Context(context.Background()), sink)

	var msgs []conversation.Message
	var res *supervisor.Result
	for u, err := range a.Supervisor.Stream(ctx, ask("What is the return policy?"), 5) {
		require.NoError(t, err)
		if u.Result != nil {
			res = u.Result
			continue
		}
		msgs = append(msgs, u.Messages...)
	}
	require.NotNil(t, res)
	assert.Equal(t, []string{AgentSQL}, res.Delegations)
	assert.Equal(t, AgentSQL, res.Final.Author)
	assert.Contains(t, res.Final.Content, "Items can be returned within 30 days")

	// the sql agent reached the store through the registered SQL function
	var sqlCall *conversation.ToolCall
	for _, m := range msgs {
		if m.Author == AgentSQL && len(m.ToolCalls) > 0 {
			sqlCall = &m.ToolCalls[0]
		}
	}
	require.NotNil(t, sqlCall)
	assert.Equal(t, sqlfuncs.FnReturnPolicy, sqlCall.Name)
	var called []string
	for _, e := range sink.OfType(events.EventTypeToolCall) {
		called = append(called, e.(*events.EventToolCall).Name)
	}
	assert.Contains(t, called, sqlfuncs.FnReturnPolicy)

	toolCalls := 0
	for _, m := range msgs {
		toolCalls += len(m.ToolCalls)
	}
	blocks := slices.Collect(normalize.Blocks(slices.Values(msgs)))
	assert.Len(t, blocks, len(msgs)+toolCalls)

	var parsed []conversation.ToolCall
	var results []conversation.ToolResult
	for _, b := range blocks {
		switch b.Kind {
		case normalize.BlockToolCall:
			c, err := normalize.ParseToolCallBlock(b.Text)
			require.NoError(t, err)
			parsed = append(parsed, c)
		case normalize.BlockToolResult:
			r, err := normalize.ParseToolResultBlock(b.Text)
			require.NoError(t, err)
			results = append(results, r)
		case normalize.BlockFallback:
			t.Fatalf("unexpected fallback block %q", b.Text)
		}
	}
	assert.Contains(t, parsed, *sqlCall)
	require.NotEmpty(t, results)
	var policyResult string
	for _, r := range results {
		if r.ToolCallID == sqlCall.ID {
			policyResult = r.Content
		}
	}
	assert.Contains(t, policyResult, "Items can be returned within 30 days")

	out := normalize.Join(normalize.Render(slices.Values(msgs)))
	assert.Contains(t, out, "<tool_call>")
	assert.Contains(t, out, "<tool_call_result>")
	assert.True(t, strings.HasSuffix(out, normalize.Separator))

	// the shared transcript keeps only the handoff pair and the agent answer
	shared := res.Transcript.WithoutSystem()
	sharedCalls := 0
	for _, m := range shared {
		sharedCalls += len(m.ToolCalls)
	}
	assert.Len(t, slices.Collect(normalize.Blocks(slices.Values(shared))), len(shared)+sharedCalls)
}

func TestCloseWithoutRunningEventsIsFast(t *testing.T) {
	a, err := Build(context.Background(), testConfig(), WithEngine(NewDryRunEngine()))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, a.Close())
	assert.Less(t, time.Since(start), time.Second)
}

func TestBuildErrorReturnsQuickly(t *testing.T) {
	cfg := testConfig()
	cfg.UCFunctions = []string{"drop_everything"}

	start := time.Now()
	_, err := Build(context.Background(), cfg, WithEngine(NewDryRunEngine()))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrieverQuestionFindsProductDocs(t *testing.T) {
	a := newTestApp(t)

	res, err := a.Supervisor.Route(context.Background(),
		ask("Can you give me some troubleshooting steps for SoundWave X5 Pro Headphones that won't connect?"), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{AgentRetriever}, res.Delegations)
	assert.Contains(t, res.Final.Content, "SoundWave X5 Pro Headphones")
}

func TestCalculatorRunsCode(t *testing.T) {
	a := newTestApp(t)

	res, err := a.Supervisor.Route(context.Background(), ask("Calculate the total of 120 and 35"), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{AgentCalculator}, res.Delegations)
	assert.Equal(t, "155", strings.TrimSpace(res.Final.Content))
}

func TestGenieAnswersFromTable(t *testing.T) {
	a := newTestApp(t)

	res, err := a.Supervisor.Route(context.Background(), ask("How many requests per category are in the table?"), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{AgentGenie}, res.Delegations)
	assert.Contains(t, res.Final.Content, "Technical Support")
	assert.Contains(t, res.Final.Content, "SQL: SELECT")
}

func TestRunsAreTracedAndCounted(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunEvents(ctx) }()
	<-a.Router.Running()

	res, err := a.Supervisor.Route(a.Context(context.Background()), ask("What is the return policy?"), 5)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.Metrics.Delegations.WithLabelValues(AgentSQL)))

	require.Eventually(t, func() bool {
		rows, err := a.Traces.Events(context.Background(), res.RunID)
		if err != nil {
			return false
		}
		for _, r := range rows {
			if r.Type == string(events.EventTypeRunFinished) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSeedReloadsFixtureAndIndex(t *testing.T) {
	a := newTestApp(t)
	_, err := a.Store.DB().Exec(`DELETE FROM policies`)
	require.NoError(t, err)

	require.NoError(t, a.Seed(context.Background()))
	policies, err := a.Store.ReturnPolicy(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, policies)
}

func TestRouteKeywords(t *testing.T) {
	assert.Equal(t, AgentSQL, routeByKeyword("What is the return policy?"))
	assert.Equal(t, AgentCalculator, routeByKeyword("calculate 3 and 4"))
	assert.Equal(t, AgentGenie, routeByKeyword("How many tickets are open?"))
	assert.Equal(t, AgentRetriever, routeByKeyword("How do I pair my headphones?"))
	assert.Equal(t, supervisor.HandoffName(AgentSQL), "transfer_to_sql")
}
