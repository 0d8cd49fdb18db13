package sqlfuncs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededStore(t *testing.T) *Store {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	f, err := LoadFixture("")
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx, f))
	return s
}

func TestLatestInteraction(t *testing.T) {
	s := newSeededStore(t)
	rows, err := s.LatestInteraction(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-02-05", rows[0].PurchaseDate)
	assert.Equal(t, "Tina Daugherty", rows[0].Name)
	assert.Equal(t, "Returns", rows[0].IssueCategory)
}

func TestLatestInteractionEmptyQueue(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Migrate(context.Background()))

	rows, err := s.LatestInteraction(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReturnPolicy(t *testing.T) {
	s := newSeededStore(t)
	rows, err := s.ReturnPolicy(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Return Policy", rows[0].Policy)
	assert.Contains(t, rows[0].PolicyDetails, "30 days")
}

func TestRequestsHistory(t *testing.T) {
	s := newSeededStore(t)
	rows, err := s.RequestsHistory(context.Background(), "Tina Daugherty")
	require.NoError(t, err)
	assert.Equal(t, []RequestCount{
		{Requests: 1, IssueCategory: "Billing"},
		{Requests: 1, IssueCategory: "Returns"},
		{Requests: 1, IssueCategory: "Technical Support"},
	}, rows)

	rows, err = s.RequestsHistory(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSeedIsRepeatable(t *testing.T) {
	s := newSeededStore(t)
	f, err := LoadFixture("")
	require.NoError(t, err)
	require.NoError(t, s.Seed(context.Background(), f))

	var n int
	require.NoError(t, s.DB().Get(&n, `SELECT count(*) FROM cust_service_data`))
	assert.Equal(t, len(f.Requests), n)
}

func TestParseProduct(t *testing.T) {
	assert.Equal(t, "SoundWave X5 Pro Headphones", parseProduct(`{"product": "SoundWave X5 Pro Headphones"}`))
	assert.Equal(t, "Coffee Maker", parseProduct("```json\n{\"product\":\"Coffee Maker\"}\n```"))
	assert.Equal(t, "Hub", parseProduct(`"Hub"`))
	assert.Equal(t, "", parseProduct(`{"product": ""}`))
}

func TestCatalogRegisterAndExecute(t *testing.T) {
	s := newSeededStore(t)
	engine := llm.NewScript(llm.Reply(`{"product": "SoundWave X5 Pro Headphones"}`))
	cat, err := NewDefaultCatalog(s, engine)
	require.NoError(t, err)
	assert.Equal(t, []string{FnExtractProduct, FnLatestInteraction, FnRequestsHistory, FnReturnPolicy}, cat.Names())

	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)
	require.NoError(t, cat.Register(reg, []string{FnReturnPolicy, FnExtractProduct, FnRequestsHistory}))

	exec := tools.NewExecutor(tools.DefaultConfig())
	ctx := context.Background()

	res := exec.Execute(ctx, conversation.ToolCall{ID: "1", Name: FnReturnPolicy, Arguments: map[string]any{}}, reg)
	require.NoError(t, res.Err)
	var policies []Policy
	require.NoError(t, json.Unmarshal([]byte(res.Content), &policies))
	assert.Equal(t, "Return Policy", policies[0].Policy)

	res = exec.Execute(ctx, conversation.ToolCall{ID: "2", Name: FnExtractProduct, Arguments: map[string]any{"text": "my SoundWave X5 Pro Headphones broke"}}, reg)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Content, "SoundWave X5 Pro Headphones")

	res = exec.Execute(ctx, conversation.ToolCall{ID: "3", Name: FnRequestsHistory, Arguments: map[string]any{}}, reg)
	assert.Error(t, res.Err, "user_name is required")

	res = exec.Execute(ctx, conversation.ToolCall{ID: "4", Name: FnLatestInteraction, Arguments: map[string]any{}}, reg)
	assert.True(t, tools.IsUnknownTool(res.Err))
}

func TestCatalogRegisterUnknownName(t *testing.T) {
	s := newSeededStore(t)
	cat, err := NewDefaultCatalog(s, llm.NewScript())
	require.NoError(t, err)
	reg, err := tools.NewInMemoryRegistry()
	require.NoError(t, err)
	err = cat.Register(reg, []string{"drop_all_tables"})
	assert.True(t, tools.IsUnknownTool(err))
}
