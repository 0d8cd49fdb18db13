package llm

import (
	"context"
	"testing"
	"time"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeoutSetsDeadline(t *testing.T) {
	var hadDeadline bool
	inner := EngineFunc(func(ctx context.Context, _ conversation.Transcript, _ []ToolSchema, _ ...CallOption) (conversation.Message, error) {
		_, hadDeadline = ctx.Deadline()
		return conversation.NewAssistantMessage("", "ok"), nil
	})

	_, err := WithTimeout(inner, time.Second).Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, hadDeadline)
}

func TestObservedReportsErrors(t *testing.T) {
	var got error
	boom := errors.New("boom")
	eng := Observed(NewScript(Fail(boom)), func(_ time.Duration, err error) { got = err })

	_, err := eng.Complete(context.Background(), nil, nil)
	assert.Equal(t, boom, err)
	assert.Equal(t, boom, got)
}

func TestRateLimitedHonorsContext(t *testing.T) {
	lim := NewLimiter(1)
	require.NotNil(t, lim)
	eng := RateLimited(NewScript(Reply("a"), Reply("b")), lim)

	_, err := eng.Complete(context.Background(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = eng.Complete(ctx, nil, nil)
	assert.Error(t, err)
}

func TestNewLimiterUnlimited(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
}

func TestScriptReplaysAndRecords(t *testing.T) {
	s := NewScript(CallTool("get_return_policy", nil), Reply("done"))
	ctx := context.Background()

	m1, err := s.Complete(ctx, conversation.Transcript{conversation.NewUserMessage("q")}, []ToolSchema{{Name: "x"}}, WithParallelToolCalls(false))
	require.NoError(t, err)
	assert.Equal(t, conversation.ShapeToolCalls, m1.Shape())

	m2, err := s.Complete(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", m2.Content)

	_, err = s.Complete(ctx, nil, nil)
	assert.True(t, errors.Is(err, ErrScriptExhausted))

	calls := s.Calls()
	require.Len(t, calls, 3)
	require.NotNil(t, calls[0].Options.ParallelToolCalls)
	assert.False(t, *calls[0].Options.ParallelToolCalls)
}

func TestDecodeArguments(t *testing.T) {
	assert.Equal(t, map[string]any{"x": float64(1)}, DecodeArguments(`{"x":1}`))
	assert.Equal(t, map[string]any{}, DecodeArguments(""))
	assert.Equal(t, "oops", DecodeArguments("oops")["_raw"])
}
