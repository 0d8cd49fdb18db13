package server

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-go-golems/concierge/pkg/agent"
	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/normalize"
	"github.com/go-go-golems/concierge/pkg/supervisor"
	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyText = "Items can be returned within 30 days of purchase with a receipt."

// newSupervisor builds a supervisor whose model always hands off to sql, which
// looks up the policy and answers with it.
func newSupervisor(t *testing.T) *supervisor.Supervisor {
	policy, err := tools.NewToolFromFunc("get_return_policy", "Returns the details of the Return Policy", func() (string, error) {
		return policyText, nil
	})
	require.NoError(t, err)
	reg, err := tools.NewInMemoryRegistry(*policy)
	require.NoError(t, err)
	spec, err := agent.NewSpec("sql", "assign SQL query tasks to this agent", "You are the sql agent.", reg)
	require.NoError(t, err)

	engine := llm.NewScript(func(tr conversation.Transcript, schemas []llm.ToolSchema) (conversation.Message, error) {
		last, _ := tr.Last()
		if len(schemas) > 0 && strings.HasPrefix(schemas[0].Name, supervisor.HandoffPrefix) {
			if last.Role == conversation.RoleAssistant && last.Author == "sql" {
				return conversation.NewAssistantMessage("", ""), nil
			}
			return conversation.NewToolCallMessage("", "", conversation.ToolCall{Name: supervisor.HandoffName("sql")}), nil
		}
		if last.Shape() == conversation.ShapeToolResult && last.Author == "sql" {
			return conversation.NewAssistantMessage("", last.ToolResult.Content), nil
		}
		return conversation.NewToolCallMessage("", "", conversation.ToolCall{Name: "get_return_policy"}), nil
	})
	engine.Repeat = true

	s, err := supervisor.New(engine, []agent.Spec{spec})
	require.NoError(t, err)
	return s
}

type fakeRouter struct {
	budget int
	res    *supervisor.Result
	err    error
}

func (f *fakeRouter) Route(_ context.Context, _ conversation.Transcript, budget int) (*supervisor.Result, error) {
	f.budget = budget
	return f.res, f.err
}

func (f *fakeRouter) Stream(_ context.Context, _ conversation.Transcript, budget int) iter.Seq2[supervisor.Update, error] {
	f.budget = budget
	return func(yield func(supervisor.Update, error) bool) {
		if f.err != nil {
			yield(supervisor.Update{}, f.err)
			return
		}
		yield(supervisor.Update{Node: supervisor.NodeName, Result: f.res}, nil)
	}
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestInvocationReturnsNormalizedTranscript(t *testing.T) {
	srv := New(newSupervisor(t), WithModel("concierge-test"))

	w := post(t, srv.Handler(), `{"messages":[{"role":"user","content":"What is the return policy?"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var out normalize.ChatCompletion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "concierge-test", out.Model)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)

	content := out.Choices[0].Message.Content
	assert.True(t, strings.HasPrefix(content, "What is the return policy?\n\n"))
	assert.Contains(t, content, `"name": "transfer_to_sql"`)
	assert.Contains(t, content, "<tool_call_result>")
	assert.True(t, strings.HasSuffix(content, policyText+"\n\n"))
}

func TestInvocationStreamsChunks(t *testing.T) {
	srv := New(newSupervisor(t))

	w := post(t, srv.Handler(), `{"messages":[{"role":"user","content":"What is the return policy?"}],"stream":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var chunks []normalize.ChatCompletionChunk
	var sawDone bool
	sc := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			continue
		}
		var c normalize.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &c))
		chunks = append(chunks, c)
	}
	require.True(t, sawDone)
	require.GreaterOrEqual(t, len(chunks), 2)

	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	last := chunks[len(chunks)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)

	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Choices[0].Delta.Content)
	}
	streamed := sb.String()
	// The caller's own message is not streamed back.
	assert.NotContains(t, streamed, "What is the return policy?")
	assert.Contains(t, streamed, "<tool_call>")
	assert.True(t, strings.HasSuffix(streamed, policyText+"\n\n"))
}

func TestInvalidRouteIsBadGateway(t *testing.T) {
	r := &fakeRouter{err: &supervisor.InvalidRouteError{Route: "transfer_to_billing", Available: []string{"sql"}}}
	srv := New(r)

	w := post(t, srv.Handler(), `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid_route", body.Error.Type)
	assert.Contains(t, body.Error.Message, "transfer_to_billing")
}

func TestStreamErrorEvent(t *testing.T) {
	r := &fakeRouter{err: &supervisor.InvalidRouteError{Route: "transfer_to_billing"}}
	srv := New(r)

	w := post(t, srv.Handler(), `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event: error\n")
	assert.Contains(t, w.Body.String(), `"type":"invalid_route"`)
	assert.NotContains(t, w.Body.String(), "[DONE]")
}

func TestBadRequests(t *testing.T) {
	srv := New(&fakeRouter{})
	for name, body := range map[string]string{
		"malformed json": `{"messages":`,
		"no messages":    `{"messages":[]}`,
		"tool role":      `{"messages":[{"role":"tool","content":"x"}]}`,
		"negative limit": `{"messages":[{"role":"user","content":"x"}],"recursion_limit":-1}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := post(t, srv.Handler(), body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/invocations", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRecursionLimit(t *testing.T) {
	final := conversation.NewAssistantMessage("sql", "partial")
	r := &fakeRouter{res: &supervisor.Result{Final: final, Transcript: conversation.Transcript{final}, Exhausted: true}}
	srv := New(r, WithRecursionLimit(7))

	w := post(t, srv.Handler(), `{"messages":[{"role":"user","content":"x"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, r.budget)

	var out normalize.ChatCompletion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "length", out.Choices[0].FinishReason)
	assert.Equal(t, "partial\n\n", out.Choices[0].Message.Content)

	post(t, srv.Handler(), `{"messages":[{"role":"user","content":"x"}],"recursion_limit":0}`)
	assert.Equal(t, 0, r.budget)
	post(t, srv.Handler(), `{"messages":[{"role":"user","content":"x"}],"recursion_limit":3}`)
	assert.Equal(t, 3, r.budget)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "concierge_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	srv := New(&fakeRouter{}, WithGatherer(reg))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "concierge_test_total 1")
}

func TestContextDecorator(t *testing.T) {
	type key struct{}
	var seen any
	r := &ctxRouter{fn: func(ctx context.Context) { seen = ctx.Value(key{}) }}
	srv := New(r, WithContext(func(ctx context.Context) context.Context {
		return context.WithValue(ctx, key{}, "sinks")
	}))
	post(t, srv.Handler(), `{"messages":[{"role":"user","content":"x"}]}`)
	assert.Equal(t, "sinks", seen)
}

type ctxRouter struct {
	fn func(context.Context)
}

func (c *ctxRouter) Route(ctx context.Context, t conversation.Transcript, _ int) (*supervisor.Result, error) {
	c.fn(ctx)
	return &supervisor.Result{Transcript: t}, nil
}

func (c *ctxRouter) Stream(ctx context.Context, t conversation.Transcript, _ int) iter.Seq2[supervisor.Update, error] {
	c.fn(ctx)
	return func(func(supervisor.Update, error) bool) {}
}
