package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Result is the outcome of one tool call. Err is set for unknown tools and failed
// executions; Content then carries the error text meant for the model.
type Result struct {
	CallID   string
	Tool     string
	Content  string
	Err      error
	Duration time.Duration
}

// Message converts the result into a tool message authored by agent.
func (r Result) Message(agent string) conversation.Message {
	return conversation.NewToolResultMessage(agent, r.CallID, r.Content, r.Err != nil)
}

// Executor runs tool calls against a Registry. It never returns an error: every
// failure becomes a Result the model can react to.
type Executor struct {
	cfg Config
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

func (e *Executor) Execute(ctx context.Context, call conversation.ToolCall, registry Registry) Result {
	start := time.Now()
	res := Result{CallID: call.ID, Tool: call.Name}
	fail := func(err error) Result {
		res.Err = err
		res.Content = "Error: " + err.Error()
		res.Duration = time.Since(start)
		log.Debug().Err(err).Str("tool", call.Name).Str("call_id", call.ID).Msg("tool call failed")
		return res
	}

	def, err := registry.GetTool(call.Name)
	if err != nil {
		return fail(err)
	}
	if !e.cfg.IsToolAllowed(call.Name) {
		return fail(&ToolExecutionError{Tool: call.Name, CallID: call.ID, Kind: ErrorKindNotAllowed, Err: errors.New("tool not allowed")})
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return fail(&ToolExecutionError{Tool: call.Name, CallID: call.ID, Kind: ErrorKindValidation, Err: errors.Wrap(err, "marshal arguments")})
	}

	if e.cfg.ValidateArguments {
		if err := validateArguments(def, args); err != nil {
			return fail(&ToolExecutionError{Tool: call.Name, CallID: call.ID, Kind: ErrorKindValidation, Err: err})
		}
	}

	out, err := e.run(ctx, def, argBytes)
	if err != nil {
		kind := ErrorKindExecution
		var te *ToolExecutionError
		if errors.As(err, &te) {
			te.Tool, te.CallID = call.Name, call.ID
			return fail(te)
		}
		return fail(&ToolExecutionError{Tool: call.Name, CallID: call.ID, Kind: kind, Err: err})
	}

	res.Content = Stringify(out)
	res.Duration = time.Since(start)
	log.Debug().Str("tool", call.Name).Str("call_id", call.ID).Dur("duration", res.Duration).Msg("tool call succeeded")
	return res
}

type outcome struct {
	value any
	err   error
}

func (e *Executor) run(ctx context.Context, def *ToolDefinition, args []byte) (any, error) {
	execCtx := ctx
	if e.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &ToolExecutionError{Kind: ErrorKindPanic, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		v, err := def.Function.Execute(execCtx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, &ToolExecutionError{Kind: ErrorKindTimeout, Err: errors.Errorf("timed out after %s", e.cfg.ExecutionTimeout)}
		}
		return nil, execCtx.Err()
	}
}

func validateArguments(def *ToolDefinition, args map[string]any) error {
	if def.Parameters == nil {
		return nil
	}
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return errors.Wrap(err, "marshal schema")
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return errors.Wrap(err, "unmarshal schema")
	}
	// gojsonschema only knows drafts up to 7; the reflected draft-2020-12 markers are
	// irrelevant for the subset of keywords used by tool schemas.
	delete(schema, "$schema")
	delete(schema, "$id")

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return errors.Wrap(err, "validate arguments")
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return errors.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
}

// Stringify renders a tool return value as text for the model: strings verbatim,
// everything else as JSON, falling back to fmt formatting.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
