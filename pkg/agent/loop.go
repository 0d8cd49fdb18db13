package agent

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/events"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrMaxIterations is returned when the optional iteration cap is hit before the
// model produced a plain answer.
var ErrMaxIterations = errors.New("agent reached maximum iterations")

// Result is the outcome of one sub-agent run. Messages holds everything the run
// produced in order, ending with Final.
type Result struct {
	Final      conversation.Message
	Messages   conversation.Transcript
	Iterations int
}

// EmitFunc receives each message as soon as the loop produces it.
type EmitFunc func(conversation.Message)

type Loop struct {
	engine        llm.Engine
	executor      *tools.Executor
	maxIterations int
}

type Option func(*Loop)

func WithExecutor(e *tools.Executor) Option {
	return func(l *Loop) { l.executor = e }
}

// WithMaxIterations caps model calls per run. Zero means no cap.
func WithMaxIterations(n int) Option {
	return func(l *Loop) { l.maxIterations = n }
}

func NewLoop(engine llm.Engine, opts ...Option) *Loop {
	l := &Loop{
		engine:   engine,
		executor: tools.NewExecutor(tools.DefaultConfig()),
	}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	return l
}

// Run prepends the spec's system prompt to transcript and alternates model
// calls and tool executions until the model answers without tool calls. Tool
// failures, including unknown tool names, are fed back to the model as tool
// results. Tool calls run one at a time in the order the model listed them.
func (l *Loop) Run(ctx context.Context, spec Spec, transcript conversation.Transcript, emit EmitFunc) (*Result, error) {
	if l.engine == nil {
		return nil, errors.New("agent loop engine is nil")
	}
	working := make(conversation.Transcript, 0, len(transcript)+1)
	if spec.SystemPrompt != "" {
		working = append(working, conversation.NewSystemMessage(spec.SystemPrompt))
	}
	working = append(working, transcript.WithoutSystem()...)

	schemas := llm.SchemasFromRegistry(spec.Tools)
	res := &Result{}
	push := func(m conversation.Message) error {
		var err error
		working, err = working.Append(m)
		if err != nil {
			return err
		}
		res.Messages = append(res.Messages, m)
		if emit != nil {
			emit(m)
		}
		return nil
	}

	for {
		if l.maxIterations > 0 && res.Iterations >= l.maxIterations {
			log.Warn().Str("agent", spec.Name).Int("max_iterations", l.maxIterations).Msg("agent: maximum iterations reached")
			return res, errors.Wrapf(ErrMaxIterations, "agent %s after %d iterations", spec.Name, res.Iterations)
		}
		res.Iterations++
		log.Debug().Str("agent", spec.Name).Int("iteration", res.Iterations).Msg("agent: model step")

		msg, err := l.engine.Complete(ctx, working, schemas)
		if err != nil {
			return nil, errors.Wrapf(err, "agent %s", spec.Name)
		}
		msg.Role = conversation.RoleAssistant
		msg.Author = spec.Name
		if err := push(msg); err != nil {
			return nil, errors.Wrapf(err, "agent %s", spec.Name)
		}

		if msg.Shape() != conversation.ShapeToolCalls {
			events.PublishEventToContext(ctx, events.NewMessageEvent(events.Meta(ctx, spec.Name), string(msg.Role), msg.Content))
			res.Final = msg
			return res, nil
		}

		for _, call := range msg.ToolCalls {
			args, _ := json.Marshal(call.Arguments)
			events.PublishEventToContext(ctx, events.NewToolCallEvent(events.Meta(ctx, spec.Name), call.ID, call.Name, string(args)))

			r := l.executor.Execute(ctx, call, spec.Tools)

			errText := ""
			if r.Err != nil {
				errText = r.Err.Error()
			}
			events.PublishEventToContext(ctx, events.NewToolResultEvent(events.Meta(ctx, spec.Name), call.ID, call.Name, r.Content, errText, r.Duration))
			if err := push(r.Message(spec.Name)); err != nil {
				return nil, errors.Wrapf(err, "agent %s", spec.Name)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}
