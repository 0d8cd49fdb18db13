// Package supervisor routes a conversation turn by turn to exactly one
// sub-agent at a time until the model decides no more delegation is needed.
package supervisor

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/go-go-golems/concierge/pkg/agent"
	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/events"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NodeName is the author and event node of supervisor messages.
const NodeName = "supervisor"

// RouteDone is the last routing decision of a run that ended on a plain message.
const RouteDone = "done"

const (
	handoffAck      = "Successfully transferred to %s"
	parallelRefusal = "Error: only one agent can be called at a time, this call was not executed"
)

// Update is one incremental step of a run: the messages a node just produced.
// The last update of a successful stream carries the Result and no messages.
type Update struct {
	Node     string
	Messages []conversation.Message
	Result   *Result
}

// Result is the final routing state of a run.
type Result struct {
	RunID string
	Final conversation.Message
	// Transcript is the shared transcript, input messages included.
	Transcript  conversation.Transcript
	Delegations []string
	Remaining   int
	LastRoute   string
	Exhausted   bool
}

type Supervisor struct {
	engine llm.Engine
	loop   *agent.Loop
	specs  []agent.Spec
	byName map[string]agent.Spec
	prompt string
}

type Option func(*Supervisor)

// WithPrompt replaces the generated routing prompt.
func WithPrompt(p string) Option {
	return func(s *Supervisor) { s.prompt = p }
}

// WithLoop sets the loop used to run sub-agents.
func WithLoop(l *agent.Loop) Option {
	return func(s *Supervisor) { s.loop = l }
}

func New(engine llm.Engine, specs []agent.Spec, opts ...Option) (*Supervisor, error) {
	if engine == nil {
		return nil, errors.New("supervisor needs an engine")
	}
	if len(specs) == 0 {
		return nil, errors.New("supervisor needs at least one agent")
	}
	s := &Supervisor{
		engine: engine,
		specs:  append([]agent.Spec(nil), specs...),
		byName: make(map[string]agent.Spec, len(specs)),
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[spec.Name]; dup {
			return nil, errors.Errorf("duplicate agent %q", spec.Name)
		}
		s.byName[spec.Name] = spec
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.prompt == "" {
		s.prompt = DefaultRoutingPrompt(s.specs)
	}
	if s.loop == nil {
		s.loop = agent.NewLoop(engine)
	}
	return s, nil
}

func (s *Supervisor) Agents() []agent.Spec {
	return append([]agent.Spec(nil), s.specs...)
}

func (s *Supervisor) Prompt() string { return s.prompt }

func (s *Supervisor) agentNames() []string {
	out := make([]string, len(s.specs))
	for i, spec := range s.specs {
		out[i] = spec.Name
	}
	return out
}

// Route runs the conversation to completion and returns the final state.
func (s *Supervisor) Route(ctx context.Context, transcript conversation.Transcript, budget int) (*Result, error) {
	return s.run(ctx, transcript, budget, nil)
}

// Stream runs like Route but yields each node's messages as they are produced.
// A failure is yielded as the last element. Stopping the iteration cancels the
// run before its next model call or tool execution.
func (s *Supervisor) Stream(ctx context.Context, transcript conversation.Transcript, budget int) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stopped := false
		emit := func(u Update) {
			if stopped {
				return
			}
			if !yield(u, nil) {
				stopped = true
				cancel()
			}
		}
		res, err := s.run(ctx, transcript, budget, emit)
		if stopped {
			return
		}
		if err != nil {
			yield(Update{}, err)
			return
		}
		yield(Update{Node: NodeName, Result: res}, nil)
	}
}

type routingState struct {
	transcript  conversation.Transcript
	remaining   int
	last        string
	delegations []string
}

func (s *Supervisor) run(ctx context.Context, input conversation.Transcript, budget int, emit func(Update)) (*Result, error) {
	if len(input) == 0 {
		return nil, errors.New("empty transcript")
	}
	if err := input.Validate(); err != nil {
		return nil, errors.Wrap(err, "input transcript")
	}
	runID := events.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = events.WithRunID(ctx, runID)
	}
	if emit == nil {
		emit = func(Update) {}
	}

	st := &routingState{transcript: input.Clone(), remaining: budget}
	events.PublishEventToContext(ctx, events.NewRunStartedEvent(events.Meta(ctx, NodeName), budget))

	res, err := s.loopTurns(ctx, st, emit)
	exhausted := res != nil && res.Exhausted
	events.PublishEventToContext(ctx, events.NewRunFinishedEvent(events.Meta(ctx, NodeName), len(st.delegations), exhausted, err))
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	return res, nil
}

func (s *Supervisor) loopTurns(ctx context.Context, st *routingState, emit func(Update)) (*Result, error) {
	schemas := handoffSchemas(s.specs)
	for {
		if st.remaining <= 0 {
			log.Info().Int("delegations", len(st.delegations)).Msg("supervisor: recursion budget exhausted")
			events.PublishEventToContext(ctx, events.NewBudgetExhaustedEvent(events.Meta(ctx, NodeName), len(st.delegations)))
			last, _ := st.transcript.Last()
			return s.result(st, last, true), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgs := make(conversation.Transcript, 0, len(st.transcript)+1)
		msgs = append(msgs, conversation.NewSystemMessage(s.prompt))
		msgs = append(msgs, st.transcript.WithoutSystem()...)

		decision, err := s.engine.Complete(ctx, msgs, schemas,
			llm.WithToolChoice(llm.ToolChoiceAuto), llm.WithParallelToolCalls(false))
		if err != nil {
			return nil, errors.Wrap(err, "supervisor routing")
		}
		decision.Role = conversation.RoleAssistant
		decision.Author = NodeName

		if decision.Shape() != conversation.ShapeToolCalls {
			st.last = RouteDone
			return s.finish(ctx, st, decision, emit)
		}

		spec, err := s.resolve(decision.ToolCalls[0].Name)
		if err != nil {
			events.PublishEventToContext(ctx, events.NewRouteErrorEvent(events.Meta(ctx, NodeName), decision.ToolCalls[0].Name, err))
			return nil, err
		}

		produced, err := s.handoff(st, decision, spec)
		if err != nil {
			return nil, err
		}
		emit(Update{Node: NodeName, Messages: produced})

		st.remaining--
		st.last = spec.Name
		st.delegations = append(st.delegations, spec.Name)
		log.Debug().Str("agent", spec.Name).Int("remaining", st.remaining).Msg("supervisor: delegating")
		events.PublishEventToContext(ctx, events.NewDelegationEvent(events.Meta(ctx, NodeName), spec.Name, len(st.delegations), st.remaining))

		run, err := s.loop.Run(ctx, spec, st.transcript, func(m conversation.Message) {
			emit(Update{Node: spec.Name, Messages: []conversation.Message{m}})
		})
		if err != nil {
			return nil, err
		}
		// only the agent's final message joins the shared transcript
		if st.transcript, err = st.transcript.Append(run.Final); err != nil {
			return nil, err
		}
	}
}

// resolve maps a handoff tool name to its agent.
func (s *Supervisor) resolve(toolName string) (agent.Spec, error) {
	name, ok := strings.CutPrefix(toolName, HandoffPrefix)
	if ok {
		if spec, found := s.byName[name]; found {
			return spec, nil
		}
	}
	return agent.Spec{}, &InvalidRouteError{Route: toolName, Available: s.agentNames()}
}

// handoff appends the routing decision and its tool results. Only the first
// call is honored; any further calls are answered with a refusal so every call
// keeps a matching result.
func (s *Supervisor) handoff(st *routingState, decision conversation.Message, spec agent.Spec) ([]conversation.Message, error) {
	produced := []conversation.Message{decision}
	first := decision.ToolCalls[0]
	produced = append(produced, conversation.NewToolResultMessage(NodeName, first.ID, fmt.Sprintf(handoffAck, spec.Name), false))
	for _, extra := range decision.ToolCalls[1:] {
		log.Warn().Str("ignored", extra.Name).Str("honored", first.Name).Msg("supervisor: refusing parallel delegation")
		produced = append(produced, conversation.NewToolResultMessage(NodeName, extra.ID, parallelRefusal, true))
	}
	var err error
	st.transcript, err = st.transcript.Append(produced...)
	if err != nil {
		return nil, errors.Wrap(err, "append handoff")
	}
	return produced, nil
}

// finish ends the run on a plain supervisor message. An empty message means
// the supervisor has nothing to add and the latest answer stands.
func (s *Supervisor) finish(ctx context.Context, st *routingState, decision conversation.Message, emit func(Update)) (*Result, error) {
	if strings.TrimSpace(decision.Content) == "" {
		if last, ok := st.transcript.Last(); ok && len(st.delegations) > 0 {
			return s.result(st, last, false), nil
		}
	}
	var err error
	if st.transcript, err = st.transcript.Append(decision); err != nil {
		return nil, err
	}
	emit(Update{Node: NodeName, Messages: []conversation.Message{decision}})
	events.PublishEventToContext(ctx, events.NewMessageEvent(events.Meta(ctx, NodeName), string(decision.Role), decision.Content))
	return s.result(st, decision, false), nil
}

func (s *Supervisor) result(st *routingState, final conversation.Message, exhausted bool) *Result {
	return &Result{
		Final:       final,
		Transcript:  st.transcript,
		Delegations: append([]string(nil), st.delegations...),
		Remaining:   st.remaining,
		LastRoute:   st.last,
		Exhausted:   exhausted,
	}
}
