// Package events carries the observable steps of a supervised run (delegations,
// tool calls, messages) to any number of sinks.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeRunStarted      EventType = "run-started"
	EventTypeDelegation      EventType = "delegation"
	EventTypeMessage         EventType = "message"
	EventTypeToolCall        EventType = "tool-call"
	EventTypeToolResult      EventType = "tool-result"
	EventTypeRouteError      EventType = "route-error"
	EventTypeBudgetExhausted EventType = "budget-exhausted"
	EventTypeRunFinished     EventType = "run-finished"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

// EventMetadata correlates an event with its run and the node that emitted it.
type EventMetadata struct {
	ID    uuid.UUID `json:"id"`
	RunID string    `json:"run_id"`
	Node  string    `json:"node"`
	Time  time.Time `json:"time"`
}

func (m EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", m.ID.String()).Str("run_id", m.RunID).Str("node", m.Node)
}

// NewMetadata stamps a fresh id and time.
func NewMetadata(runID, node string) EventMetadata {
	return EventMetadata{ID: uuid.New(), RunID: runID, Node: node, Time: time.Now().UTC()}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }

type EventRunStarted struct {
	EventImpl
	Budget int `json:"budget"`
}

func NewRunStartedEvent(meta EventMetadata, budget int) *EventRunStarted {
	return &EventRunStarted{EventImpl: EventImpl{Type_: EventTypeRunStarted, Metadata_: meta}, Budget: budget}
}

type EventDelegation struct {
	EventImpl
	Agent     string `json:"agent"`
	Turn      int    `json:"turn"`
	Remaining int    `json:"remaining"`
}

func NewDelegationEvent(meta EventMetadata, agent string, turn, remaining int) *EventDelegation {
	return &EventDelegation{EventImpl: EventImpl{Type_: EventTypeDelegation, Metadata_: meta}, Agent: agent, Turn: turn, Remaining: remaining}
}

type EventMessage struct {
	EventImpl
	Role    string `json:"role"`
	Content string `json:"content"`
}

func NewMessageEvent(meta EventMetadata, role, content string) *EventMessage {
	return &EventMessage{EventImpl: EventImpl{Type_: EventTypeMessage, Metadata_: meta}, Role: role, Content: content}
}

type EventToolCall struct {
	EventImpl
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Input  string `json:"input"`
}

func NewToolCallEvent(meta EventMetadata, callID, name, input string) *EventToolCall {
	return &EventToolCall{EventImpl: EventImpl{Type_: EventTypeToolCall, Metadata_: meta}, CallID: callID, Name: name, Input: input}
}

type EventToolResult struct {
	EventImpl
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Result     string `json:"result"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func NewToolResultEvent(meta EventMetadata, callID, name, result, errText string, d time.Duration) *EventToolResult {
	return &EventToolResult{
		EventImpl:  EventImpl{Type_: EventTypeToolResult, Metadata_: meta},
		CallID:     callID,
		Name:       name,
		Result:     result,
		Error:      errText,
		DurationMs: d.Milliseconds(),
	}
}

type EventRouteError struct {
	EventImpl
	Route string `json:"route"`
	Error string `json:"error"`
}

func NewRouteErrorEvent(meta EventMetadata, route string, err error) *EventRouteError {
	return &EventRouteError{EventImpl: EventImpl{Type_: EventTypeRouteError, Metadata_: meta}, Route: route, Error: err.Error()}
}

type EventBudgetExhausted struct {
	EventImpl
	Turns int `json:"turns"`
}

func NewBudgetExhaustedEvent(meta EventMetadata, turns int) *EventBudgetExhausted {
	return &EventBudgetExhausted{EventImpl: EventImpl{Type_: EventTypeBudgetExhausted, Metadata_: meta}, Turns: turns}
}

type EventRunFinished struct {
	EventImpl
	Turns     int    `json:"turns"`
	Exhausted bool   `json:"exhausted"`
	Error     string `json:"error,omitempty"`
}

func NewRunFinishedEvent(meta EventMetadata, turns int, exhausted bool, err error) *EventRunFinished {
	e := &EventRunFinished{EventImpl: EventImpl{Type_: EventTypeRunFinished, Metadata_: meta}, Turns: turns, Exhausted: exhausted}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NewEventFromJson decodes an event serialized by a sink.
func NewEventFromJson(b []byte) (Event, error) {
	var head EventImpl
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, errors.Wrap(err, "decode event header")
	}
	var ev Event
	switch head.Type_ {
	case EventTypeRunStarted:
		ev = &EventRunStarted{}
	case EventTypeDelegation:
		ev = &EventDelegation{}
	case EventTypeMessage:
		ev = &EventMessage{}
	case EventTypeToolCall:
		ev = &EventToolCall{}
	case EventTypeToolResult:
		ev = &EventToolResult{}
	case EventTypeRouteError:
		ev = &EventRouteError{}
	case EventTypeBudgetExhausted:
		ev = &EventBudgetExhausted{}
	case EventTypeRunFinished:
		ev = &EventRunFinished{}
	default:
		return nil, errors.Errorf("unknown event type %q", head.Type_)
	}
	if err := json.Unmarshal(b, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s event", head.Type_)
	}
	return ev, nil
}
