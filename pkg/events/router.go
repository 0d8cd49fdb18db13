package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultTopic is the topic run events are published on.
const DefaultTopic = "concierge.events"

// EventRouter owns an in-process pub/sub and a watermill router that fans run
// events out to handlers such as the trace recorder.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router

	mu      sync.Mutex
	started bool
	closed  bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = NewWatermillLogger(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router
	return ret, nil
}

// Sink returns a sink publishing onto the router's default topic.
func (e *EventRouter) Sink() *WatermillSink {
	return NewWatermillSink(e.Publisher, DefaultTopic)
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// EventHandler builds a watermill handler that decodes events before calling f.
// Undecodable payloads are logged and acked.
func EventHandler(f func(ctx context.Context, ev Event) error) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("failed to parse event payload")
			return nil
		}
		return f(msg.Context(), ev)
	}
}

// DumpTo returns a handler printing each event as indented JSON.
func DumpTo(w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		var s map[string]interface{}
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		b, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("event router is closed")
	}
	e.started = true
	e.mu.Unlock()
	return e.router.Run(ctx)
}

// Close closes the pub/sub and, if Run was called, drains the router. Handlers
// only start in Run, so a router that never ran has nothing to wait for.
func (e *EventRouter) Close() error {
	e.mu.Lock()
	e.closed = true
	started := e.started
	e.mu.Unlock()

	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close pubsub")
	}
	if !started {
		return nil
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close router")
	}
	return nil
}
