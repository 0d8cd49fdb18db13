package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// EventSink is a destination for events.
type EventSink interface {
	PublishEvent(event Event) error
}

type ctxKey int

const (
	ctxKeyEventSinks ctxKey = iota
	ctxKeyRunID
)

// WithEventSinks attaches sinks to the context, keeping any already attached.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := GetEventSinks(ctx)
	combined := append([]EventSink{}, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, ctxKeyEventSinks, combined)
}

func GetEventSinks(ctx context.Context) []EventSink {
	if v := ctx.Value(ctxKeyEventSinks); v != nil {
		if sinks, ok := v.([]EventSink); ok {
			return sinks
		}
	}
	return nil
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

func RunIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRunID).(string)
	return v
}

// PublishEventToContext publishes to every sink on the context. Sink errors are
// logged and otherwise ignored.
func PublishEventToContext(ctx context.Context, event Event) {
	sinks := GetEventSinks(ctx)
	if len(sinks) == 0 {
		return
	}
	for _, sink := range sinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish event")
		}
	}
}

// Meta builds metadata for node using the run id stored on ctx.
func Meta(ctx context.Context, node string) EventMetadata {
	return NewMetadata(RunIDFromContext(ctx), node)
}
