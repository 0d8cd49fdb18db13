package events

import (
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// WatermillSink publishes events as JSON messages on a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ EventSink = (*WatermillSink)(nil)

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("run_id", event.Metadata().RunID)
	msg.Metadata.Set("event_type", string(event.Type()))
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return err
	}
	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("published event")
	return nil
}

// CollectingSink keeps events in memory.
type CollectingSink struct {
	mu     sync.Mutex
	events []Event
}

var _ EventSink = (*CollectingSink)(nil)

func (c *CollectingSink) PublishEvent(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *CollectingSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// OfType filters collected events.
func (c *CollectingSink) OfType(t EventType) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

// LogSink writes events to the zerolog logger at debug level.
type LogSink struct{}

func (LogSink) PublishEvent(event Event) error {
	log.Debug().Str("type", string(event.Type())).Object("meta", event.Metadata()).Msg("event")
	return nil
}
