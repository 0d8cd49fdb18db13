package llm

import (
	"context"
	"time"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimited waits on limiter before every call.
func RateLimited(e Engine, limiter *rate.Limiter) Engine {
	if limiter == nil {
		return e
	}
	return EngineFunc(func(ctx context.Context, t conversation.Transcript, tools []ToolSchema, opts ...CallOption) (conversation.Message, error) {
		if err := limiter.Wait(ctx); err != nil {
			return conversation.Message{}, errors.Wrap(err, "rate limiter")
		}
		return e.Complete(ctx, t, tools, opts...)
	})
}

// NewLimiter builds a limiter from a requests-per-minute budget; 0 means unlimited.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// WithTimeout bounds every call with a deadline.
func WithTimeout(e Engine, d time.Duration) Engine {
	if d <= 0 {
		return e
	}
	return EngineFunc(func(ctx context.Context, t conversation.Transcript, tools []ToolSchema, opts ...CallOption) (conversation.Message, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return e.Complete(ctx, t, tools, opts...)
	})
}

// Observer is notified after every call.
type Observer func(d time.Duration, err error)

// Observed reports call latency and errors to obs.
func Observed(e Engine, obs Observer) Engine {
	if obs == nil {
		return e
	}
	return EngineFunc(func(ctx context.Context, t conversation.Transcript, tools []ToolSchema, opts ...CallOption) (conversation.Message, error) {
		start := time.Now()
		msg, err := e.Complete(ctx, t, tools, opts...)
		d := time.Since(start)
		obs(d, err)
		log.Debug().Dur("duration", d).Int("messages", len(t)).Int("tools", len(tools)).Err(err).Msg("llm call")
		return msg, err
	})
}
