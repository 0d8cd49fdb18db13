// Package server exposes the supervisor over HTTP with chat-completion shaped
// responses.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"time"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/normalize"
	"github.com/go-go-golems/concierge/pkg/supervisor"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Router is the part of the supervisor the server needs.
type Router interface {
	Route(ctx context.Context, t conversation.Transcript, budget int) (*supervisor.Result, error)
	Stream(ctx context.Context, t conversation.Transcript, budget int) iter.Seq2[supervisor.Update, error]
}

var _ Router = (*supervisor.Supervisor)(nil)

type Server struct {
	router          Router
	model           string
	recursionLimit  int
	gatherer        prometheus.Gatherer
	decorate        func(context.Context) context.Context
	address         string
	readTimeout     time.Duration
	shutdownTimeout time.Duration
	mux             *http.ServeMux
}

type Option func(*Server)

// WithModel sets the model name reported in responses.
func WithModel(m string) Option { return func(s *Server) { s.model = m } }

// WithRecursionLimit sets the budget used when a request does not give one.
func WithRecursionLimit(n int) Option { return func(s *Server) { s.recursionLimit = n } }

// WithGatherer serves the gatherer's metrics on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithContext decorates every request context, typically with event sinks.
func WithContext(f func(context.Context) context.Context) Option {
	return func(s *Server) { s.decorate = f }
}

func WithAddress(addr string) Option { return func(s *Server) { s.address = addr } }

func WithTimeouts(read, shutdown time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.shutdownTimeout = shutdown
	}
}

func New(r Router, opts ...Option) *Server {
	s := &Server{
		router:          r,
		model:           "concierge",
		recursionLimit:  10,
		gatherer:        prometheus.DefaultGatherer,
		address:         ":8080",
		readTimeout:     30 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /invocations", s.handleInvocations)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.mux,
		ReadHeaderTimeout: s.readTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.address).Msg("serving invocations")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	log.Info().Msg("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	t, err := req.Transcript()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	budget, err := req.Budget(s.recursionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ctx := r.Context()
	if s.decorate != nil {
		ctx = s.decorate(ctx)
	}
	if req.Stream {
		s.stream(ctx, w, t, budget)
		return
	}

	res, err := s.router.Route(ctx, t, budget)
	if err != nil {
		status, kind := errorStatus(err)
		log.Error().Err(err).Int("status", status).Msg("invocation failed")
		writeError(w, status, kind, err)
		return
	}

	// The whole final state is rendered, input messages included.
	content := normalize.Join(normalize.Render(slices.Values(res.Transcript.WithoutSystem())))
	out := normalize.NewChatCompletion(normalize.NewCompletionID(), s.model, content)
	out.Choices[0].FinishReason = finishReason(res)
	log.Info().
		Str("run_id", res.RunID).
		Strs("delegations", res.Delegations).
		Bool("exhausted", res.Exhausted).
		Msg("invocation finished")
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) stream(ctx context.Context, w http.ResponseWriter, t conversation.Transcript, budget int) {
	sse := newSSEWriter(w)
	id := normalize.NewCompletionID()
	first := true
	for u, err := range s.router.Stream(ctx, t, budget) {
		if err != nil {
			_, kind := errorStatus(err)
			log.Error().Err(err).Msg("stream failed")
			sse.event("error", errorBody{Error: errorDetail{Message: err.Error(), Type: kind}})
			return
		}
		if u.Result != nil {
			sse.data(normalize.NewFinalChunk(id, s.model, finishReason(u.Result)))
			sse.done()
			return
		}
		for item := range normalize.Render(slices.Values(u.Messages)) {
			if !sse.data(normalize.NewChunk(id, s.model, item, first)) {
				return
			}
			first = false
		}
	}
}

func finishReason(res *supervisor.Result) string {
	if res.Exhausted {
		return "length"
	}
	return "stop"
}

func errorStatus(err error) (int, string) {
	switch {
	case supervisor.IsInvalidRoute(err):
		return http.StatusBadGateway, "invalid_route"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: err.Error(), Type: kind}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

type sseWriter struct {
	w     http.ResponseWriter
	flush func()
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s := &sseWriter{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

func (s *sseWriter) data(v any) bool {
	return s.write("", v)
}

func (s *sseWriter) event(name string, v any) bool {
	return s.write(name, v)
}

func (s *sseWriter) write(event string, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode stream chunk")
		return false
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		log.Debug().Err(err).Msg("client went away")
		return false
	}
	s.flush()
	return true
}

func (s *sseWriter) done() {
	_, _ = fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flush()
}
