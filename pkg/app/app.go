// Package app wires the configured collaborators, the four sub-agents and the
// supervisor into a runnable assistant.
package app

import (
	"context"

	"github.com/go-go-golems/concierge/pkg/agent"
	"github.com/go-go-golems/concierge/pkg/config"
	"github.com/go-go-golems/concierge/pkg/embeddings"
	"github.com/go-go-golems/concierge/pkg/events"
	"github.com/go-go-golems/concierge/pkg/genie"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/llm/factory"
	"github.com/go-go-golems/concierge/pkg/metrics"
	"github.com/go-go-golems/concierge/pkg/retriever"
	"github.com/go-go-golems/concierge/pkg/sandbox"
	"github.com/go-go-golems/concierge/pkg/sqlfuncs"
	"github.com/go-go-golems/concierge/pkg/supervisor"
	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

const (
	hashDimensions   = 256
	openAIDimensions = 1536
)

// App holds everything one process needs to answer requests.
type App struct {
	Config     config.Config
	Engine     llm.Engine
	Store      *sqlfuncs.Store
	Tools      *tools.InMemoryRegistry
	Retriever  retriever.Retriever
	Indexer    retriever.Indexer
	Genie      *genie.Engine
	Agents     []agent.Spec
	Supervisor *supervisor.Supervisor
	Metrics    *metrics.Metrics
	Traces     *events.TraceRecorder
	Router     *events.EventRouter

	Registry *prometheus.Registry
}

type Option func(*options)

type options struct {
	engine   llm.Engine
	provider embeddings.Provider
	registry *prometheus.Registry
	verbose  bool
}

// WithEngine replaces the provider engine built from the configuration.
func WithEngine(e llm.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithEmbeddings replaces the embedding provider built from the configuration.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(o *options) { o.provider = p }
}

func WithPrometheusRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithVerboseEvents logs the event router's internals.
func WithVerboseEvents(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// Build opens the database, builds the tools and agents and returns the wired
// application. The in-memory retriever is indexed here; a Weaviate collection
// is expected to be filled by Seed.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	a := &App{Config: cfg, Registry: o.registry}
	a.Metrics = metrics.NewMetrics(o.registry)

	a.Engine = o.engine
	if a.Engine == nil {
		e, err := factory.NewEngine(cfg.LLM, a.Metrics.ObserveLLM)
		if err != nil {
			return nil, errors.Wrap(err, "build llm engine")
		}
		a.Engine = e
	} else {
		a.Engine = llm.Observed(a.Engine, a.Metrics.ObserveLLM)
	}

	store, err := sqlfuncs.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.Store = store
	if err := a.build(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	log.Info().
		Str("model", cfg.LLM.Model).
		Str("database", cfg.Database.Path).
		Str("retriever", cfg.Retriever.Backend).
		Strs("tools", a.Tools.Names()).
		Msg("concierge ready")
	return a, nil
}

func (a *App) build(ctx context.Context, o *options) error {
	cfg := a.Config
	if err := a.Store.Migrate(ctx); err != nil {
		return err
	}
	if err := a.seedIfEmpty(ctx); err != nil {
		return err
	}

	traces, err := events.NewTraceRecorder(a.Store.DB())
	if err != nil {
		return err
	}
	a.Traces = traces
	router, err := events.NewEventRouter(events.WithVerbose(o.verbose))
	if err != nil {
		return errors.Wrap(err, "create event router")
	}
	a.Router = router
	a.Traces.Attach(router)

	provider := o.provider
	if provider == nil {
		provider, err = a.embeddingProvider()
		if err != nil {
			return err
		}
	}
	if err := a.buildRetriever(ctx, provider); err != nil {
		return err
	}

	a.Genie, err = genie.New(a.Store.DB(), a.Engine,
		genie.Space{ID: cfg.GenieSpaceID, Tables: cfg.GenieTables()},
		genie.WithMaxRows(cfg.Genie.MaxRows))
	if err != nil {
		return err
	}

	if err := a.buildTools(); err != nil {
		return err
	}
	if err := a.buildAgents(); err != nil {
		return err
	}

	loop := agent.NewLoop(a.Engine,
		agent.WithExecutor(tools.NewExecutor(cfg.Tools)),
		agent.WithMaxIterations(cfg.Supervisor.MaxAgentIterations))
	a.Supervisor, err = supervisor.New(a.Engine, a.Agents, supervisor.WithLoop(loop))
	return err
}

func (a *App) seedIfEmpty(ctx context.Context) error {
	var n int
	if err := a.Store.DB().GetContext(ctx, &n, `SELECT COUNT(*) FROM policies`); err != nil {
		return errors.Wrap(err, "count policies")
	}
	if n > 0 {
		return nil
	}
	f, err := sqlfuncs.LoadFixture(a.Config.Database.Fixture)
	if err != nil {
		return err
	}
	return a.Store.Seed(ctx, f)
}

func (a *App) embeddingProvider() (embeddings.Provider, error) {
	cfg := a.Config
	var p embeddings.Provider
	switch cfg.Retriever.Embedder {
	case "vectorizer":
		// the weaviate collection embeds with its own vectorizer (nearText)
		return nil, nil
	case "hash":
		p = embeddings.NewHashProvider(hashDimensions)
	case "openai":
		if cfg.LLM.Provider != llm.ProviderOpenAI || cfg.LLM.APIKey == "" {
			return nil, errors.New("the openai embedder needs llm.provider=openai and llm.api_key")
		}
		p = embeddings.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL,
			goopenai.EmbeddingModel(cfg.Retriever.EmbeddingModel), openAIDimensions)
	default:
		return nil, errors.Errorf("unknown embedder %q", cfg.Retriever.Embedder)
	}
	if cfg.Retriever.CacheSize > 0 {
		p = embeddings.NewCachedProvider(p, cfg.Retriever.CacheSize)
	}
	return p, nil
}

func (a *App) buildRetriever(ctx context.Context, provider embeddings.Provider) error {
	cfg := a.Config
	switch cfg.Retriever.Backend {
	case "memory":
		m := retriever.NewMemoryRetriever(provider)
		docs, err := a.documents()
		if err != nil {
			return err
		}
		if err := m.Index(ctx, docs); err != nil {
			return err
		}
		a.Retriever, a.Indexer = m, m
	case "weaviate":
		w, err := retriever.NewWeaviateRetriever(retriever.WeaviateConfig{
			Scheme: cfg.Weaviate.Scheme,
			Host:   cfg.Weaviate.Host,
			APIKey: cfg.Weaviate.APIKey,
			Class:  cfg.Retriever.VSIndex,
		}, provider)
		if err != nil {
			return err
		}
		a.Retriever, a.Indexer = w, w
	default:
		return errors.Errorf("unknown retriever backend %q", cfg.Retriever.Backend)
	}
	return nil
}

func (a *App) documents() ([]retriever.Document, error) {
	if a.Config.Retriever.Documents == "" {
		return retriever.DefaultDocuments()
	}
	return retriever.LoadDocuments(a.Config.Retriever.Documents)
}

func (a *App) buildTools() error {
	cfg := a.Config
	reg, err := tools.NewInMemoryRegistry()
	if err != nil {
		return err
	}
	catalog, err := sqlfuncs.NewDefaultCatalog(a.Store, a.Engine)
	if err != nil {
		return err
	}
	if err := catalog.Register(reg, cfg.UCFunctions); err != nil {
		return errors.Wrap(err, "register sql functions")
	}

	codeExec, err := sandbox.NewTool(sandbox.New(sandbox.WithTimeout(cfg.Sandbox.Timeout)))
	if err != nil {
		return err
	}
	genieTool, err := genie.NewTool(a.Genie)
	if err != nil {
		return err
	}
	searchTool, err := retriever.NewTool(a.Retriever, cfg.Retriever.ToolName, retriever.DefaultToolDescription, cfg.Retriever.K)
	if err != nil {
		return err
	}
	for _, def := range []*tools.ToolDefinition{codeExec, genieTool, searchTool} {
		if err := reg.RegisterTool(*def); err != nil {
			return err
		}
	}
	a.Tools = reg
	return nil
}

func (a *App) buildAgents() error {
	cfg := a.Config
	type agentDef struct {
		name, description, prompt string
		tools                     []string
	}
	defs := []agentDef{
		{AgentSQL, sqlDescription, sqlPrompt, cfg.UCFunctions},
		{AgentCalculator, calculatorDescription, calculatorPrompt, []string{sandbox.ToolName}},
		{AgentGenie, genieDescription, geniePrompt, []string{genie.ToolName}},
		{AgentRetriever, retrieverDescription, retrieverPrompt, []string{cfg.Retriever.ToolName}},
	}
	a.Agents = make([]agent.Spec, 0, len(defs))
	for _, d := range defs {
		sub, err := a.Tools.Subset(d.tools...)
		if err != nil {
			return errors.Wrapf(err, "tools of agent %s", d.name)
		}
		spec, err := agent.NewSpec(d.name, d.description, d.prompt, sub)
		if err != nil {
			return err
		}
		a.Agents = append(a.Agents, spec)
	}
	return nil
}

// Context attaches the metrics and event router sinks to ctx.
func (a *App) Context(ctx context.Context) context.Context {
	return events.WithEventSinks(ctx, a.Metrics, a.Router.Sink())
}

// Seed reloads the database fixture and indexes the product documents, in
// parallel.
func (a *App) Seed(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := sqlfuncs.LoadFixture(a.Config.Database.Fixture)
		if err != nil {
			return err
		}
		return a.Store.Seed(ctx, f)
	})
	g.Go(func() error {
		docs, err := a.documents()
		if err != nil {
			return err
		}
		if err := a.Indexer.Index(ctx, docs); err != nil {
			return err
		}
		log.Info().Int("documents", len(docs)).Str("backend", a.Config.Retriever.Backend).Msg("indexed product documents")
		return nil
	})
	return g.Wait()
}

// RunEvents runs the event router until ctx is done. Events published before
// the router is running are dropped.
func (a *App) RunEvents(ctx context.Context) error {
	return a.Router.Run(ctx)
}

func (a *App) Close() error {
	if a.Router != nil {
		_ = a.Router.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
