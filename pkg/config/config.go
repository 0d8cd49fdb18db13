// Package config loads the concierge configuration from YAML, environment and
// flags through viper.
package config

import (
	"strings"
	"time"

	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "concierge"

type RetrieverConfig struct {
	VSIndex  string `mapstructure:"vs_index" yaml:"vs_index"`
	K        int    `mapstructure:"k" yaml:"k"`
	ToolName string `mapstructure:"tool_name" yaml:"tool_name"`
	// Backend is "memory" or "weaviate".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Embedder is "openai", "hash" or "vectorizer". "vectorizer" leaves
	// embedding to the weaviate collection's own vectorizer.
	Embedder       string `mapstructure:"embedder" yaml:"embedder"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"`
	CacheSize      int    `mapstructure:"cache_size" yaml:"cache_size"`
	// Documents is a YAML file of product documents loaded by `seed`.
	Documents string `mapstructure:"documents" yaml:"documents"`
}

type WeaviateConfig struct {
	Scheme string `mapstructure:"scheme" yaml:"scheme"`
	Host   string `mapstructure:"host" yaml:"host"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// Fixture is the YAML seed file for customer service data and policies.
	Fixture string `mapstructure:"fixture" yaml:"fixture"`
}

type GenieConfig struct {
	// Spaces maps a space id to the tables it exposes. genie_space_id selects
	// the space the genie agent uses.
	Spaces  map[string][]string `mapstructure:"spaces" yaml:"spaces"`
	MaxRows int                 `mapstructure:"max_rows" yaml:"max_rows"`
}

type SandboxConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SupervisorConfig struct {
	RecursionLimit     int `mapstructure:"recursion_limit" yaml:"recursion_limit"`
	MaxAgentIterations int `mapstructure:"max_agent_iterations" yaml:"max_agent_iterations"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Model           string        `mapstructure:"model" yaml:"model"`
}

type Config struct {
	LLMEndpoint  string          `mapstructure:"llm_endpoint" yaml:"llm_endpoint"`
	Catalog      string          `mapstructure:"catalog" yaml:"catalog"`
	Schema       string          `mapstructure:"schema" yaml:"schema"`
	UCFunctions  []string        `mapstructure:"uc_functions" yaml:"uc_functions"`
	GenieSpaceID string          `mapstructure:"genie_space_id" yaml:"genie_space_id"`
	Retriever    RetrieverConfig `mapstructure:"retriever" yaml:"retriever"`

	LLM        llm.Settings     `mapstructure:"llm" yaml:"llm"`
	Tools      tools.Config     `mapstructure:"tools" yaml:"tools"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Weaviate   WeaviateConfig   `mapstructure:"weaviate" yaml:"weaviate"`
	Genie      GenieConfig      `mapstructure:"genie" yaml:"genie"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox" yaml:"sandbox"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
}

func Default() Config {
	return Config{
		Catalog: "concierge",
		Schema:  "agents",
		UCFunctions: []string{
			"get_latest_interaction",
			"extract_product",
			"get_return_policy",
			"get_requests_history",
		},
		GenieSpaceID: "customer-service",
		Retriever: RetrieverConfig{
			VSIndex:        "ProductDoc",
			K:              3,
			ToolName:       "product_docs_retriever",
			Backend:        "memory",
			Embedder:       "hash",
			EmbeddingModel: "text-embedding-3-small",
			CacheSize:      512,
		},
		LLM:      llm.DefaultSettings(),
		Tools:    tools.DefaultConfig(),
		Database: DatabaseConfig{Path: "concierge.db"},
		Weaviate: WeaviateConfig{Scheme: "http", Host: "localhost:8080"},
		Genie: GenieConfig{
			Spaces: map[string][]string{
				"customer-service": {"cust_service_data", "policies"},
			},
			MaxRows: 50,
		},
		Sandbox:    SandboxConfig{Timeout: 10 * time.Second},
		Supervisor: SupervisorConfig{RecursionLimit: 10},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Model:           "concierge",
		},
	}
}

// Load reads the configuration from v on top of Default. v is expected to
// already have its config file and env bindings set up.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode configuration")
	}
	cfg.LLM.Model = resolveModel(v, cfg)
	cfg.UCFunctions = FunctionNames(cfg.UCFunctions)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveModel picks the model for the configured provider. llm_endpoint names
// an OpenAI-compatible serving endpoint and only applies to the openai provider.
// Other providers use llm.model, or their own default when it is unset.
func resolveModel(v *viper.Viper, cfg Config) string {
	if cfg.LLM.Provider == llm.ProviderOpenAI && cfg.LLMEndpoint != "" {
		return cfg.LLMEndpoint
	}
	if v.IsSet("llm.model") && cfg.LLM.Model != "" {
		return cfg.LLM.Model
	}
	return llm.DefaultModel(cfg.LLM.Provider)
}

// NewViper returns a viper instance with the concierge env prefix and search
// paths. An empty configFile searches ./config.yml and ~/.concierge.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.concierge")
		v.AddConfigPath("/etc/concierge")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, errors.Wrap(err, "read config")
		}
	}
	bindEnv(v)
	return v, nil
}

// bindEnv makes nested keys visible to AutomaticEnv during Unmarshal, which
// only consults keys viper already knows about.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"llm_endpoint", "catalog", "schema", "genie_space_id",
		"llm.provider", "llm.model", "llm.api_key", "llm.base_url",
		"database.path", "weaviate.host", "weaviate.api_key",
		"retriever.backend", "retriever.embedder", "server.address",
	} {
		_ = v.BindEnv(k)
	}
}

// FunctionNames strips catalog and schema qualifiers: "main.agents.get_return_policy"
// becomes "get_return_policy".
func FunctionNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if i := strings.LastIndex(n, "."); i >= 0 {
			n = n[i+1:]
		}
		out = append(out, n)
	}
	return out
}

func (c Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.Retriever.K <= 0 {
		return errors.New("retriever.k must be positive")
	}
	if c.Retriever.ToolName == "" {
		return errors.New("retriever.tool_name is required")
	}
	switch c.Retriever.Backend {
	case "memory", "weaviate":
	default:
		return errors.Errorf("unknown retriever backend %q", c.Retriever.Backend)
	}
	switch c.Retriever.Embedder {
	case "openai", "hash":
	case "vectorizer":
		if c.Retriever.Backend != "weaviate" {
			return errors.New("the vectorizer embedder needs the weaviate backend")
		}
	default:
		return errors.Errorf("unknown embedder %q", c.Retriever.Embedder)
	}
	if c.Retriever.Backend == "weaviate" && c.Weaviate.Host == "" {
		return errors.New("weaviate.host is required for the weaviate backend")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Supervisor.RecursionLimit <= 0 {
		return errors.New("supervisor.recursion_limit must be positive")
	}
	if c.Supervisor.MaxAgentIterations < 0 {
		return errors.New("supervisor.max_agent_iterations must be >= 0")
	}
	if len(c.GenieTables()) == 0 {
		return errors.Errorf("genie space %q must list at least one table in genie.spaces", c.GenieSpaceID)
	}
	return nil
}

// GenieTables returns the tables of the configured genie space. Viper lowercases
// map keys, so the lookup is case-insensitive.
func (c Config) GenieTables() []string {
	if t, ok := c.Genie.Spaces[c.GenieSpaceID]; ok {
		return t
	}
	return c.Genie.Spaces[strings.ToLower(c.GenieSpaceID)]
}
