package sqlfuncs

import (
	"context"
	"sort"

	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/pkg/errors"
)

const (
	FnLatestInteraction = "get_latest_interaction"
	FnExtractProduct    = "extract_product"
	FnReturnPolicy      = "get_return_policy"
	FnRequestsHistory   = "get_requests_history"
)

type ExtractProductInput struct {
	Text string `json:"text" jsonschema:"required,description=Free text such as an issue_description"`
}

type RequestsHistoryInput struct {
	UserName string `json:"user_name" jsonschema:"required,description=The customer's full name"`
}

// Catalog is the set of SQL functions available to register as tools.
type Catalog struct {
	defs map[string]*tools.ToolDefinition
}

func NewCatalog(store *Store, extractor *ProductExtractor) (*Catalog, error) {
	c := &Catalog{defs: map[string]*tools.ToolDefinition{}}

	add := func(name, description string, fn any) error {
		def, err := tools.NewToolFromFunc(name, description, fn)
		if err != nil {
			return errors.Wrapf(err, "build tool %s", name)
		}
		def.Tags = []string{"sql"}
		c.defs[name] = def
		return nil
	}

	if err := add(FnLatestInteraction,
		"Returns the most recent customer service interaction, such as returns, technical support and billing requests.",
		func(ctx context.Context) ([]Interaction, error) {
			return store.LatestInteraction(ctx)
		}); err != nil {
		return nil, err
	}
	if err := add(FnExtractProduct,
		"Returns the product mentioned in issue_description",
		func(ctx context.Context, in ExtractProductInput) (string, error) {
			return extractor.Extract(ctx, in.Text)
		}); err != nil {
		return nil, err
	}
	if err := add(FnReturnPolicy,
		"Returns the details of the Return Policy",
		func(ctx context.Context) ([]Policy, error) {
			return store.ReturnPolicy(ctx)
		}); err != nil {
		return nil, err
	}
	if err := add(FnRequestsHistory,
		"This takes a customer's name as an input and returns the number of requests per issue category",
		func(ctx context.Context, in RequestsHistoryInput) ([]RequestCount, error) {
			return store.RequestsHistory(ctx, in.UserName)
		}); err != nil {
		return nil, err
	}
	return c, nil
}

// NewDefaultCatalog builds the catalog with an LLM-backed product extractor.
func NewDefaultCatalog(store *Store, engine llm.Engine) (*Catalog, error) {
	return NewCatalog(store, NewProductExtractor(engine))
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for n := range c.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Register adds the named functions to reg. Naming a function the catalog does
// not have is an error.
func (c *Catalog) Register(reg tools.Registry, names []string) error {
	for _, n := range names {
		def, ok := c.defs[n]
		if !ok {
			return &tools.UnknownToolError{Name: n, Available: c.Names()}
		}
		if err := reg.RegisterTool(*def); err != nil {
			return errors.Wrapf(err, "register %s", n)
		}
	}
	return nil
}
