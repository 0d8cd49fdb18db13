package tools

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry resolves tools by name.
type Registry interface {
	RegisterTool(def ToolDefinition) error
	GetTool(name string) (*ToolDefinition, error)
	ListTools() []ToolDefinition
}

// InMemoryRegistry is a thread-safe in-memory Registry.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

var _ Registry = (*InMemoryRegistry)(nil)

func NewInMemoryRegistry(defs ...ToolDefinition) (*InMemoryRegistry, error) {
	r := &InMemoryRegistry{tools: map[string]ToolDefinition{}}
	for _, d := range defs {
		if err := r.RegisterTool(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterTool adds a tool. Registering the same name twice is an error.
func (r *InMemoryRegistry) RegisterTool(def ToolDefinition) error {
	if def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; ok {
		return errors.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// GetTool returns a copy of the named tool or an *UnknownToolError.
func (r *InMemoryRegistry) GetTool(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name, Available: r.namesLocked()}
	}
	return &def, nil
}

// ListTools returns all tools sorted by name, so schemas are sent to the model in a
// stable order.
func (r *InMemoryRegistry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subset returns a new registry holding only the named tools.
func (r *InMemoryRegistry) Subset(names ...string) (*InMemoryRegistry, error) {
	out := &InMemoryRegistry{tools: map[string]ToolDefinition{}}
	for _, n := range names {
		def, err := r.GetTool(n)
		if err != nil {
			return nil, err
		}
		out.tools[n] = *def
	}
	return out, nil
}

func (r *InMemoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *InMemoryRegistry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
