// Package agent runs a sub-agent: a language model bound to a fixed tool set
// and system prompt, looping over tool calls until it answers in plain text.
package agent

import (
	"regexp"

	"github.com/go-go-golems/concierge/pkg/tools"
	"github.com/pkg/errors"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Spec describes a sub-agent. It is built once at startup and never modified.
type Spec struct {
	Name string
	// Description is the one-line responsibility shown to the supervisor.
	Description  string
	SystemPrompt string
	Tools        tools.Registry
}

func NewSpec(name, description, systemPrompt string, reg tools.Registry) (Spec, error) {
	s := Spec{Name: name, Description: description, SystemPrompt: systemPrompt, Tools: reg}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

func (s Spec) Validate() error {
	if !namePattern.MatchString(s.Name) {
		return errors.Errorf("invalid agent name %q: use lowercase letters, digits and underscores", s.Name)
	}
	if s.Description == "" {
		return errors.Errorf("agent %s needs a description", s.Name)
	}
	if s.Tools == nil {
		return errors.Errorf("agent %s has no tool registry", s.Name)
	}
	return nil
}

// ToolNames lists the bound tools.
func (s Spec) ToolNames() []string {
	defs := s.Tools.ListTools()
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}
