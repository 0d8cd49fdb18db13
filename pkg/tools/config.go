package tools

import "time"

// Config controls how the Executor runs tools.
type Config struct {
	// ExecutionTimeout bounds a single tool call. Zero disables the deadline.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout" yaml:"execution_timeout"`
	// ValidateArguments checks arguments against the tool's JSON schema before running it.
	ValidateArguments bool `mapstructure:"validate_arguments" yaml:"validate_arguments"`
	// AllowedTools restricts execution to the listed names. Nil allows everything.
	AllowedTools []string `mapstructure:"allowed_tools" yaml:"allowed_tools"`
}

func DefaultConfig() Config {
	return Config{
		ExecutionTimeout:  60 * time.Second,
		ValidateArguments: true,
	}
}

func (c Config) WithExecutionTimeout(d time.Duration) Config {
	c.ExecutionTimeout = d
	return c
}

func (c Config) WithAllowedTools(names ...string) Config {
	c.AllowedTools = names
	return c
}

func (c Config) IsToolAllowed(name string) bool {
	if c.AllowedTools == nil {
		return true
	}
	for _, n := range c.AllowedTools {
		if n == name {
			return true
		}
	}
	return false
}
