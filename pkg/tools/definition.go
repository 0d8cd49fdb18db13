// Package tools provides the tool registry and executor used by the sub-agent loops.
package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ToolDefinition describes a tool that can be called by a language model.
type ToolDefinition struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	Parameters  *jsonschema.Schema `json:"parameters" yaml:"parameters"`
	Function    ToolFunc           `json:"-" yaml:"-"`
	Tags        []string           `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ToolFunc wraps the Go function backing a tool.
type ToolFunc struct {
	fn func(context.Context, []byte) (any, error)
}

// Execute runs the function with raw JSON arguments.
func (tf ToolFunc) Execute(ctx context.Context, args []byte) (any, error) {
	if tf.fn == nil {
		return nil, errors.New("tool function not initialized")
	}
	return tf.fn(ctx, args)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// NewToolFromFunc creates a ToolDefinition from a Go function. Supported signatures:
//
//	func() (Out, error)
//	func(In) (Out, error)
//	func(context.Context) (Out, error)
//	func(context.Context, In) (Out, error)
//
// The error return is optional. The parameter schema is reflected from In.
func NewToolFromFunc(name, description string, fn any) (*ToolDefinition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}
	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be an error")
	}

	var inType reflect.Type
	withCtx := false
	switch funcType.NumIn() {
	case 0:
	case 1:
		if funcType.In(0) == contextType {
			withCtx = true
		} else {
			inType = funcType.In(0)
		}
	case 2:
		if funcType.In(0) != contextType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		withCtx = true
		inType = funcType.In(1)
	default:
		return nil, errors.New("function must take at most (context.Context, Input)")
	}

	schema := &jsonschema.Schema{Type: "object"}
	if inType != nil {
		reflector := jsonschema.Reflector{DoNotReference: true}
		schema = reflector.Reflect(reflect.New(inType).Elem().Interface())
		if schema.Type == "" && schema.Ref == "" {
			schema.Type = "object"
		}
	}

	fnValue := reflect.ValueOf(fn)
	exec := func(ctx context.Context, args []byte) (any, error) {
		in := make([]reflect.Value, 0, 2)
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inType != nil {
			input := reflect.New(inType)
			if len(args) > 0 {
				if err := json.Unmarshal(args, input.Interface()); err != nil {
					log.Debug().Err(err).Str("tool", name).Str("args", string(args)).Msg("tools: failed to unmarshal arguments")
					return nil, errors.Wrap(err, "failed to unmarshal arguments")
				}
			}
			in = append(in, input.Elem())
		}
		return extractResults(fnValue.Call(in))
	}

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Function:    ToolFunc{fn: exec},
	}, nil
}

// NewRawTool creates a tool with an explicit schema and a function receiving raw JSON.
func NewRawTool(name, description string, schema *jsonschema.Schema, fn func(context.Context, json.RawMessage) (any, error)) *ToolDefinition {
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}
	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Function: ToolFunc{fn: func(ctx context.Context, args []byte) (any, error) {
			return fn(ctx, json.RawMessage(args))
		}},
	}
}

func extractResults(results []reflect.Value) (any, error) {
	if len(results) == 2 && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}
