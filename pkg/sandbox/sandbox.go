// Package sandbox runs short JavaScript snippets for calculations in an
// isolated goja runtime.
package sandbox

import (
	"context"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxOutput = 64 * 1024

// ErrTimeout is returned when a snippet is interrupted by its deadline.
var ErrTimeout = errors.New("code execution timed out")

type Sandbox struct {
	timeout time.Duration
}

type Option func(*Sandbox)

func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) { s.timeout = d }
}

func New(opts ...Option) *Sandbox {
	s := &Sandbox{timeout: 10 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Exec runs code in a fresh runtime. The result is everything written through
// console.log followed by the value of the last expression, if any.
func (s *Sandbox) Exec(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.New("no code provided")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vm := goja.New()
	out := &output{}
	if err := installConsole(vm, out); err != nil {
		return "", errors.Wrap(err, "install console")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	v, err := vm.RunString(code)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return out.String(), ErrTimeout
			}
			return out.String(), ctx.Err()
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return out.String(), errors.Errorf("javascript error: %s", exc.Error())
		}
		return out.String(), errors.Wrap(err, "run code")
	}

	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		out.line(exportString(vm, v))
	}
	log.Debug().Int("code_len", len(code)).Int("output_len", out.sb.Len()).Msg("sandbox executed code")
	return out.String(), nil
}

type output struct {
	sb        strings.Builder
	truncated bool
}

func (o *output) line(s string) {
	if o.truncated {
		return
	}
	if o.sb.Len()+len(s)+1 > maxOutput {
		o.truncated = true
		o.sb.WriteString("...[output truncated]\n")
		return
	}
	o.sb.WriteString(s)
	o.sb.WriteByte('\n')
}

func (o *output) String() string {
	return strings.TrimRight(o.sb.String(), "\n")
}

func installConsole(vm *goja.Runtime, out *output) error {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, exportString(vm, a))
		}
		out.line(strings.Join(parts, " "))
		return goja.Undefined()
	}
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, logFn); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// exportString renders objects and arrays as JSON, everything else with the
// JavaScript string conversion.
func exportString(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(v); !isFn {
			if j, err := v.ToObject(vm).MarshalJSON(); err == nil {
				return string(j)
			}
		}
	}
	return v.String()
}
