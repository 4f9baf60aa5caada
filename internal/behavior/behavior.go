// Package behavior holds the hooks a component can override around its
// render: the state handed to the template and the markup produced by it.
package behavior

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	bangerrors "github.com/conneroisu/bang/internal/errors"
)

// Behavior customizes a component's render.
type Behavior interface {
	// BeforePrint returns the state the markup is cooked against.
	BeforePrint(ctx context.Context, state any) (any, error)
	// AfterPrint returns the markup that replaces the render target.
	AfterPrint(ctx context.Context, markup string) (string, error)
	// Methods lists the handler names the component exposes.
	Methods() []string
}

// Default leaves state and markup untouched.
type Default struct{}

func (Default) BeforePrint(_ context.Context, state any) (any, error) { return state, nil }

func (Default) AfterPrint(_ context.Context, markup string) (string, error) { return markup, nil }

func (Default) Methods() []string { return nil }

// Funcs builds a Behavior from plain functions. Nil hooks keep the default.
type Funcs struct {
	Before      func(ctx context.Context, state any) (any, error)
	After       func(ctx context.Context, markup string) (string, error)
	MethodNames []string
}

func (f Funcs) BeforePrint(ctx context.Context, state any) (any, error) {
	if f.Before == nil {
		return state, nil
	}
	return f.Before(ctx, state)
}

func (f Funcs) AfterPrint(ctx context.Context, markup string) (string, error) {
	if f.After == nil {
		return markup, nil
	}
	return f.After(ctx, markup)
}

func (f Funcs) Methods() []string { return f.MethodNames }

// Script is a Behavior defined by a JavaScript expression evaluating to an
// object with optional methods, beforePrint and afterPrint members. A goja
// runtime is not safe for concurrent use, so calls are serialized.
type Script struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	before  goja.Callable
	after   goja.Callable
	methods []string
}

// Compile evaluates source and extracts its hooks.
func Compile(name, source string) (*Script, error) {
	source = strings.TrimRight(strings.TrimSpace(source), ";")
	program, err := goja.Compile(name, fmt.Sprintf("(function(){ return (%s); })()", source), false)
	if err != nil {
		return nil, bangerrors.NewScriptError(bangerrors.ErrCodeScriptInvalid,
			"cannot compile behavior script", err).WithComponent(name)
	}

	vm := goja.New()
	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, bangerrors.NewScriptError(bangerrors.ErrCodeScriptInvalid,
			"behavior script failed", err).WithComponent(name)
	}
	if goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, bangerrors.NewScriptError(bangerrors.ErrCodeScriptInvalid,
			"behavior script must evaluate to an object", nil).WithComponent(name)
	}
	obj, ok := value.(*goja.Object)
	if !ok {
		return nil, bangerrors.NewScriptError(bangerrors.ErrCodeScriptInvalid,
			"behavior script must evaluate to an object", nil).WithComponent(name)
	}

	s := &Script{vm: vm}
	if fn, ok := goja.AssertFunction(obj.Get("beforePrint")); ok {
		s.before = fn
	}
	if fn, ok := goja.AssertFunction(obj.Get("afterPrint")); ok {
		s.after = fn
	}
	if m := obj.Get("methods"); m != nil && !goja.IsUndefined(m) && !goja.IsNull(m) {
		var names []string
		if err := vm.ExportTo(m, &names); err != nil {
			return nil, bangerrors.NewScriptError(bangerrors.ErrCodeScriptInvalid,
				"methods must be a list of names", err).WithComponent(name)
		}
		s.methods = names
	}
	return s, nil
}

func (s *Script) BeforePrint(_ context.Context, state any) (any, error) {
	if s.before == nil {
		return state, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.before(goja.Undefined(), s.vm.ToValue(state))
	if err != nil {
		return nil, bangerrors.NewScriptError(bangerrors.ErrCodeScriptInvalid, "beforePrint failed", err)
	}
	if goja.IsUndefined(v) {
		return state, nil
	}
	return v.Export(), nil
}

func (s *Script) AfterPrint(_ context.Context, markup string) (string, error) {
	if s.after == nil {
		return markup, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.after(goja.Undefined(), s.vm.ToValue(markup))
	if err != nil {
		return "", bangerrors.NewScriptError(bangerrors.ErrCodeScriptInvalid, "afterPrint failed", err)
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return markup, nil
	}
	return v.String(), nil
}

func (s *Script) Methods() []string { return s.methods }
