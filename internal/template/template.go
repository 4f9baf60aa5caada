// Package template cooks component markup. Markup text holds ${expression}
// holes; each expression is compiled once with expr-lang/expr when the
// markup is parsed, evaluated against an explicit scope when cooked, and its
// value reduced to text by the resolver.
package template

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"golang.org/x/sync/errgroup"

	bangerrors "github.com/conneroisu/bang/internal/errors"
	"github.com/conneroisu/bang/internal/resolver"
)

// segment is either literal text or a compiled hole.
type segment struct {
	literal string
	source  string
	program *exprvm.Program
}

func (s segment) isHole() bool { return s.program != nil }

// Template is parsed markup ready to be cooked any number of times.
type Template struct {
	source   string
	segments []segment
}

// Source returns the markup the template was parsed from.
func (t *Template) Source() string { return t.source }

// Holes returns the expression source of every hole in order.
func (t *Template) Holes() []string {
	var out []string
	for _, s := range t.segments {
		if s.isHole() {
			out = append(out, s.source)
		}
	}
	return out
}

// Parse splits markup into literal and expression segments and compiles
// every expression.
func Parse(markup string) (*Template, error) {
	t := &Template{source: markup}
	var lit strings.Builder

	for i := 0; i < len(markup); {
		if markup[i] == '\\' && strings.HasPrefix(markup[i+1:], "${") {
			lit.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(markup[i:], "${") {
			lit.WriteByte(markup[i])
			i++
			continue
		}

		end, err := holeEnd(markup, i+2)
		if err != nil {
			return nil, err
		}
		src := strings.TrimSpace(markup[i+2 : end])
		if src == "" {
			return nil, bangerrors.NewTemplateError(bangerrors.ErrCodeTemplateParse,
				fmt.Sprintf("empty expression at offset %d", i), nil)
		}
		program, err := compile(src)
		if err != nil {
			return nil, err
		}

		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
		t.segments = append(t.segments, segment{source: src, program: program})
		i = end + 1
	}

	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{literal: lit.String()})
	}
	return t, nil
}

// MustParse is like Parse but panics on error.
func MustParse(markup string) *Template {
	t, err := Parse(markup)
	if err != nil {
		panic(err)
	}
	return t
}

// holeEnd returns the index of the brace closing the hole whose expression
// starts at start. Braces inside quoted strings do not count.
func holeEnd(markup string, start int) (int, error) {
	depth := 0
	var quote byte
	for i := start; i < len(markup); i++ {
		c := markup[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i, nil
			}
			depth--
		}
	}
	return 0, bangerrors.NewTemplateError(bangerrors.ErrCodeTemplateParse,
		fmt.Sprintf("unterminated expression at offset %d", start-2), nil)
}

func compile(src string) (*exprvm.Program, error) {
	program, err := exprlang.Compile(src,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, bangerrors.NewTemplateError(bangerrors.ErrCodeTemplateParse,
			fmt.Sprintf("cannot compile expression %q", src), err)
	}
	return program, nil
}

// Cook evaluates every hole against scope, resolves the values concurrently
// and splices the results between the literal segments. st is the state the
// resolver hands to function values.
func (t *Template) Cook(ctx context.Context, scope map[string]any, st any, r *resolver.Resolver) (string, error) {
	values := make([]string, len(t.segments))
	g, gctx := errgroup.WithContext(ctx)

	for i, seg := range t.segments {
		if !seg.isHole() {
			values[i] = seg.literal
			continue
		}
		g.Go(func() error {
			v, err := exprlang.Run(seg.program, scope)
			if err != nil {
				return bangerrors.NewTemplateError(bangerrors.ErrCodeTemplateEval,
					fmt.Sprintf("cannot evaluate expression %q", seg.source), err)
			}
			s, err := r.Process(gctx, v, st)
			if err != nil {
				return err
			}
			values[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(values, ""), nil
}

// Scope builds the evaluation environment for a state object. Attributes
// form the base layer; the state's fields (map keys for maps, exported
// fields for structs) override them. _self and state name the state object
// itself, or the attribute map when there is no state.
func Scope(st any, attrs map[string]string) map[string]any {
	scope := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		scope[k] = v
	}

	self := st
	switch obj := st.(type) {
	case nil:
		if attrs != nil {
			m := make(map[string]any, len(attrs))
			for k, v := range attrs {
				m[k] = v
			}
			self = m
		}
	case map[string]any:
		for k, v := range obj {
			scope[k] = v
		}
	default:
		addFields(scope, obj)
	}

	scope["_self"] = self
	scope["state"] = self
	return scope
}

func addFields(scope map[string]any, st any) {
	rv := reflect.ValueOf(st)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		scope[f.Name] = rv.Field(i).Interface()
	}
}
