// Package resolver reduces template values to strings.
//
// Process applies a fixed order of kind tests, first match wins:
//
//  1. string, including named string types
//  2. numbers, booleans and time.Time, including named scalar types
//  3. nil and nil pointers, maps, slices, channels and funcs, subject to
//     the unset policy
//  4. Pending values, awaited and resolved again
//  5. element nodes, serialized as markup
//  6. other nodes, as their text content
//  7. collections (any slice, array or iter.Seq), resolved concurrently
//     and joined with newlines
//  8. AsyncFunc, invoked and resolved again
//  9. SyncFunc, invoked for the final string
//  10. anything else, stored as state and replaced by its key
package resolver

import (
	"context"
	"iter"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/bang/internal/dom"
	bangerrors "github.com/conneroisu/bang/internal/errors"
	"github.com/conneroisu/bang/internal/state"
)

// Resolver converts values to strings against a state store.
type Resolver struct {
	store       *state.Store
	allowUnset  bool
	placeholder string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithUnset sets the unset policy. When allow is false, resolving nil fails.
func WithUnset(allow bool, placeholder string) Option {
	return func(r *Resolver) {
		r.allowUnset = allow
		r.placeholder = placeholder
	}
}

// New creates a resolver that assigns plain records keys in store.
func New(store *state.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process resolves value to a string. st is the state the surrounding
// template is cooked against and is handed to function values.
func (r *Resolver) Process(ctx context.Context, value any, st any) (string, error) {
	if isNil(value) {
		return r.unset()
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	case Pending:
		return r.await(ctx, v, st)
	case *html.Node:
		if v.Type == html.ElementNode {
			return dom.OuterHTML(v)
		}
		return dom.TextContent(v), nil
	case Collection:
		return r.all(ctx, v.Items(), st)
	case []any:
		return r.all(ctx, v, st)
	case []string:
		return strings.Join(v, "\n"), nil
	case []byte:
		return string(v), nil
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return r.all(ctx, items, st)
	case iter.Seq[any]:
		var items []any
		for item := range v {
			items = append(items, item)
		}
		return r.all(ctx, items, st)
	case AsyncFunc:
		return r.call(ctx, v, st)
	case func(context.Context, any) (any, error):
		return r.call(ctx, v, st)
	case SyncFunc:
		return v(st), nil
	case func(any) string:
		return v(st), nil
	default:
		return r.reflected(ctx, v, st)
	}
}

// reflected handles the kinds the closed switch cannot name: named scalar
// types, slices and arrays of any element type and iter.Seq of any element
// type. Everything else is a plain record.
func (r *Resolver) reflected(ctx context.Context, v any, st any) (string, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return r.all(ctx, items, st)
	case reflect.Func:
		if rv.Type().CanSeq() {
			var items []any
			for item := range rv.Seq() {
				items = append(items, item.Interface())
			}
			return r.all(ctx, items, st)
		}
	}
	return r.store.Assign(v), nil
}

// isNil reports whether v is nil or a nil pointer, map, slice, channel, func
// or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func (r *Resolver) unset() (string, error) {
	if r.allowUnset {
		return r.placeholder, nil
	}
	return "", bangerrors.NewUsageError(bangerrors.ErrCodeValueRequired,
		"value is unset and allowUnset is false")
}

func (r *Resolver) await(ctx context.Context, p Pending, st any) (string, error) {
	settled, err := p.Await(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return err.Error(), nil
	}
	return r.Process(ctx, settled, st)
}

func (r *Resolver) call(ctx context.Context, fn func(context.Context, any) (any, error), st any) (string, error) {
	result, err := fn(ctx, st)
	if err != nil {
		return "", err
	}
	return r.Process(ctx, result, st)
}

// all resolves items concurrently and joins them in their original order.
func (r *Resolver) all(ctx context.Context, items []any, st any) (string, error) {
	out := make([]string, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			s, err := r.Process(gctx, item, st)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(out, "\n"), nil
}
