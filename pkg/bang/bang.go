// Package bang is the process-wide entry point to the engine. It mirrors
// the page-level API: Use registers components, SetState and CloneState
// manage shared state, Configure overlays options and Loaded waits for the
// page to settle.
//
// Programs that need several independent documents should create engines
// with internal/engine directly; this package holds a single default one.
package bang

import (
	"context"
	"io"
	"sync"

	"golang.org/x/net/html"

	"github.com/conneroisu/bang/internal/behavior"
	"github.com/conneroisu/bang/internal/engine"
)

var (
	mu      sync.Mutex
	current *engine.Engine
)

// Default returns the process-wide engine, creating it on first use.
func Default() *engine.Engine {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = engine.New()
	}
	return current
}

// SetDefault replaces the process-wide engine. Use it before anything else
// to supply a fetcher, logger or configuration.
func SetDefault(e *engine.Engine) {
	mu.Lock()
	defer mu.Unlock()
	current = e
}

// Mount installs the default engine on doc.
func Mount(ctx context.Context, doc *html.Node) error {
	return Default().Mount(ctx, doc)
}

// Use registers the component name.
func Use(ctx context.Context, name string) error {
	return Default().Use(ctx, name)
}

// UseBehavior registers name with a Go behavior.
func UseBehavior(ctx context.Context, name string, b behavior.Behavior) error {
	return Default().UseBehavior(ctx, name, b)
}

// Configure shallow-merges recognized options into the configuration.
func Configure(options map[string]any) error {
	return Default().Configure(options)
}

// SetState stores value under key and re-renders its dependents, or the
// whole body with rerenderAll.
func SetState(ctx context.Context, key string, value any, rerenderAll bool) {
	Default().SetState(ctx, key, value, rerenderAll)
}

// CloneState returns a deep copy of the state under key.
func CloneState(key string) (any, error) {
	return Default().CloneState(key)
}

// Loaded blocks until every started render has finished.
func Loaded(ctx context.Context) error {
	return Default().Loaded(ctx)
}

// Render writes the mounted document with declarative shadow roots.
func Render(ctx context.Context, w io.Writer) error {
	return Default().Render(ctx, w)
}
