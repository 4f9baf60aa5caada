package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/net/html"

	"github.com/conneroisu/bang/internal/behavior"
	"github.com/conneroisu/bang/internal/dom"
	bangerrors "github.com/conneroisu/bang/internal/errors"
	"github.com/conneroisu/bang/internal/logging"
	"github.com/conneroisu/bang/internal/template"
)

// Instance is the controller of one upgraded element. Its fields other than
// the immutable ones are guarded by the engine's tree lock.
type Instance struct {
	engine *Engine
	host   *html.Node
	shadow *html.Node
	name   string

	gen      int
	detached bool
}

func newInstance(e *Engine, host *html.Node, name string) *Instance {
	return &Instance{
		engine: e,
		host:   host,
		shadow: dom.NewFragment(),
		name:   name,
	}
}

// Name returns the component name.
func (i *Instance) Name() string { return i.name }

// Host returns the element the instance was upgraded from.
func (i *Instance) Host() *html.Node { return i.host }

// Shadow returns the instance's isolated render target.
func (i *Instance) Shadow() *html.Node { return i.shadow }

// SetVisible marks the host as ready to show.
func (i *Instance) SetVisible() {
	i.engine.domMu.Lock()
	defer i.engine.domMu.Unlock()
	dom.AddClass(i.host, ClassStyled)
}

// Rerender prints the instance again. Instances discarded by a full
// rerender ignore it.
func (i *Instance) Rerender(ctx context.Context) {
	i.engine.domMu.Lock()
	defer i.engine.domMu.Unlock()
	if i.detached {
		return
	}
	i.printLocked(ctx)
}

// printLocked starts a render. The synchronous part reads the host under
// the tree lock; fetching and cooking continue in a goroutine.
func (i *Instance) printLocked(ctx context.Context) {
	e := i.engine
	start := time.Now()
	e.counts.Start()
	e.metrics.RenderStarted()

	i.gen++
	gen := i.gen
	dom.AddClass(i.host, ClassElement)
	dom.RemoveClass(i.host, ClassStyled)

	var b behavior.Behavior = behavior.Default{}
	if def, ok := e.defs.Get(i.name); ok {
		b = def.Behavior
	}

	st, attrs, err := i.handleAttrsLocked(ctx, b.Methods())
	if err != nil {
		e.fail(ctx, i.name, err)
		e.finishLocked(i.name, start)
		return
	}

	go i.render(ctx, gen, start, b, st, attrs)
}

// handleAttrsLocked resolves the state attribute, registering the instance
// as a dependent of its key, rewrites the host's handler attributes, and
// returns the remaining attributes for the template scope.
func (i *Instance) handleAttrsLocked(ctx context.Context, methods []string) (any, map[string]string, error) {
	e := i.engine
	cfg := e.Config()

	var st any
	attrs := make(map[string]string, len(i.host.Attr))
	for _, a := range i.host.Attr {
		if a.Namespace != "" {
			continue
		}
		if a.Key == cfg.StateAttributeName {
			obj, err := e.store.ResolveToken(a.Val)
			if err != nil {
				if be, ok := err.(*bangerrors.BangError); ok {
					be.WithComponent(i.name)
				}
				return nil, nil, err
			}
			st = obj
			e.store.Track(a.Val, i)
			continue
		}
		if cfg.IsEvent(a.Key) {
			continue
		}
		attrs[a.Key] = a.Val
	}

	e.rewriteHandlers(ctx, i.host, true, methods)
	return st, attrs, nil
}

func (i *Instance) render(ctx context.Context, gen int, start time.Time, b behavior.Behavior, st any, attrs map[string]string) {
	e := i.engine
	settle := func() {
		e.domMu.Lock()
		defer e.domMu.Unlock()
		e.finishLocked(i.name, start)
	}

	// no stylesheet means nothing to wait for
	if _, err := e.cache.FetchStyle(ctx, i.name); err != nil {
		i.SetVisible()
	}

	cooked, err := i.cook(ctx, b, st, attrs)
	if err != nil {
		e.fail(ctx, i.name, err)
		settle()
		return
	}

	frag, err := dom.ParseFragment(cooked)
	if err != nil {
		e.fail(ctx, i.name, bangerrors.NewTemplateError(bangerrors.ErrCodeTemplateParse,
			"cannot parse cooked markup", err).WithComponent(i.name))
		settle()
		return
	}

	e.domMu.Lock()
	defer e.domMu.Unlock()
	defer e.finishLocked(i.name, start)

	if i.detached || gen != i.gen {
		// superseded by a later print
		return
	}

	methods := b.Methods()
	cfg := e.Config()
	dom.Walk(frag, func(n *html.Node) bool {
		if n.Type == html.ElementNode && hasHandler(n, cfg.IsEvent) {
			e.rewriteHandlers(ctx, n, false, methods)
		}
		return true
	})
	dom.ReplaceChildren(i.shadow, frag)
	e.bus.Publish(ctx, i.shadow)
}

// cook produces the final markup for one render.
func (i *Instance) cook(ctx context.Context, b behavior.Behavior, st any, attrs map[string]string) (string, error) {
	e := i.engine

	st, err := b.BeforePrint(ctx, st)
	if err != nil {
		return "", err
	}

	tmpl, err := e.cache.FetchMarkup(ctx, i.name, i)
	if err != nil {
		e.logger.Error(ctx, err, "Template error", "component", i.name)
		return "", err
	}

	cooked, err := tmpl.Cook(ctx, template.Scope(st, attrs), st, e.resolver())
	if err != nil {
		e.logger.Error(ctx, err, "Template error",
			"component", i.name,
			"markup", logging.Truncate(tmpl.Source(), 500),
			"state", logging.Truncate(fmt.Sprintf("%+v", st), 500))
		return "", err
	}

	return b.AfterPrint(ctx, cooked)
}

func hasHandler(n *html.Node, isEvent func(string) bool) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && isEvent(a.Key) {
			return true
		}
	}
	return false
}

// fail records a render failure. The instance keeps its previous content.
func (e *Engine) fail(ctx context.Context, component string, err error) {
	e.failures.Add(component, err)
	e.metrics.RenderFailed(component)
	// template errors are logged with their markup where they happen
	if !bangerrors.IsTemplateError(err) {
		e.handler.Handle(ctx, err)
	}
}

// finishLocked settles one render. When it was the last outstanding render
// the body is marked styled.
func (e *Engine) finishLocked(component string, start time.Time) {
	e.metrics.RenderFinished(component, time.Since(start))
	if !e.counts.Finish() {
		return
	}
	if e.doc == nil {
		return
	}
	if body := dom.FindElement(e.doc, "body"); body != nil && e.Config().DelayFirstPaintUntilLoaded {
		dom.AddClass(body, ClassStyled)
	}
}
