// Package engine runs bang over a parsed HTML document. Marker comments are
// turned into elements, registered elements are upgraded into component
// instances, and each instance renders its cooked markup into its own shadow
// root.
//
// All tree mutation happens under one lock. Fetching and cooking run in a
// goroutine per render and take the lock only to swap the result in.
package engine

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/conneroisu/bang/internal/behavior"
	"github.com/conneroisu/bang/internal/cache"
	"github.com/conneroisu/bang/internal/config"
	"github.com/conneroisu/bang/internal/discovery"
	"github.com/conneroisu/bang/internal/dom"
	bangerrors "github.com/conneroisu/bang/internal/errors"
	"github.com/conneroisu/bang/internal/logging"
	"github.com/conneroisu/bang/internal/metrics"
	"github.com/conneroisu/bang/internal/registry"
	"github.com/conneroisu/bang/internal/resolver"
	"github.com/conneroisu/bang/internal/source"
	"github.com/conneroisu/bang/internal/state"
)

const (
	// ClassElement marks a component host.
	ClassElement = "bang-el"
	// ClassStyled marks a host, or the body, as ready to show.
	ClassStyled = "bang-styled"
)

// funcCall matches handler values that already end in a call.
var funcCall = regexp.MustCompile(`\);?$`)

// SnapshotSink receives a copy of every value written with SetState.
type SnapshotSink interface {
	Publish(ctx context.Context, key string, value any) error
}

// Engine is a bang runtime bound to at most one document at a time.
type Engine struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	logger   logging.Logger
	fetcher  source.Fetcher
	store    *state.Store
	cache    *cache.Cache
	defs     *registry.DefinitionRegistry
	pipeline *discovery.Pipeline
	bus      *discovery.Bus
	metrics  *metrics.Collector
	sink     SnapshotSink
	failures *bangerrors.ErrorCollector
	handler  *bangerrors.ErrorHandler
	counts   *Counts

	domMu     sync.Mutex
	doc       *html.Node
	instances map[*html.Node]*Instance
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithFetcher sets where component files come from. The default reads the
// working directory.
func WithFetcher(f source.Fetcher) Option {
	return func(e *Engine) {
		e.fetcher = f
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithStore shares a state store between engines.
func WithStore(s *state.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithMetrics records render and fetch metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSnapshotSink publishes state snapshots after SetState.
func WithSnapshotSink(s SnapshotSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		bus:       discovery.NewBus(),
		defs:      registry.NewDefinitionRegistry(),
		failures:  bangerrors.NewErrorCollector(),
		counts:    newCounts(),
		instances: make(map[*html.Node]*Instance),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = config.Default()
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	e.logger = e.logger.WithComponent("engine")
	e.handler = bangerrors.NewErrorHandler(e.logger)
	if e.fetcher == nil {
		e.fetcher = source.NewFSFetcher(os.DirFS("."))
	}
	if e.store == nil {
		e.store = state.NewStore(state.WithOwnKeyName(e.cfg.OwnKeyName))
	}

	cacheOpts := []cache.Option{cache.WithLogger(e.logger)}
	if e.metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithRecorder(e.metrics))
	}
	e.cache = cache.New(e.fetcher, layoutOf(e.cfg), cacheOpts...)

	e.pipeline = discovery.NewPipeline(discovery.WithErrorHandler(func(marker *html.Node, err error) {
		e.logger.Warn(context.Background(), err, "cannot transform marker", "marker", marker.Data)
	}))
	e.bus.Subscribe(e.onSubtreeChanged)
	return e
}

func layoutOf(cfg *config.Config) cache.Layout {
	return cache.Layout{
		ComponentsPath: cfg.ComponentsPath,
		HTMLFile:       cfg.HTMLFile,
		StyleFile:      cfg.StyleFile,
		ScriptFile:     cfg.ScriptFile,
	}
}

// Config returns the current configuration.
func (e *Engine) Config() *config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Configure shallow-merges recognized options into the configuration.
func (e *Engine) Configure(options map[string]any) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	merged, err := config.Merge(e.cfg, options)
	if err != nil {
		return err
	}
	e.cfg = merged
	e.cache.SetLayout(layoutOf(merged))
	e.store.SetOwnKeyName(merged.OwnKeyName)
	return nil
}

// Store returns the engine's state store.
func (e *Engine) Store() *state.Store { return e.store }

// Cache returns the engine's component cache.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Definitions returns the engine's definition registry.
func (e *Engine) Definitions() *registry.DefinitionRegistry { return e.defs }

// Bus returns the subtree-changed bus. Publishing requires holding the tree
// lock, which only the engine does; external code should Watch.
func (e *Engine) Bus() *discovery.Bus { return e.bus }

// Counts returns the render counters.
func (e *Engine) Counts() *Counts { return e.counts }

// Failures returns the render failures recorded so far.
func (e *Engine) Failures() []bangerrors.RenderFailure { return e.failures.Failures() }

func (e *Engine) resolver() *resolver.Resolver {
	cfg := e.Config()
	return resolver.New(e.store, resolver.WithUnset(cfg.AllowUnset, cfg.UnsetPlaceholder))
}

// Mount installs the engine on doc: markers are transformed, registered
// elements upgraded, and with delayFirstPaintUntilLoaded the body is hidden
// until every render has settled.
func (e *Engine) Mount(ctx context.Context, doc *html.Node) error {
	if doc == nil {
		return bangerrors.NewUsageError(bangerrors.ErrCodeValueRequired, "cannot mount a nil document")
	}

	e.domMu.Lock()
	defer e.domMu.Unlock()

	e.doc = doc
	if body := dom.FindElement(doc, "body"); body != nil && e.Config().DelayFirstPaintUntilLoaded {
		dom.AddClass(body, ClassElement)
	}
	e.bus.Publish(ctx, doc)
	return nil
}

// Document returns the mounted document.
func (e *Engine) Document() *html.Node {
	e.domMu.Lock()
	defer e.domMu.Unlock()
	return e.doc
}

// onSubtreeChanged transforms new markers under the changed root and
// upgrades registered elements. It runs with domMu held.
func (e *Engine) onSubtreeChanged(ctx context.Context, event discovery.Event) {
	e.pipeline.Scan(event.Root)
	e.upgradeTreeLocked(ctx, event.Root, "")
}

// Use registers a component type. The component's script, when present and
// valid, supplies its behavior; otherwise the default behavior is used.
func (e *Engine) Use(ctx context.Context, name string) error {
	if !discovery.IsComponentName(name) {
		return bangerrors.NewUsageError(bangerrors.ErrCodeInvalidName,
			fmt.Sprintf("%q is not a valid component name, it needs a hyphen between word characters", name))
	}
	if _, exists := e.defs.Get(name); exists {
		return bangerrors.NewUsageError(bangerrors.ErrCodeAlreadyDefined,
			fmt.Sprintf("component %s is already defined", name)).WithComponent(name)
	}

	def := &registry.Definition{Name: name, Behavior: behavior.Default{}}
	if script, err := e.cache.FetchScript(ctx, name); err != nil {
		e.logger.Debug(ctx, "no behavior script, using default", "component", name, "error", err)
	} else if b, err := behavior.Compile(name, script); err != nil {
		e.logger.Debug(ctx, "invalid behavior script, using default", "component", name, "error", err)
	} else {
		def.Behavior = b
		def.Scripted = true
	}

	return e.define(ctx, def)
}

// UseBehavior registers name with a Go behavior, or replaces the behavior of
// an already registered name. Instances pick it up on their next render.
func (e *Engine) UseBehavior(ctx context.Context, name string, b behavior.Behavior) error {
	if b == nil {
		b = behavior.Default{}
	}
	if _, exists := e.defs.Get(name); exists {
		return e.defs.SetBehavior(name, b)
	}
	return e.define(ctx, &registry.Definition{Name: name, Behavior: b})
}

// UseDiscovered registers every component tag found in the mounted document
// or in rendered shadow roots, repeating after each settle until no new name
// turns up. It returns the names it registered.
func (e *Engine) UseDiscovered(ctx context.Context) ([]string, error) {
	var used []string
	for {
		if err := e.Idle(ctx); err != nil {
			return used, err
		}

		e.domMu.Lock()
		names := e.undefinedTagsLocked()
		e.domMu.Unlock()
		if len(names) == 0 {
			return used, nil
		}

		for _, name := range names {
			if err := e.Use(ctx, name); err != nil {
				return used, err
			}
			used = append(used, name)
		}
	}
}

func (e *Engine) undefinedTagsLocked() []string {
	if e.doc == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		dom.Walk(n, func(c *html.Node) bool {
			if c.Type != html.ElementNode {
				return true
			}
			if inst, ok := e.instances[c]; ok {
				collect(inst.shadow)
			}
			if seen[c.Data] || !discovery.IsComponentName(c.Data) {
				return true
			}
			seen[c.Data] = true
			if _, ok := e.defs.Get(c.Data); !ok {
				names = append(names, c.Data)
			}
			return true
		})
	}
	collect(e.doc)
	return names
}

func (e *Engine) define(ctx context.Context, def *registry.Definition) error {
	if err := e.defs.Define(def, discovery.IsComponentName); err != nil {
		return err
	}
	e.logger.Debug(ctx, "component defined", "component", def.Name, "scripted", def.Scripted)

	e.domMu.Lock()
	defer e.domMu.Unlock()
	if e.doc != nil {
		e.upgradeTreeLocked(ctx, e.doc, def.Name)
	}
	return nil
}

// upgradeTreeLocked upgrades every registered element under root, looking
// into the shadow roots of existing instances too. A non-empty only limits
// the pass to that tag.
func (e *Engine) upgradeTreeLocked(ctx context.Context, root *html.Node, only string) {
	var hosts []*html.Node
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		dom.Walk(n, func(c *html.Node) bool {
			if c.Type != html.ElementNode {
				return true
			}
			if inst, ok := e.instances[c]; ok {
				collect(inst.shadow)
				return true
			}
			if only != "" && c.Data != only {
				return true
			}
			if _, ok := e.defs.Get(c.Data); ok {
				hosts = append(hosts, c)
			}
			return true
		})
	}
	collect(root)

	for _, host := range hosts {
		e.upgradeLocked(ctx, host)
	}
}

// upgradeLocked constructs the instance for host and starts its first
// render.
func (e *Engine) upgradeLocked(ctx context.Context, host *html.Node) {
	if _, ok := e.instances[host]; ok {
		return
	}
	def, ok := e.defs.Get(host.Data)
	if !ok {
		return
	}
	inst := newInstance(e, host, def.Name)
	e.instances[host] = inst
	e.logger.Debug(ctx, "component constructed", "component", def.Name)
	inst.printLocked(ctx)
}

// Instance returns the instance upgraded from host.
func (e *Engine) Instance(host *html.Node) (*Instance, bool) {
	e.domMu.Lock()
	defer e.domMu.Unlock()
	inst, ok := e.instances[host]
	return inst, ok
}

// Instances returns every live instance.
func (e *Engine) Instances() []*Instance {
	e.domMu.Lock()
	defer e.domMu.Unlock()
	out := make([]*Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, inst)
	}
	return out
}

// Insert parses markup and appends it to parent, then discovers and upgrades
// whatever it contains.
func (e *Engine) Insert(ctx context.Context, parent *html.Node, markup string) error {
	frag, err := dom.ParseFragment(markup)
	if err != nil {
		return bangerrors.NewTemplateError(bangerrors.ErrCodeTemplateParse, "cannot parse inserted markup", err).
			WithContext("markup", logging.Truncate(markup, 200))
	}

	e.domMu.Lock()
	defer e.domMu.Unlock()
	for _, c := range dom.Children(frag) {
		frag.RemoveChild(c)
		parent.AppendChild(c)
	}
	e.bus.Publish(ctx, parent)
	return nil
}

// SetAttribute sets an attribute on el. Changing the state attribute of an
// instance from an existing value re-renders it.
func (e *Engine) SetAttribute(ctx context.Context, el *html.Node, name, value string) {
	e.domMu.Lock()
	defer e.domMu.Unlock()

	_, had := dom.SetAttr(el, name, value)
	if name != e.Config().StateAttributeName || !had {
		return
	}
	if inst, ok := e.instances[el]; ok {
		e.logger.Debug(ctx, "state attribute changed, printing", "component", inst.name, "state", value)
		inst.printLocked(ctx)
	}
}

// SetState stores value under key and re-renders. With rerenderAll the whole
// body is rebuilt; otherwise only the dependents of key render again.
func (e *Engine) SetState(ctx context.Context, key string, value any, rerenderAll bool) {
	e.store.Set(key, value)
	e.publishSnapshot(ctx, key, value)

	if rerenderAll && e.rerenderAll(ctx) {
		return
	}
	n := e.store.Trigger(ctx, key)
	e.logger.Debug(ctx, "state set", "key", key, "dependents", n)
}

func (e *Engine) publishSnapshot(ctx context.Context, key string, value any) {
	if e.sink == nil {
		return
	}
	snapshot, err := state.DeepCopy(value)
	if err != nil {
		e.logger.Warn(ctx, err, "cannot snapshot state", "key", key)
		return
	}
	if err := e.sink.Publish(ctx, key, snapshot); err != nil {
		e.logger.Warn(ctx, err, "cannot publish state snapshot", "key", key)
	}
}

// CloneState returns a deep copy of the state under key.
func (e *Engine) CloneState(key string) (any, error) {
	return e.store.Clone(key)
}

// rerenderAll rebuilds the body from its own markup. It reports false when
// there is no body to rebuild.
func (e *Engine) rerenderAll(ctx context.Context) bool {
	e.domMu.Lock()
	defer e.domMu.Unlock()

	if e.doc == nil {
		return false
	}
	body := dom.FindElement(e.doc, "body")
	if body == nil {
		return false
	}

	dom.Walk(e.doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n != body {
			dom.RemoveClass(n, ClassStyled)
		}
		return true
	})

	markup, err := dom.InnerHTML(body)
	if err != nil {
		e.logger.Error(ctx, err, "cannot serialize body for rerender")
		return true
	}
	frag, err := dom.ParseFragment(markup)
	if err != nil {
		e.logger.Error(ctx, err, "cannot parse body for rerender")
		return true
	}

	for host, inst := range e.instances {
		if isDescendant(host, body) {
			inst.detached = true
			delete(e.instances, host)
		}
	}
	dom.ReplaceChildren(body, frag)
	e.logger.Debug(ctx, "rerendering all components")
	e.bus.Publish(ctx, body)
	return true
}

func isDescendant(n, ancestor *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// Loaded blocks until at least one render has started and every started
// render has finished.
func (e *Engine) Loaded(ctx context.Context) error {
	return e.counts.Wait(ctx, false)
}

// Idle is like Loaded but also returns when nothing was ever rendered.
func (e *Engine) Idle(ctx context.Context) error {
	return e.counts.Wait(ctx, true)
}

// rewriteHandlers points handler attributes at the component: the host's
// own methods through this., a shadow descendant's through its root's host.
func (e *Engine) rewriteHandlers(ctx context.Context, n *html.Node, isHost bool, methods []string) {
	cfg := e.Config()
	if cfg.NoHandlerPassthrough {
		return
	}
	prefix := "this.getRootNode().host."
	if isHost {
		prefix = "this."
	}
	for i, a := range n.Attr {
		// every on* attribute of the host; only listed events inside the shadow
		if a.Namespace != "" || !strings.HasPrefix(a.Key, "on") || (!isHost && !cfg.IsEvent(a.Key)) {
			continue
		}
		value := strings.TrimSpace(a.Val)
		if value == "" || strings.HasPrefix(value, prefix) {
			continue
		}
		ender := "(event)"
		if funcCall.MatchString(value) {
			ender = ""
		}
		if len(methods) > 0 && !knownMethod(value, methods) {
			e.logger.Debug(ctx, "handler names an unknown method", "attribute", a.Key, "value", value)
		}
		n.Attr[i].Val = prefix + value + ender
	}
}

func knownMethod(value string, methods []string) bool {
	name := value
	if i := strings.IndexAny(value, "(. "); i >= 0 {
		name = value[:i]
	}
	for _, m := range methods {
		if m == name {
			return true
		}
	}
	return false
}
