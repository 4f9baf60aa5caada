package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/conneroisu/bang/internal/behavior"
	"github.com/conneroisu/bang/internal/config"
	"github.com/conneroisu/bang/internal/dom"
	bangerrors "github.com/conneroisu/bang/internal/errors"
	"github.com/conneroisu/bang/internal/metrics"
	"github.com/conneroisu/bang/internal/source"
)

type components struct {
	*source.MemoryFetcher
}

func newComponents() components {
	return components{source.NewMemoryFetcher()}
}

func (c components) add(name, file, content string) components {
	c.Add("components/"+name+"/"+file, content)
	return c
}

func parse(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader("<!DOCTYPE html><html><head></head><body>" + body + "</body></html>"))
	require.NoError(t, err)
	return doc
}

func loaded(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Loaded(ctx))
}

func hostsNamed(e *Engine, name string) []*Instance {
	var out []*Instance
	for _, inst := range e.Instances() {
		if inst.Name() == name {
			out = append(out, inst)
		}
	}
	return out
}

func shadowHTML(t *testing.T, inst *Instance) string {
	t.Helper()
	inst.engine.domMu.Lock()
	defer inst.engine.domMu.Unlock()
	out, err := dom.InnerHTML(inst.Shadow())
	require.NoError(t, err)
	return out
}

func hostHasClass(inst *Instance, class string) bool {
	inst.engine.domMu.Lock()
	defer inst.engine.domMu.Unlock()
	return dom.HasClass(inst.Host(), class)
}

func TestMarkerBecomesRenderedComponent(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<h1>${title}</h1>")
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	doc := parse(t, `<!--my-card title="Hi"-->`)
	require.NoError(t, e.Mount(ctx, doc))
	loaded(t, e)

	cards := hostsNamed(e, "my-card")
	require.Len(t, cards, 1)
	card := cards[0]

	v, _ := dom.Attr(card.Host(), "title")
	assert.Equal(t, "Hi", v)
	assert.Equal(t, "<h1>Hi</h1>", shadowHTML(t, card))
	assert.True(t, hostHasClass(card, ClassElement))
	assert.True(t, hostHasClass(card, ClassStyled))

	out, err := e.RenderString(ctx)
	require.NoError(t, err)
	assert.Contains(t, out, `<body class="bang-el bang-styled">`)
	assert.Contains(t, out,
		`<my-card title="Hi" class="bang-el bang-styled"><template shadowrootmode="open"><h1>Hi</h1></template></my-card>`)
	assert.Empty(t, e.Failures())
}

func TestStyleIsInlined(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().
		add("my-card", "markup.html", "<p>x</p>").
		add("my-card", "style.css", "p{color:red}")
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card-->`)))
	loaded(t, e)

	card := hostsNamed(e, "my-card")[0]
	assert.Equal(t, "<style>p{color:red}</style><p>x</p>", shadowHTML(t, card))
	assert.True(t, hostHasClass(card, ClassStyled))
}

func TestMissingMarkupFallsBackToSlot(t *testing.T) {
	ctx := context.Background()
	e := New(WithFetcher(newComponents()))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card-->`)))
	loaded(t, e)

	card := hostsNamed(e, "my-card")[0]
	assert.Equal(t, "<slot></slot>", shadowHTML(t, card))
	assert.True(t, hostHasClass(card, ClassStyled))
	assert.True(t, e.Cache().StyleFailed("my-card"))
}

func TestUnregisteredTagsStayPlain(t *testing.T) {
	ctx := context.Background()
	e := New(WithFetcher(newComponents()))

	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card a=b-->`)))
	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, e.Idle(ctx2))

	assert.Empty(t, e.Instances())
	out, err := e.RenderString(ctx)
	require.NoError(t, err)
	assert.Contains(t, out, `<my-card a="b"></my-card>`)
}

func TestUseRejectsBadAndDuplicateNames(t *testing.T) {
	ctx := context.Background()
	e := New(WithFetcher(newComponents()))

	err := e.Use(ctx, "card")
	assert.ErrorIs(t, err, bangerrors.ErrInvalidName)

	require.NoError(t, e.Use(ctx, "my-card"))
	err = e.Use(ctx, "my-card")
	assert.ErrorIs(t, err, bangerrors.ErrAlreadyDefined)
}

func TestStateDrivesTemplate(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<h1>${title}</h1><p>${size}</p>")
	e := New(WithFetcher(fetcher))

	e.SetState(ctx, "card", map[string]any{"title": "From state"}, false)
	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card state="card" size="lg" title="ignored"-->`)))
	loaded(t, e)

	card := hostsNamed(e, "my-card")[0]
	assert.Equal(t, "<h1>From state</h1><p>lg</p>", shadowHTML(t, card))
}

type sizedCard struct {
	Sizes []int
	Tags  [][]any
	Label title
}

type title string

func TestStructStateCollections(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<p>${Sizes}</p><p>${Tags}</p><b>${Label}</b>")
	e := New(WithFetcher(fetcher))

	e.SetState(ctx, "card", &sizedCard{
		Sizes: []int{1, 2},
		Tags:  [][]any{{"a"}, {"b"}},
		Label: "big",
	}, false)
	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card state="card"-->`)))
	loaded(t, e)

	card := hostsNamed(e, "my-card")[0]
	assert.Equal(t, "<p>1\n2</p><p>a\nb</p><b>big</b>", shadowHTML(t, card))
}

func TestHostRewritesUnlistedHandlers(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", `<i onswipe="go">i</i>`)
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card onswipe="go"-->`)))
	loaded(t, e)

	card := hostsNamed(e, "my-card")[0]
	v, _ := dom.Attr(card.Host(), "onswipe")
	assert.Equal(t, "this.go(event)", v)
	assert.Equal(t, `<i onswipe="go">i</i>`, shadowHTML(t, card))
}

func TestSetStateRerendersOnlyDependents(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<b>${title}</b>")

	var mu sync.Mutex
	seen := map[string]int{}
	b := behavior.Funcs{Before: func(_ context.Context, st any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		seen[st.(map[string]any)["title"].(string)]++
		return st, nil
	}}

	e := New(WithFetcher(fetcher))
	e.SetState(ctx, "a", map[string]any{"title": "A"}, false)
	e.SetState(ctx, "b", map[string]any{"title": "B"}, false)
	require.NoError(t, e.UseBehavior(ctx, "my-card", b))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card state="a"--><!--my-card state="b"-->`)))
	loaded(t, e)

	started, _ := e.Counts().Snapshot()
	assert.Equal(t, int64(2), started)

	e.SetState(ctx, "a", map[string]any{"title": "A2"}, false)
	loaded(t, e)

	started, finished := e.Counts().Snapshot()
	assert.Equal(t, int64(3), started)
	assert.Equal(t, started, finished)

	mu.Lock()
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "A2": 1}, seen)
	mu.Unlock()

	var texts []string
	for _, inst := range hostsNamed(e, "my-card") {
		texts = append(texts, shadowHTML(t, inst))
	}
	assert.ElementsMatch(t, []string{"<b>A2</b>", "<b>B</b>"}, texts)
}

func TestSetStateRerenderAll(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<b>${title}</b>")
	e := New(WithFetcher(fetcher))

	e.SetState(ctx, "a", map[string]any{"title": "A"}, false)
	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<div><!--my-card state="a"--></div>`)))
	loaded(t, e)
	before := hostsNamed(e, "my-card")
	require.Len(t, before, 1)

	e.SetState(ctx, "a", map[string]any{"title": "Z"}, true)
	loaded(t, e)

	after := hostsNamed(e, "my-card")
	require.Len(t, after, 1)
	assert.NotSame(t, before[0], after[0])
	assert.NotSame(t, before[0].Host(), after[0].Host())
	assert.Equal(t, "<b>Z</b>", shadowHTML(t, after[0]))
}

func TestSetAttributeReprints(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<b>${title}</b>")
	e := New(WithFetcher(fetcher))

	e.SetState(ctx, "a", map[string]any{"title": "A"}, false)
	e.SetState(ctx, "b", map[string]any{"title": "B"}, false)
	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card state="a"-->`)))
	loaded(t, e)

	card := hostsNamed(e, "my-card")[0]
	e.SetAttribute(ctx, card.Host(), "state", "b")
	loaded(t, e)
	assert.Equal(t, "<b>B</b>", shadowHTML(t, card))

	// other attributes do not print
	started, _ := e.Counts().Snapshot()
	e.SetAttribute(ctx, card.Host(), "title", "x")
	again, _ := e.Counts().Snapshot()
	assert.Equal(t, started, again)
}

func TestUnsetStateIsRecordedAndSettles(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<b>x</b>")
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card state="missing"-->`)))
	loaded(t, e)

	failures := e.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "my-card", failures[0].Component)
	assert.ErrorIs(t, failures[0].Err, bangerrors.ErrStateUnset)

	card := hostsNamed(e, "my-card")[0]
	assert.Empty(t, shadowHTML(t, card))
}

func TestUnsetHoleFails(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<b>${missing}</b>")
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card-->`)))
	loaded(t, e)

	failures := e.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, bangerrors.ErrValueRequired)
	assert.Empty(t, shadowHTML(t, hostsNamed(e, "my-card")[0]))
}

func TestAllowUnsetUsesPlaceholder(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<b>${missing}</b>")
	cfg := config.Default()
	cfg.AllowUnset = true
	cfg.UnsetPlaceholder = "?"
	e := New(WithFetcher(fetcher), WithConfig(cfg))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card-->`)))
	loaded(t, e)

	assert.Equal(t, "<b>?</b>", shadowHTML(t, hostsNamed(e, "my-card")[0]))
}

func TestHandlerAttributesAreRewritten(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html",
		`<button onclick="open">o</button><a onclick="close()">c</a><i title="t">i</i>`)
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card onclick="toggle"-->`)))
	loaded(t, e)

	card := hostsNamed(e, "my-card")[0]
	v, _ := dom.Attr(card.Host(), "onclick")
	assert.Equal(t, "this.toggle(event)", v)
	assert.Equal(t,
		`<button onclick="this.getRootNode().host.open(event)">o</button>`+
			`<a onclick="this.getRootNode().host.close()">c</a><i title="t">i</i>`,
		shadowHTML(t, card))
}

func TestNoHandlerPassthrough(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", `<button onclick="open">o</button>`)
	e := New(WithFetcher(fetcher))
	require.NoError(t, e.Configure(map[string]any{"noHandlerPassthrough": true}))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card onclick="toggle"-->`)))
	loaded(t, e)

	card := hostsNamed(e, "my-card")[0]
	v, _ := dom.Attr(card.Host(), "onclick")
	assert.Equal(t, "toggle", v)
	assert.Equal(t, `<button onclick="open">o</button>`, shadowHTML(t, card))
}

func TestScriptBehavior(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().
		add("my-card", "markup.html", "<b>${title}</b>").
		add("my-card", "script.js", `{
			methods: ["open"],
			beforePrint: function (s) { return { title: "scripted" }; },
			afterPrint: function (m) { return m + "<i>after</i>"; }
		};`)
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	def, ok := e.Definitions().Get("my-card")
	require.True(t, ok)
	assert.True(t, def.Scripted)
	assert.Equal(t, []string{"open"}, def.Behavior.Methods())

	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card-->`)))
	loaded(t, e)
	assert.Equal(t, "<b>scripted</b><i>after</i>", shadowHTML(t, hostsNamed(e, "my-card")[0]))
}

func TestInvalidScriptFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().
		add("my-card", "markup.html", "<b>plain</b>").
		add("my-card", "script.js", `42`)
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	def, _ := e.Definitions().Get("my-card")
	assert.False(t, def.Scripted)
	assert.Equal(t, behavior.Default{}, def.Behavior)
}

func TestNestedComponentsInShadow(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().
		add("my-list", "markup.html", `<ul><!--my-item label="One"--></ul>`).
		add("my-item", "markup.html", `<li>${label}</li>`)
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-list"))
	require.NoError(t, e.Use(ctx, "my-item"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-list-->`)))

	require.Eventually(t, func() bool {
		items := hostsNamed(e, "my-item")
		return len(items) == 1 && shadowHTML(t, items[0]) == "<li>One</li>"
	}, 5*time.Second, 10*time.Millisecond)
	loaded(t, e)

	out, err := e.RenderString(ctx)
	require.NoError(t, err)
	assert.Contains(t, out,
		`<template shadowrootmode="open"><ul><my-item label="One" class="bang-el bang-styled">`+
			`<template shadowrootmode="open"><li>One</li></template></my-item></ul></template>`)
}

func TestUseDiscovered(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().
		add("my-list", "markup.html", `<ul><!--my-item label="One"--></ul>`).
		add("my-item", "markup.html", `<li>${label}</li>`)
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-list-->`)))
	used, err := e.UseDiscovered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"my-list", "my-item"}, used)
	assert.Len(t, hostsNamed(e, "my-item"), 1)
}

func TestInsertUpgradesNewMarkup(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<b>${n}</b>")
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	doc := parse(t, `<main></main>`)
	require.NoError(t, e.Mount(ctx, doc))

	main := dom.FindElement(doc, "main")
	require.NoError(t, e.Insert(ctx, main, `<!--my-card n=1--><my-card n="2"></my-card>`))
	loaded(t, e)

	var texts []string
	for _, inst := range hostsNamed(e, "my-card") {
		texts = append(texts, shadowHTML(t, inst))
	}
	assert.ElementsMatch(t, []string{"<b>1</b>", "<b>2</b>"}, texts)
}

func TestLoadedWaitsForFirstRender(t *testing.T) {
	e := New(WithFetcher(newComponents()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Loaded(ctx), context.DeadlineExceeded)
}

func TestBodyHiddenUntilLoaded(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	fetcher := &gatedFetcher{inner: newComponents().add("my-card", "markup.html", "<b>x</b>"), gate: gate}
	e := New(WithFetcher(fetcher))

	require.NoError(t, e.Use(ctx, "my-card"))
	doc := parse(t, `<!--my-card-->`)
	require.NoError(t, e.Mount(ctx, doc))

	e.domMu.Lock()
	body := dom.FindElement(doc, "body")
	assert.True(t, dom.HasClass(body, ClassElement))
	assert.False(t, dom.HasClass(body, ClassStyled))
	e.domMu.Unlock()

	close(gate)
	loaded(t, e)

	e.domMu.Lock()
	assert.True(t, dom.HasClass(body, ClassStyled))
	e.domMu.Unlock()
}

type gatedFetcher struct {
	inner source.Fetcher
	gate  chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, p string) (source.Response, error) {
	<-f.gate
	return f.inner.Fetch(ctx, p)
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
	last any
}

func (s *recordingSink) Publish(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.last = value
	return nil
}

func TestSnapshotSinkReceivesCopies(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e := New(WithFetcher(newComponents()), WithSnapshotSink(sink))

	value := map[string]any{"title": "A"}
	e.SetState(ctx, "card", value, false)
	value["title"] = "mutated"

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"card"}, sink.keys)
	assert.Equal(t, map[string]any{"title": "A"}, sink.last)
}

func TestCloneState(t *testing.T) {
	ctx := context.Background()
	e := New(WithFetcher(newComponents()))
	e.SetState(ctx, "k", map[string]any{"n": "1"}, false)

	clone, err := e.CloneState("k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": "1"}, clone)

	_, err = e.CloneState("nope")
	assert.ErrorIs(t, err, bangerrors.ErrStateNotFound)
}

func TestMetricsAreRecorded(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewCollector()
	fetcher := newComponents().add("my-card", "markup.html", "<b>x</b>")
	e := New(WithFetcher(fetcher), WithMetrics(m))

	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card--><!--my-card-->`)))
	loaded(t, e)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var started float64
	for _, f := range families {
		if f.GetName() == "bang_renders_started_total" {
			started = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), started)
}

func TestConcurrentRerenders(t *testing.T) {
	ctx := context.Background()
	fetcher := newComponents().add("my-card", "markup.html", "<b>${n}</b>")
	e := New(WithFetcher(fetcher))

	e.SetState(ctx, "k", map[string]any{"n": "0"}, false)
	require.NoError(t, e.Use(ctx, "my-card"))
	require.NoError(t, e.Mount(ctx, parse(t, `<!--my-card state="k"-->`)))

	var wg sync.WaitGroup
	var calls atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calls.Add(1)
			e.SetState(ctx, "k", map[string]any{"n": "last"}, false)
		}()
	}
	wg.Wait()
	loaded(t, e)

	assert.Equal(t, int32(8), calls.Load())
	started, finished := e.Counts().Snapshot()
	assert.Equal(t, started, finished)
	assert.Equal(t, "<b>last</b>", shadowHTML(t, hostsNamed(e, "my-card")[0]))
}

func TestRenderWithoutDocument(t *testing.T) {
	e := New(WithFetcher(newComponents()))
	_, err := e.RenderString(context.Background())
	assert.True(t, bangerrors.IsUsageError(err))
}
