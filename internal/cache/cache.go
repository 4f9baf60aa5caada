// Package cache fetches component files and keeps them for the lifetime of
// the cache. Each file is fetched at most once; concurrent callers for the
// same file share the one in-flight fetch. Failed fetches are cached too and
// never retried.
package cache

import (
	"context"
	"fmt"
	"path"
	"sync"

	"golang.org/x/sync/singleflight"

	bangerrors "github.com/conneroisu/bang/internal/errors"
	"github.com/conneroisu/bang/internal/logging"
	"github.com/conneroisu/bang/internal/source"
	"github.com/conneroisu/bang/internal/template"
)

// slotMarkup stands in for markup that could not be fetched so the host's
// children are shown instead.
const slotMarkup = "<slot></slot>"

// Layout names the files of a component folder.
type Layout struct {
	ComponentsPath string
	HTMLFile       string
	StyleFile      string
	ScriptFile     string
}

// Visibler is told when a component no longer needs to wait for its style.
type Visibler interface {
	SetVisible()
}

// FetchRecorder observes fetches that actually reach the source.
type FetchRecorder interface {
	Fetched(file string)
}

type entry struct {
	text string
	tmpl *template.Template
	err  error
}

// Cache is the component file cache. It is safe for concurrent use.
type Cache struct {
	fetcher  source.Fetcher
	logger   logging.Logger
	recorder FetchRecorder

	mu      sync.RWMutex
	layout  Layout
	entries map[string]entry
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithRecorder sets an observer for fetches.
func WithRecorder(r FetchRecorder) Option {
	return func(c *Cache) {
		c.recorder = r
	}
}

// New creates a cache reading component files through fetcher.
func New(fetcher source.Fetcher, layout Layout, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		logger:  logging.NewNop(),
		layout:  layout,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("cache")
	return c
}

// SetLayout changes the file names used for later fetches. Entries already
// cached stay as they are.
func (c *Cache) SetLayout(layout Layout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layout = layout
}

// Layout returns the current file layout.
func (c *Cache) Layout() Layout {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.layout
}

// URL returns the location of file within the component folder of name.
func (c *Cache) URL(name, file string) string {
	return path.Join(c.Layout().ComponentsPath, name, file)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// once returns the cached entry for key, running load exactly once across
// all callers. The load runs detached from the caller's cancellation so a
// canceled caller does not leave a cancellation cached for everyone else.
func (c *Cache) once(ctx context.Context, key string, load func(context.Context) entry) entry {
	if e, ok := c.lookup(key); ok {
		return e
	}
	v, _, _ := c.group.Do(key, func() (any, error) {
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		e := load(context.WithoutCancel(ctx))
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		return e, nil
	})
	return v.(entry)
}

func (c *Cache) fetch(ctx context.Context, name, file string) (source.Response, string, error) {
	url := c.URL(name, file)
	if c.recorder != nil {
		c.recorder.Fetched(file)
	}
	resp, err := c.fetcher.Fetch(ctx, url)
	return resp, url, err
}

// FetchFile returns the text of file in the component folder of name.
func (c *Cache) FetchFile(ctx context.Context, name, file string) (string, error) {
	e := c.once(ctx, file+":"+name, func(ctx context.Context) entry {
		resp, url, err := c.fetch(ctx, name, file)
		if err != nil {
			return entry{err: bangerrors.NewResourceError(bangerrors.ErrCodeFetchFailed,
				fmt.Sprintf("Fetch error: %s", url), err).WithComponent(name)}
		}
		if !resp.OK {
			return entry{err: bangerrors.NewResourceError(bangerrors.ErrCodeFetchFailed,
				fmt.Sprintf("Fetch error: %s, %s", url, resp.Status), nil).WithComponent(name)}
		}
		return entry{text: resp.Body}
	})
	return e.text, e.err
}

// FetchStyle returns the component's stylesheet.
func (c *Cache) FetchStyle(ctx context.Context, name string) (string, error) {
	return c.FetchFile(ctx, name, c.Layout().StyleFile)
}

// FetchScript returns the component's behavior script.
func (c *Cache) FetchScript(ctx context.Context, name string) (string, error) {
	return c.FetchFile(ctx, name, c.Layout().ScriptFile)
}

// FetchMarkup returns the component's parsed markup template. Markup that
// cannot be fetched becomes a slot. A fetched stylesheet is inlined ahead of
// the markup; a missing one is left out. Either way v is marked visible,
// since nothing remains to wait for.
func (c *Cache) FetchMarkup(ctx context.Context, name string, v Visibler) (*template.Template, error) {
	e := c.once(ctx, "markup:"+name, func(ctx context.Context) entry {
		text := slotMarkup
		resp, url, err := c.fetch(ctx, name, c.Layout().HTMLFile)
		switch {
		case err != nil:
			c.logger.Debug(ctx, "markup fetch failed, using slot", "url", url, "error", err)
		case !resp.OK:
			c.logger.Debug(ctx, "markup not found, using slot", "url", url, "status", resp.Status)
		default:
			text = resp.Body
		}

		if style, err := c.FetchStyle(ctx, name); err == nil {
			text = "<style>" + style + "</style>" + text
		} else {
			c.logger.Debug(ctx, "no stylesheet", "component", name, "error", err)
		}

		tmpl, err := template.Parse(text)
		if err != nil {
			if be, ok := err.(*bangerrors.BangError); ok {
				err = be.WithComponent(name).WithContext("markup", logging.Truncate(text, 200))
			}
			return entry{text: text, err: err}
		}
		return entry{text: text, tmpl: tmpl}
	})

	if v != nil {
		v.SetVisible()
	}
	return e.tmpl, e.err
}

// StyleFailed reports whether the stylesheet of name is cached as missing.
func (c *Cache) StyleFailed(name string) bool {
	e, ok := c.lookup(c.Layout().StyleFile + ":" + name)
	return ok && e.err != nil
}
