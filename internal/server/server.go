// Package server serves bang pages with their components expanded and
// reloads connected browsers when page or component files change.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/html"

	"github.com/conneroisu/bang/internal/config"
	"github.com/conneroisu/bang/internal/engine"
	"github.com/conneroisu/bang/internal/logging"
	"github.com/conneroisu/bang/internal/metrics"
	"github.com/conneroisu/bang/internal/source"
	"github.com/conneroisu/bang/internal/version"
	"github.com/conneroisu/bang/internal/watcher"
)

// renderTimeout bounds how long one page may take to settle.
const renderTimeout = 30 * time.Second

// reloadScript reconnects after restarts and reloads on every update.
const reloadScript = `<script>
(function () {
  function connect() {
    var protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
    var ws = new WebSocket(protocol + '//' + window.location.host + '/ws');
    ws.onmessage = function (event) {
      if (JSON.parse(event.data).type === 'reload') { window.location.reload(); }
    };
    ws.onclose = function () { setTimeout(connect, 2000); };
  }
  connect();
})();
</script>`

// PreviewServer renders pages from a directory with a fresh engine per
// request.
type PreviewServer struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Collector
	pages   fs.FS
	fetcher source.Fetcher
	sink    engine.SnapshotSink
	state   map[string]any
	hub     *Hub

	serverMutex sync.RWMutex
	httpServer  *http.Server
}

// Option configures a PreviewServer.
type Option func(*PreviewServer)

// WithLogger sets the server logger.
func WithLogger(l logging.Logger) Option {
	return func(s *PreviewServer) {
		s.logger = l
	}
}

// WithMetrics records render metrics and exposes them at /metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *PreviewServer) {
		s.metrics = m
	}
}

// WithPages serves pages and component files from fsys instead of the
// configured pages directory.
func WithPages(fsys fs.FS) Option {
	return func(s *PreviewServer) {
		s.pages = fsys
	}
}

// WithState seeds every request's store. Keys are client tokens.
func WithState(state map[string]any) Option {
	return func(s *PreviewServer) {
		s.state = state
	}
}

// WithSnapshotSink publishes the seeded state of every request.
func WithSnapshotSink(sink engine.SnapshotSink) Option {
	return func(s *PreviewServer) {
		s.sink = sink
	}
}

// New creates a preview server.
func New(cfg *config.Config, opts ...Option) *PreviewServer {
	s := &PreviewServer{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.WithComponent("server")
	if s.pages == nil {
		s.pages = os.DirFS(cfg.Server.Pages)
	}
	s.fetcher = source.NewFSFetcher(s.pages)

	port := strconv.Itoa(cfg.Server.Port)
	s.hub = NewHub(s.logger,
		net.JoinHostPort(cfg.Server.Host, port),
		net.JoinHostPort("localhost", port),
		net.JoinHostPort("127.0.0.1", port))
	return s
}

// Hub returns the live-reload hub.
func (s *PreviewServer) Hub() *Hub { return s.hub }

// Handler returns the server's routes.
func (s *PreviewServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	r.Handle("/ws", s.hub)
	r.Handle("/components/*", http.FileServer(http.FS(s.pages)))
	r.Get("/*", s.handlePage)
	return r
}

func (s *PreviewServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Start serves until ctx is done, watching the pages directory for
// changes.
func (s *PreviewServer) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	if dir := s.config.Server.Pages; dir != "" {
		fw, err := watcher.NewFileWatcher(300*time.Millisecond, watcher.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		defer fw.Stop()

		fw.AddFilter(watcher.ComponentFileFilter)
		fw.AddFilter(watcher.NoHiddenFilter)
		fw.AddFilter(watcher.NoGitFilter)
		fw.AddHandler(s.handleFileChange)
		if err := fw.AddRecursive(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		if err := fw.Start(ctx); err != nil {
			return err
		}
	}

	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "serving pages", "addr", "http://"+addr, "pages", s.config.Server.Pages)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	s.serverMutex.RLock()
	server := s.httpServer
	s.serverMutex.RUnlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *PreviewServer) handleFileChange(ctx context.Context, events []watcher.ChangeEvent) error {
	paths := make([]string, len(events))
	for i, e := range events {
		paths[i] = e.Path
	}
	s.logger.Info(ctx, "files changed, reloading browsers", "files", len(paths), "clients", s.hub.Count())
	s.hub.Broadcast(ctx, UpdateMessage{Type: "reload", Paths: paths})
	return nil
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
		"clients":   s.hub.Count(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "failed to encode health response")
	}
}

// pagePath maps a request path to a file in the pages directory.
func pagePath(urlPath string) (string, bool) {
	p := strings.TrimPrefix(urlPath, "/")
	if p == "" || strings.HasSuffix(p, "/") {
		p += "index.html"
	}
	p = path.Clean(p)
	if !fs.ValidPath(p) {
		return "", false
	}
	return p, true
}

func isPage(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == ".html" || ext == ".htm"
}

func (s *PreviewServer) handlePage(w http.ResponseWriter, r *http.Request) {
	p, ok := pagePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !isPage(p) {
		http.FileServer(http.FS(s.pages)).ServeHTTP(w, r)
		return
	}

	src, err := fs.ReadFile(s.pages, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error(r.Context(), err, "cannot read page", "page", p)
		http.Error(w, "cannot read page", http.StatusInternalServerError)
		return
	}

	templ.Handler(s.pageComponent(p, src), templ.WithErrorHandler(func(r *http.Request, err error) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			s.logger.Error(r.Context(), err, "cannot render page", "page", p)
			http.Error(w, "cannot render page: "+err.Error(), http.StatusInternalServerError)
		})
	})).ServeHTTP(w, r)
}

// pageComponent expands one page with a fresh engine and appends the reload
// script.
func (s *PreviewServer) pageComponent(name string, src []byte) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ctx, cancel := context.WithTimeout(ctx, renderTimeout)
		defer cancel()

		out, err := s.RenderPage(ctx, src)
		if err != nil {
			return err
		}
		out = injectReload(out)
		_, err = w.Write(out)
		return err
	})
}

// RenderPage expands src, registering every component it finds.
func (s *PreviewServer) RenderPage(ctx context.Context, src []byte) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("cannot parse page: %w", err)
	}

	opts := []engine.Option{
		engine.WithConfig(s.config),
		engine.WithFetcher(s.fetcher),
		engine.WithLogger(s.logger),
	}
	if s.metrics != nil {
		opts = append(opts, engine.WithMetrics(s.metrics))
	}
	if s.sink != nil {
		opts = append(opts, engine.WithSnapshotSink(s.sink))
	}
	e := engine.New(opts...)
	for key, value := range s.state {
		e.SetState(ctx, key, value, false)
	}

	if err := e.Mount(ctx, doc); err != nil {
		return nil, err
	}
	if _, err := e.UseDiscovered(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := e.Render(ctx, &buf); err != nil {
		return nil, err
	}
	for _, f := range e.Failures() {
		s.logger.Warn(ctx, f.Err, "component failed to render", "component", f.Component)
	}
	return buf.Bytes(), nil
}

func injectReload(page []byte) []byte {
	i := bytes.LastIndex(page, []byte("</body>"))
	if i < 0 {
		return append(page, reloadScript...)
	}
	out := make([]byte, 0, len(page)+len(reloadScript))
	out = append(out, page[:i]...)
	out = append(out, reloadScript...)
	return append(out, page[i:]...)
}
