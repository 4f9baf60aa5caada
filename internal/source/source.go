// Package source retrieves component files. A Fetcher returns a Response for
// any reachable location and an error only when the transport itself fails,
// mirroring how an HTTP fetch distinguishes "not found" from "unreachable".
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// Response is the outcome of a fetch that reached its target.
type Response struct {
	OK     bool
	Status string
	Body   string
}

// Fetcher retrieves the file at a slash separated path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (Response, error)
}

// HTTPFetcher fetches files relative to a base URL.
type HTTPFetcher struct {
	base   *url.URL
	client *http.Client
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// NewHTTPFetcher creates a fetcher resolving paths against base.
func NewHTTPFetcher(base string, opts ...HTTPOption) (*HTTPFetcher, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme: %s (only http/https allowed)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q must have a hostname", base)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	f := &HTTPFetcher{
		base: u,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, p string) (Response, error) {
	ref, err := url.Parse(strings.TrimPrefix(p, "/"))
	if err != nil {
		return Response{}, fmt.Errorf("invalid path %q: %w", p, err)
	}
	target := f.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read %s: %w", target, err)
	}

	return Response{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: http.StatusText(resp.StatusCode),
		Body:   string(body),
	}, nil
}

// FSFetcher reads files from a file system such as os.DirFS or embed.FS.
type FSFetcher struct {
	fsys fs.FS
}

// NewFSFetcher creates a fetcher over fsys.
func NewFSFetcher(fsys fs.FS) *FSFetcher {
	return &FSFetcher{fsys: fsys}
}

// Fetch implements Fetcher. Missing files yield a non-OK response.
func (f *FSFetcher) Fetch(ctx context.Context, p string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	name := path.Clean(strings.TrimPrefix(p, "/"))
	name = strings.TrimPrefix(name, "./")
	if !fs.ValidPath(name) {
		return Response{OK: false, Status: http.StatusText(http.StatusBadRequest)}, nil
	}

	data, err := fs.ReadFile(f.fsys, name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Response{OK: false, Status: http.StatusText(http.StatusNotFound)}, nil
	case errors.Is(err, fs.ErrPermission):
		return Response{OK: false, Status: http.StatusText(http.StatusForbidden)}, nil
	case err != nil:
		return Response{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return Response{OK: true, Status: http.StatusText(http.StatusOK), Body: string(data)}, nil
}

// MemoryFetcher serves files held in memory.
type MemoryFetcher struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewMemoryFetcher creates an empty in-memory fetcher.
func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{files: make(map[string]string)}
}

// Add stores content under path.
func (m *MemoryFetcher) Add(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path.Clean(strings.TrimPrefix(p, "/"))] = content
}

// Fetch implements Fetcher.
func (m *MemoryFetcher) Fetch(ctx context.Context, p string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.files[path.Clean(strings.TrimPrefix(p, "/"))]
	if !ok {
		return Response{OK: false, Status: http.StatusText(http.StatusNotFound)}, nil
	}
	return Response{OK: true, Status: http.StatusText(http.StatusOK), Body: body}, nil
}
