package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.RenderStarted()
	c.RenderStarted()
	c.RenderFinished("my-card", 5*time.Millisecond)
	c.RenderFailed("my-card")
	c.Fetched("markup.html")
	c.Fetched("style.css")
	c.Fetched("markup.html")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rendersStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rendersFinished))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.renderFailures.WithLabelValues("my-card")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.fetches.WithLabelValues("markup.html")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetches.WithLabelValues("style.css")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RenderStarted()
		c.RenderFinished("x-y", time.Second)
		c.RenderFailed("x-y")
		c.Fetched("markup.html")
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.RenderStarted()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "bang_renders_started_total 1")
}
