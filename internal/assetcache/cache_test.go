package assetcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"safeping/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOriginServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html>safeping</html>"))
	})
	mux.HandleFunc("/static/app.js", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("console.log('app')"))
	})
	mux.HandleFunc("/static/app.css", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body{}"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestCache(t *testing.T, origin, generation string) *Cache {
	t.Helper()
	cfg := config.CacheConfig{
		Generation:   generation,
		Dir:          filepath.Join(t.TempDir(), "cache"),
		Origin:       origin,
		RootDocument: "/",
		Manifest:     []string{"/", "/static/app.js", "/static/app.css"},
	}
	return New(cfg, "api.safeping.example", zerolog.Nop())
}

func TestInstallPopulatesGeneration(t *testing.T) {
	origin := newOriginServer(t)
	cache := newTestCache(t, origin.URL, "safeping-v1")

	require.NoError(t, cache.Install(context.Background()))

	gens, err := cache.Generations()
	require.NoError(t, err)
	assert.Equal(t, []string{"safeping-v1"}, gens)

	data, ok := cache.cached("/static/app.js")
	require.True(t, ok)
	assert.Equal(t, "console.log('app')", string(data))
}

func TestInstallIsAtomicByManifest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html></html>"))
	})
	// /static/app.js missing: one failed fetch fails the whole install.
	server := httptest.NewServer(mux)
	defer server.Close()

	cache := newTestCache(t, server.URL, "safeping-v1")
	err := cache.Install(context.Background())
	require.Error(t, err)

	gens, err := cache.Generations()
	require.NoError(t, err)
	assert.Empty(t, gens)
}

func TestActivatePrunesStaleGenerations(t *testing.T) {
	origin := newOriginServer(t)

	cache := newTestCache(t, origin.URL, "safeping-v1")
	// Simulate a previous generation left behind by an old agent version.
	require.NoError(t, os.MkdirAll(filepath.Join(cache.cfg.Dir, "safeping-v0"), 0o755))
	require.NoError(t, cache.Install(context.Background()))

	gens, err := cache.Generations()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"safeping-v0", "safeping-v1"}, gens)

	require.NoError(t, cache.Activate(context.Background()))

	gens, err = cache.Generations()
	require.NoError(t, err)
	assert.Equal(t, []string{"safeping-v1"}, gens)
}

func TestServeCacheFirst(t *testing.T) {
	origin := newOriginServer(t)
	cache := newTestCache(t, origin.URL, "safeping-v1")
	require.NoError(t, cache.Install(context.Background()))

	// Take the origin down: cached entries must still serve.
	origin.Close()

	req := httptest.NewRequest(http.MethodGet, "/static/app.css", nil)
	rec := httptest.NewRecorder()
	cache.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Equal(t, "cache", rec.Header().Get("X-Served-From"))
}

func TestServeNavigationFallsBackToRoot(t *testing.T) {
	origin := newOriginServer(t)
	cache := newTestCache(t, origin.URL, "safeping-v1")
	require.NoError(t, cache.Install(context.Background()))
	origin.Close()

	req := httptest.NewRequest(http.MethodGet, "/some/deep/route", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	rec := httptest.NewRecorder()
	cache.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "safeping")
}

func TestServeNeverInterceptsPost(t *testing.T) {
	origin := newOriginServer(t)
	cache := newTestCache(t, origin.URL, "safeping-v1")
	require.NoError(t, cache.Install(context.Background()))

	before, err := cache.Generations()
	require.NoError(t, err)
	dir := filepath.Join(cache.cfg.Dir, "safeping-v1")
	entriesBefore, err := os.ReadDir(dir)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/static/app.js", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	cache.ServeHTTP(rec, req)

	// The POST went to the network (origin 404s it), not the cache, and the
	// cache contents are untouched.
	assert.NotEqual(t, "cache", rec.Header().Get("X-Served-From"))

	after, err := cache.Generations()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	entriesAfter, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, len(entriesBefore), len(entriesAfter))
}

func TestServeNeverInterceptsAPIHost(t *testing.T) {
	origin := newOriginServer(t)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/static/app.js", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("api-response"))
	})
	apiServer := httptest.NewServer(apiMux)
	t.Cleanup(apiServer.Close)

	apiURL, err := url.Parse(apiServer.URL)
	require.NoError(t, err)

	cfg := config.CacheConfig{
		Generation:   "safeping-v1",
		Dir:          filepath.Join(t.TempDir(), "cache"),
		Origin:       origin.URL,
		RootDocument: "/",
		Manifest:     []string{"/", "/static/app.js", "/static/app.css"},
	}
	cache := New(cfg, apiURL.Host, zerolog.Nop())
	require.NoError(t, cache.Install(context.Background()))

	// The path is cached, but the API host must still go to the network.
	req := httptest.NewRequest(http.MethodGet, apiServer.URL+"/static/app.js", nil)
	rec := httptest.NewRecorder()
	cache.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api-response", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Served-From"))
}

func TestServeForwardsOriginNotFound(t *testing.T) {
	origin := newOriginServer(t)
	cache := newTestCache(t, origin.URL, "safeping-v1")

	// Origin reachable and answering 404: forward its answer, do not
	// convert it into an offline 503.
	req := httptest.NewRequest(http.MethodGet, "/static/missing.png", nil)
	rec := httptest.NewRecorder()
	cache.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeOriginServerErrorIsMiss(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cache := newTestCache(t, server.URL, "safeping-v1")

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	cache.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUncachedMissWithoutNavigationIs503(t *testing.T) {
	origin := newOriginServer(t)
	cache := newTestCache(t, origin.URL, "safeping-v1")
	require.NoError(t, cache.Install(context.Background()))
	origin.Close()

	req := httptest.NewRequest(http.MethodGet, "/static/missing.png", nil)
	rec := httptest.NewRecorder()
	cache.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
