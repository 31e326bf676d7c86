// Package assetcache keeps a generation-named mirror of the offline-fallback
// assets. Only one generation is live after activation; install is atomic by
// manifest so a partially fetched generation never serves.
package assetcache

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"safeping/internal/config"

	"github.com/rs/zerolog"
)

// Cache serves the fixed manifest of offline-fallback resources.
type Cache struct {
	cfg     config.CacheConfig
	apiHost string
	client  *http.Client
	logger  zerolog.Logger
}

func New(cfg config.CacheConfig, apiHost string, logger zerolog.Logger) *Cache {
	return &Cache{
		cfg:     cfg,
		apiHost: apiHost,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Generation returns the live generation name.
func (c *Cache) Generation() string { return c.cfg.Generation }

func (c *Cache) generationDir(name string) string {
	return filepath.Join(c.cfg.Dir, name)
}

// entryFile maps a manifest path to its file inside a generation directory.
func entryFile(entry string) string {
	u, err := url.Parse(entry)
	if err == nil && u.Path != "" {
		entry = u.Path
	}
	if entry == "/" || entry == "" {
		return "__root"
	}
	return url.PathEscape(strings.TrimPrefix(entry, "/"))
}

// Install populates the current generation with every manifest entry. Any
// single fetch failure fails the whole install and removes the partial
// generation, so a half-cached app never activates.
func (c *Cache) Install(ctx context.Context) error {
	dir := c.generationDir(c.cfg.Generation)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache generation %s: %w", c.cfg.Generation, err)
	}

	for _, entry := range c.cfg.Manifest {
		if err := c.fetchEntry(ctx, dir, entry); err != nil {
			c.logger.Error().Err(err).Str("entry", entry).Msg("Cache install failed, removing partial generation")
			_ = os.RemoveAll(dir)
			return fmt.Errorf("install %s: %w", entry, err)
		}
	}

	c.logger.Info().Str("generation", c.cfg.Generation).Int("entries", len(c.cfg.Manifest)).Msg("Cache generation installed")
	return nil
}

func (c *Cache) fetchEntry(ctx context.Context, dir, entry string) error {
	target := entry
	if strings.HasPrefix(entry, "/") {
		target = c.cfg.Origin + entry
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	file, err := os.Create(filepath.Join(dir, entryFile(entry)))
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// Activate prunes every generation except the current one, so at most one
// generation is live at a time.
func (c *Cache) Activate(ctx context.Context) error {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == c.cfg.Generation {
			continue
		}
		c.logger.Info().Str("generation", entry.Name()).Msg("Pruning stale cache generation")
		if err := os.RemoveAll(filepath.Join(c.cfg.Dir, entry.Name())); err != nil {
			return fmt.Errorf("prune generation %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Generations lists the generation directories currently on disk.
func (c *Cache) Generations() ([]string, error) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// cached returns the cached bytes for a request path, if present.
func (c *Cache) cached(path string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Join(c.generationDir(c.cfg.Generation), entryFile(path)))
	if err != nil {
		return nil, false
	}
	return data, true
}

// isNavigation reports whether the request asks for a document, the case
// that falls back to the cached root when everything else misses.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// ServeHTTP implements the cache-first policy for GET asset requests.
// Non-GET requests and requests for the API host are never intercepted.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || c.isAPIRequest(r) {
		c.passThrough(w, r)
		return
	}

	if data, ok := c.cached(r.URL.Path); ok {
		c.write(w, r.URL.Path, data)
		return
	}

	if c.fetchToClient(w, r) {
		return
	}

	// Offline and uncached: navigations get the cached root document.
	if isNavigation(r) {
		if data, ok := c.cached(c.cfg.RootDocument); ok {
			c.write(w, c.cfg.RootDocument, data)
			return
		}
	}

	http.Error(w, "offline", http.StatusServiceUnavailable)
}

func (c *Cache) isAPIRequest(r *http.Request) bool {
	if c.apiHost == "" {
		return false
	}
	if r.URL.Host == c.apiHost || r.Host == c.apiHost {
		return true
	}
	return false
}

// passThrough forwards the request untouched; the cache must not shadow
// dynamic API traffic.
func (c *Cache) passThrough(w http.ResponseWriter, r *http.Request) {
	target := r.URL.String()
	if !strings.HasPrefix(target, "http") {
		origin := c.cfg.Origin
		if c.isAPIRequest(r) {
			origin = "https://" + c.apiHost
		}
		target = origin + r.URL.RequestURI()
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	req.Header = r.Header.Clone()

	resp, err := c.client.Do(req)
	if err != nil {
		http.Error(w, "offline", http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	for key, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// fetchToClient tries the network for a cache miss and reports success.
// Network errors and origin 5xx count as misses; any other origin answer
// (including 404) is the origin speaking and is forwarded as-is.
func (c *Cache) fetchToClient(w http.ResponseWriter, r *http.Request) bool {
	target := r.URL.String()
	if !strings.HasPrefix(target, "http") {
		target = c.cfg.Origin + r.URL.RequestURI()
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return false
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return true
}

func (c *Cache) write(w http.ResponseWriter, path string, data []byte) {
	ctype := mime.TypeByExtension(filepath.Ext(path))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("X-Served-From", "cache")
	_, _ = w.Write(data)
}
