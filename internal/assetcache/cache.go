// Package assetcache implements a fetch-once, validate-on-startup library
// blob: a process-wide cache that fetches the renderer-side library
// sources from a CDN, persists them alongside a manifest, and re-fetches
// only on version or module-set mismatch. Mutation (Ensure, SwitchVersion)
// is serialised by a mutex so readers never observe a half-written blob.
package assetcache

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/svcerr"
)

// Manifest pairs a library version with the module names known to be
// present in the concatenated blob. The JSON form uses the name as key
// and 1 as value, to permit O(1) membership testing on load.
type Manifest struct {
	Version string         `json:"version"`
	Modules map[string]int `json:"modules"`
}

func (m *Manifest) has(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.Modules[name]
	return ok
}

// Cache is the process-wide asset cache singleton. It is safe for
// concurrent reads; Ensure/SwitchVersion serialise writers against each
// other but never block a reader already holding a page-factory snapshot
// of the blob — in-flight exports keep using the previous blob until they
// acquire a freshly-created page.
type Cache struct {
	mu sync.Mutex

	httpClient *http.Client

	blob     string
	version  string
	manifest *Manifest

	// manifestCache avoids re-reading manifest.json from disk on repeated
	// Ensure calls against the same cache directory, e.g. across a config
	// hot-reload that re-validates the cache without changing cachePath.
	manifestCache *lru.Cache[string, *Manifest]
}

// New constructs an empty Cache. Callers must call Ensure before Version
// or SwitchVersion are meaningful.
func New() *Cache {
	manifestCache, _ := lru.New[string, *Manifest](8)
	return &Cache{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		manifestCache: manifestCache,
	}
}

// Version returns the version extracted from the cached blob's leading
// comment, or "" if the blob was never loaded.
func (c *Cache) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Blob returns the currently cached concatenated library source. Callers
// (the page factory) should treat the returned string as an immutable
// snapshot — SwitchVersion installs a new string rather than mutating
// this one in place.
func (c *Cache) Blob() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blob
}

// HasModule reports whether name is present in the currently active
// manifest's module set. Safe to call before any manifest has been
// loaded, in which case it always returns false.
func (c *Cache) HasModule(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manifest.has(name)
}

// Manifest returns a copy of the active manifest, or nil if none loaded.
func (c *Cache) Manifest() *Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifest == nil {
		return nil
	}
	cp := *c.manifest
	cp.Modules = make(map[string]int, len(c.manifest.Modules))
	for k, v := range c.manifest.Modules {
		cp.Modules[k] = v
	}
	return &cp
}

// Ensure compares the on-disk manifest (if any) against cfg and fetches
// when the manifest is absent, cfg.ForceFetch is set, the version
// differs, the module count differs, or any requested module is missing
// from the manifest's set. Idempotent and exclusive: two back-to-back
// calls with identical config and no forceFetch perform zero network
// requests on the second call.
func (c *Cache) Ensure(ctx context.Context, cfg config.HighchartsConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	requested := requestedModules(cfg)

	onDisk, diskErr := c.loadManifestLocked(cfg.CachePath)
	needsFetch := cfg.ForceFetch || diskErr != nil || onDisk == nil ||
		onDisk.Version != resolveVersion(cfg.Version) ||
		len(onDisk.Modules) != len(requested) ||
		!allPresent(onDisk, requested)

	if !needsFetch {
		c.manifest = onDisk
		c.version = onDisk.Version
		if c.blob == "" {
			blob, err := readFile(filepath.Join(cfg.CachePath, "sources.js"))
			if err == nil {
				c.blob = blob
			}
		}
		return nil
	}

	blob, manifest, err := c.fetch(ctx, cfg, requested)
	if err != nil {
		return err
	}

	if err := c.persist(cfg.CachePath, blob, manifest); err != nil {
		return err
	}

	c.blob = blob
	c.manifest = manifest
	c.version = manifest.Version
	c.manifestCache.Add(cfg.CachePath, manifest)
	return nil
}

// SwitchVersion updates the in-memory version and re-runs Ensure. On
// failure the prior in-memory version is restored and a CacheError is
// returned, so the caller never observes a partially-applied version.
func (c *Cache) SwitchVersion(ctx context.Context, cfg *config.HighchartsConfig, newVersion string) error {
	prior := cfg.Version
	cfg.Version = newVersion
	cfg.ForceFetch = true

	if err := c.Ensure(ctx, *cfg); err != nil {
		cfg.Version = prior
		cfg.ForceFetch = false
		return err
	}
	cfg.ForceFetch = false
	return nil
}

func (c *Cache) loadManifestLocked(cachePath string) (*Manifest, error) {
	if cached, ok := c.manifestCache.Get(cachePath); ok {
		return cached, nil
	}

	data, err := readFile(filepath.Join(cachePath, "manifest.json"))
	if err != nil {
		return nil, svcerr.NewCacheError(svcerr.CacheIO, "loadManifest", err)
	}

	m, err := parseManifest(data)
	if err != nil {
		return nil, svcerr.NewCacheError(svcerr.CacheParse, "loadManifest", err)
	}

	c.manifestCache.Add(cachePath, m)
	return m, nil
}

func allPresent(m *Manifest, requested []string) bool {
	for _, name := range requested {
		if !m.has(name) {
			return false
		}
	}
	return true
}

func requestedModules(cfg config.HighchartsConfig) []string {
	var all []string
	all = append(all, cfg.CoreScripts...)
	all = append(all, cfg.ModuleScripts...)
	all = append(all, cfg.MapScripts...)
	all = append(all, cfg.IndicatorScripts...)
	all = append(all, cfg.CustomScripts...)
	return all
}

func resolveVersion(v string) string {
	if v == "" {
		return "latest"
	}
	return v
}

// extractVersion takes the substring of the blob before the first "*/",
// and strips the leading "/*" and surrounding whitespace, recovering the
// version string the CDN bundle embeds in its leading comment.
func extractVersion(blob string) string {
	idx := strings.Index(blob, "*/")
	if idx < 0 {
		return ""
	}
	comment := blob[:idx]
	comment = strings.TrimPrefix(comment, "/*")
	return strings.TrimSpace(comment)
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
