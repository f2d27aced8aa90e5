package assetcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/svcerr"
)

// scriptCategory names a distinct URL path segment a group of scripts is
// fetched under: core, module, map module, indicator, or custom.
type scriptCategory struct {
	names []string
	path  string
	fatal bool
}

// fetch builds the canonical URL list from cfg against cfg.CDNURL and the
// requested version, fetches every entry, concatenates successful bodies
// with ";\n", and returns the blob plus the manifest of module names that
// actually succeeded. Core script failures are fatal; others are logged
// and simply omitted.
func (c *Cache) fetch(ctx context.Context, cfg config.HighchartsConfig, requested []string) (string, *Manifest, error) {
	version := resolveVersion(cfg.Version)
	if version == "latest" {
		version = ""
	}

	categories := []scriptCategory{
		{names: cfg.CoreScripts, path: "", fatal: true},
		{names: cfg.ModuleScripts, path: "modules", fatal: false},
		{names: cfg.MapScripts, path: "maps", fatal: false},
		{names: cfg.IndicatorScripts, path: "indicators", fatal: false},
		{names: cfg.CustomScripts, path: "", fatal: false},
	}

	var bodies []string
	succeeded := map[string]int{}

	for _, cat := range categories {
		for _, name := range cat.names {
			url := c.scriptURL(cfg.CDNURL, cat.path, name, version)
			body, err := c.fetchOne(ctx, url)
			if err != nil {
				if cat.fatal {
					return "", nil, svcerr.NewCacheError(svcerr.CacheNetwork, "fetch core script "+name, err)
				}
				slog.Default().Warn("assetcache: skipping script that failed to fetch", "script", name, "error", err)
				continue
			}
			bodies = append(bodies, body)
			succeeded[name] = 1
		}
	}

	if len(bodies) == 0 {
		return "", nil, svcerr.NewCacheError(svcerr.CacheNetwork, "fetch", fmt.Errorf("no scripts fetched"))
	}

	blob := strings.Join(bodies, ";\n")
	version = extractVersion(blob)
	if version == "" {
		version = resolveVersion(cfg.Version)
	}

	return blob, &Manifest{Version: version, Modules: succeeded}, nil
}

func (c *Cache) scriptURL(cdnURL, pathSegment, name, version string) string {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return name
	}

	base := strings.TrimSuffix(cdnURL, "/")
	var parts []string
	parts = append(parts, base)
	if version != "" {
		parts = append(parts, version)
	}
	if pathSegment != "" {
		parts = append(parts, pathSegment)
	}
	parts = append(parts, name+".js")
	return strings.Join(parts, "/")
}

func (c *Cache) fetchOne(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
