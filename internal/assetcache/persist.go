package assetcache

import (
	"encoding/json"
	"path/filepath"

	"github.com/onyxcharts/export-service/internal/svcerr"
)

// persist writes the concatenated blob to sources.js and the manifest to
// manifest.json in cachePath, overwriting prior contents. The invariant
// this upholds: after a successful call, the on-disk manifest matches the
// in-memory manifest, and the blob on disk is the one whose leading
// comment yields that manifest's version.
func (c *Cache) persist(cachePath string, blob string, manifest *Manifest) error {
	if err := writeFile(filepath.Join(cachePath, "sources.js"), []byte(blob)); err != nil {
		return svcerr.NewCacheError(svcerr.CacheIO, "persist sources", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return svcerr.NewCacheError(svcerr.CacheParse, "marshal manifest", err)
	}

	if err := writeFile(filepath.Join(cachePath, "manifest.json"), data); err != nil {
		return svcerr.NewCacheError(svcerr.CacheIO, "persist manifest", err)
	}

	return nil
}

func parseManifest(raw string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	if m.Modules == nil {
		m.Modules = map[string]int{}
	}
	return &m, nil
}
