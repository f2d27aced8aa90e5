package assetcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxcharts/export-service/internal/config"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("/* 10.3.3 */\nwindow.Highcharts = {};"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, cdnURL string) config.HighchartsConfig {
	t.Helper()
	dir := t.TempDir()
	return config.HighchartsConfig{
		Version:     "10.3.3",
		CDNURL:      cdnURL,
		CachePath:   dir,
		CoreScripts: []string{"highcharts"},
	}
}

func TestEnsure_FetchesWhenManifestAbsent(t *testing.T) {
	srv := testServer(t)
	cfg := testConfig(t, srv.URL)

	c := New()
	err := c.Ensure(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "10.3.3", c.Version())
	assert.Contains(t, c.Blob(), "Highcharts")

	_, err = os.Stat(filepath.Join(cfg.CachePath, "sources.js"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.CachePath, "manifest.json"))
	assert.NoError(t, err)
}

func TestEnsure_IdempotentNoForceFetch(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("/* 10.3.3 */\nwindow.Highcharts = {};"))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	c := New()

	require.NoError(t, c.Ensure(context.Background(), cfg))
	firstCount := requests

	require.NoError(t, c.Ensure(context.Background(), cfg))
	assert.Equal(t, firstCount, requests, "second Ensure with identical config must not re-fetch")
}

func TestEnsure_RefetchesOnModuleMismatch(t *testing.T) {
	srv := testServer(t)
	cfg := testConfig(t, srv.URL)
	c := New()
	require.NoError(t, c.Ensure(context.Background(), cfg))

	cfg.ModuleScripts = []string{"stock"}
	requestsBefore := 0
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestsBefore++
		w.Write([]byte("/* 10.3.3 */\nwindow.Highcharts = {};"))
	}))
	defer srv2.Close()
	cfg.CDNURL = srv2.URL

	require.NoError(t, c.Ensure(context.Background(), cfg))
	assert.Greater(t, requestsBefore, 0, "adding a requested module must trigger a re-fetch")
}

func TestSwitchVersion_RestoresPriorOnFailure(t *testing.T) {
	srv := testServer(t)
	cfg := testConfig(t, srv.URL)
	c := New()
	require.NoError(t, c.Ensure(context.Background(), cfg))

	badCfg := cfg
	badCfg.CDNURL = "http://127.0.0.1:0"
	err := c.SwitchVersion(context.Background(), &badCfg, "99.99.99")
	require.Error(t, err)
	assert.Equal(t, "10.3.3", badCfg.Version, "failed switch must restore the prior version")
}

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "10.3.3", extractVersion("/* 10.3.3 */\nrest"))
	assert.Equal(t, "", extractVersion("no comment here"))
}
