package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxcharts/export-service/internal/assetcache"
	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/pagefactory"
	"github.com/onyxcharts/export-service/internal/pipeline"
	"github.com/onyxcharts/export-service/internal/renderer/rendererfake"
)

// fakePool is a single-resource Acquirer for gateway tests: it always
// succeeds unless AcquireErr is set, and never actually bounds
// concurrency — the pool package's own tests cover that.
type fakePool struct {
	factory   *pagefactory.Factory
	AcquireErr error

	// LastResource records the resource handed out by the most recent
	// Acquire, so tests can inspect its fake page afterwards.
	LastResource *pagefactory.Resource
}

func (p *fakePool) Acquire(ctx context.Context) (*pagefactory.Resource, error) {
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	r, err := p.factory.Create(ctx)
	if err == nil {
		p.LastResource = r
	}
	return r, err
}

func (p *fakePool) Release(r *pagefactory.Resource) {}

func testGateway(t *testing.T) (*Gateway, *config.Config) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Export.DefaultHeight = 400
	cfg.Export.DefaultWidth = 600
	cfg.Export.DefaultScale = 1.0
	cfg.Export.Type = "png"
	cfg.Export.RasterizationTimeout = 500 * time.Millisecond
	cfg.Pool.WorkLimit = 10
	cfg.Server.MaxRequestSize = 50 * 1024 * 1024
	cfg.Server.AdminToken = "secret-token"

	engine := rendererfake.New()
	cache := assetcache.New()
	factory := pagefactory.New(engine, cache, cfg, slog.Default())
	pl := pipeline.New(cfg)
	pool := &fakePool{factory: factory}

	gw := New(cfg, pool, pl, cache, nil, nil, slog.Default())
	return gw, cfg
}

func TestHandleExport_JSONToPNG(t *testing.T) {
	gw, _ := testGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body := `{"infile":{"series":[{"data":[1,3,2,4]}]}}`
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="chart.png"`)
}

func TestHandleExport_SVGPassthrough(t *testing.T) {
	gw, _ := testGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	svg := `<svg xmlns=\"http://www.w3.org/2000/svg\"><rect width=\"1\" height=\"1\"/></svg>`
	body := `{"svg":"` + svg + `","type":"svg"}`
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
}

func TestHandleExport_Base64Response(t *testing.T) {
	gw, _ := testGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body := `{"infile":{"series":[{"data":[1,3,2,4]}]},"b64":true,"type":"jpeg"}`
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody := make([]byte, 1024)
	n, _ := resp.Body.Read(respBody)
	decoded, err := base64.StdEncoding.DecodeString(string(respBody[:n]))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decoded)
}

func TestHandleExport_EmptyBodyRejected(t *testing.T) {
	gw, _ := testGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var parsed map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Contains(t, parsed["message"], "missing chart data")
}

func TestHandleExport_RateLimited(t *testing.T) {
	gw, cfg := testGateway(t)
	cfg.Server.RateLimiting.Enable = true
	cfg.Server.RateLimiting.MaxRequests = 1
	cfg.Server.RateLimiting.Window = time.Minute

	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body := `{"infile":{"series":[{"data":[1]}]}}`
	resp1, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp1.Body.Close()
	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	req2, err := http.NewRequest(http.MethodPost, srv.URL+"/", bytes.NewBufferString(body))
	require.NoError(t, err)
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("Accept", "application/json")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)

	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&parsed))
	assert.Contains(t, parsed["message"], "Too many requests")
}

func TestAdminSwitchVersion_UpdatesHealthVersion(t *testing.T) {
	gw, cfg := testGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	srcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("/* 10.3.3 */\nwindow.Highcharts = {};"))
	}))
	defer srcSrv.Close()
	cfg.Highcharts.CDNURL = srcSrv.URL
	cfg.Highcharts.CachePath = t.TempDir()
	cfg.Highcharts.CoreScripts = []string{"highcharts"}

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/change-hc-version/10.3.3", nil)
	require.NoError(t, err)
	req.Header.Set("hc-auth", cfg.Server.AdminToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthResp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(healthResp.Body).Decode(&health))
	assert.Equal(t, "10.3.3", health["highchartsVersion"])
}

func TestAdminSwitchVersion_WrongTokenReturns401(t *testing.T) {
	gw, cfg := testGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()
	_ = cfg

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/change-hc-version/10.3.3", nil)
	require.NoError(t, err)
	req.Header.Set("hc-auth", "wrong-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleExport_RejectsBadScale(t *testing.T) {
	gw, _ := testGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body := `{"infile":{"series":[]},"scale":10}`
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleExport_DisplayErrorsGatedOnDebuggerModule(t *testing.T) {
	gw, cfg := testGateway(t)

	srcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("/* 10.3.3 */\nwindow.Highcharts = {};"))
	}))
	defer srcSrv.Close()
	cfg.Highcharts.CDNURL = srcSrv.URL
	cfg.Highcharts.CachePath = t.TempDir()
	cfg.Highcharts.CoreScripts = []string{"highcharts"}
	cfg.Highcharts.CustomScripts = []string{"debugger"}
	require.NoError(t, gw.cache.Ensure(context.Background(), cfg.Highcharts))

	fp := gw.pool.(*fakePool)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body := `{"infile":{"series":[{"data":[1,3,2,4]}]},"displayErrors":true}`
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	page := fp.LastResource.Page.(*rendererfake.Page)
	assert.Contains(t, page.Evaluated(), "window.__displayErrors = true;")
}

func TestHandleExport_DisplayErrorsIgnoredWithoutDebuggerModule(t *testing.T) {
	gw, cfg := testGateway(t)

	srcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("/* 10.3.3 */\nwindow.Highcharts = {};"))
	}))
	defer srcSrv.Close()
	cfg.Highcharts.CDNURL = srcSrv.URL
	cfg.Highcharts.CachePath = t.TempDir()
	cfg.Highcharts.CoreScripts = []string{"highcharts"}
	require.NoError(t, gw.cache.Ensure(context.Background(), cfg.Highcharts))

	fp := gw.pool.(*fakePool)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body := `{"infile":{"series":[{"data":[1,3,2,4]}]},"displayErrors":true}`
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	page := fp.LastResource.Page.(*rendererfake.Page)
	assert.Contains(t, page.Evaluated(), "window.__displayErrors = false;")
}

func TestHandleExport_RejectsBadType(t *testing.T) {
	gw, _ := testGateway(t)
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body := `{"infile":{"series":[]},"type":"bmp"}`
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
