package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/pagefactory"
	"github.com/onyxcharts/export-service/internal/renderer/rendererfake"
	"github.com/onyxcharts/export-service/internal/svcerr"
)

func testResource(t *testing.T) (*pagefactory.Resource, *rendererfake.Page) {
	t.Helper()
	engine := rendererfake.New()
	p, err := engine.NewPage(context.Background())
	require.NoError(t, err)
	fake := p.(*rendererfake.Page)
	return &pagefactory.Resource{ID: "r1", Page: p}, fake
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Export.RasterizationTimeout = 200 * time.Millisecond
	cfg.Pool.WorkLimit = 10
	return cfg
}

func TestRun_VectorSVGPassthrough(t *testing.T) {
	r, _ := testResource(t)
	pl := New(testConfig())

	svg := `<svg xmlns="http://www.w3.org/2000/svg"><rect width="1" height="1"/></svg>`
	job := &Job{Input: Input{VectorMarkup: svg}, Output: OutputSVG, Width: 100, Height: 100, Scale: 1}

	result, err := pl.Run(context.Background(), r, job)
	require.NoError(t, err)
	assert.Equal(t, svg, string(result.Bytes), "round trip must return the input byte-for-byte")
	assert.Equal(t, "image/svg+xml", result.ContentType)
	assert.True(t, result.IsText)
}

func TestRun_VectorToRasterSetsContent(t *testing.T) {
	r, fake := testResource(t)
	pl := New(testConfig())

	svg := `<svg xmlns="http://www.w3.org/2000/svg"><rect width="1" height="1"/></svg>`
	job := &Job{Input: Input{VectorMarkup: svg}, Output: OutputPNG, Width: 100, Height: 100, Scale: 2}

	result, err := pl.Run(context.Background(), r, job)
	require.NoError(t, err)
	assert.Contains(t, fake.Content(), "rect")
	assert.Equal(t, "image/png", result.ContentType)
}

func TestRun_StructuredConfigToJPEG(t *testing.T) {
	r, _ := testResource(t)
	pl := New(testConfig())

	job := &Job{
		Input: Input{StructuredConfig: map[string]interface{}{
			"series": []interface{}{map[string]interface{}{"data": []interface{}{1, 3, 2, 4}}},
		}},
		Output: OutputJPEG,
		Width:  600, Height: 400, Scale: 1,
	}

	result, err := pl.Run(context.Background(), r, job)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.False(t, result.IsText)
}

func TestRun_PDFHeightPlusOne(t *testing.T) {
	r, _ := testResource(t)
	pl := New(testConfig())

	job := &Job{
		Input:  Input{StructuredConfig: map[string]interface{}{"series": []interface{}{}}},
		Output: OutputPDF,
		Width:  600, Height: 400, Scale: 1,
	}

	result, err := pl.Run(context.Background(), r, job)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
}

func TestRun_InjectsAndDisposesResources(t *testing.T) {
	r, fake := testResource(t)
	pl := New(testConfig())

	job := &Job{
		Input:  Input{StructuredConfig: map[string]interface{}{}},
		Output: OutputPNG,
		Width:  600, Height: 400, Scale: 1,
		Resources: Resources{JS: "window.injected = true;", CSS: "body { margin: 0; }"},
	}

	_, err := pl.Run(context.Background(), r, job)
	require.NoError(t, err)

	assert.Len(t, fake.Disposed(), 2, "every handle in the job's injected-resources list must be disposed after a successful export")
	assert.Empty(t, r.InjectedHandles(), "resource's tracked handles must be cleared after cleanup")
}

func TestRun_FileResourceSkippedWithoutAllowFileResources(t *testing.T) {
	r, _ := testResource(t)
	pl := New(testConfig())

	job := &Job{
		Input:        Input{StructuredConfig: map[string]interface{}{}},
		Output:       OutputPNG,
		Width:        600, Height: 400, Scale: 1,
		AllowFileRes: false,
		Resources:    Resources{Files: []string{"/etc/passwd"}},
	}

	_, err := pl.Run(context.Background(), r, job)
	require.NoError(t, err)
	assert.Empty(t, r.InjectedHandles())
}

func TestRun_RasterizationTimeoutRetiresResource(t *testing.T) {
	r, fake := testResource(t)
	cfg := testConfig()
	cfg.Export.RasterizationTimeout = 10 * time.Millisecond
	pl := New(cfg)

	fake.ScreenshotDelay = 200 * time.Millisecond

	job := &Job{
		Input:  Input{StructuredConfig: map[string]interface{}{}},
		Output: OutputPNG,
		Width:  600, Height: 400, Scale: 1,
	}
	_, err := pl.Run(context.Background(), r, job)
	require.Error(t, err)
	assert.IsType(t, &svcerr.RasterizationTimeout{}, err)
	assert.Equal(t, cfg.Pool.WorkLimit+1, r.WorkCount, "a rasterization timeout must force the resource's next validation to fail")
}

func TestValidOutputType(t *testing.T) {
	assert.True(t, ValidOutputType("png"))
	assert.True(t, ValidOutputType("svg"))
	assert.False(t, ValidOutputType("bmp"))
	assert.False(t, ValidOutputType(""))
}

func TestIsVectorMarkup(t *testing.T) {
	assert.True(t, IsVectorMarkup(`  <svg xmlns="x"></svg>`))
	assert.True(t, IsVectorMarkup(`<?xml version="1.0"?>`))
	assert.False(t, IsVectorMarkup(`{"series":[]}`))
}
