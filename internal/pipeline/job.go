// Package pipeline implements the per-request render sequence: classify,
// inject per-request resources, measure, rasterize, cleanup. Each step is
// a method on Pipeline taking the Job, so the sequence reads top to bottom
// in Run.
package pipeline

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/pagefactory"
	"github.com/onyxcharts/export-service/internal/renderer"
	"github.com/onyxcharts/export-service/internal/svcerr"
)

// OutputType is the requested artifact format.
type OutputType string

const (
	OutputJPEG OutputType = "jpeg"
	OutputPNG  OutputType = "png"
	OutputPDF  OutputType = "pdf"
	OutputSVG  OutputType = "svg"
)

// ValidOutputType reports whether t is one of the recognised enum values.
func ValidOutputType(t string) bool {
	switch OutputType(t) {
	case OutputJPEG, OutputPNG, OutputPDF, OutputSVG:
		return true
	}
	return false
}

// Resources mirrors customLogic.resources: inline script/style plus a
// list of file or URL references.
type Resources struct {
	JS    string
	CSS   string
	Files []string
}

// Input is the classified chart input: exactly one of VectorMarkup or
// StructuredConfig is set.
type Input struct {
	VectorMarkup     string
	StructuredConfig map[string]interface{}
}

// IsVectorMarkup reports whether s's leading non-whitespace marks it as
// raw SVG/XML.
func IsVectorMarkup(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "<svg") || strings.HasPrefix(trimmed, "<?xml")
}

// Job is a single export request in flight.
type Job struct {
	Input  Input
	Output OutputType

	Height int
	Width  int
	Scale  float64

	Resources      Resources
	DisplayErrors  bool
	AllowFileRes   bool
	HardReset      bool
	RequestID      string

	isVector bool
	handles  []renderer.ElementHandle
}

// Pipeline runs jobs against resources produced by a pagefactory.Factory.
type Pipeline struct {
	cfg *config.Config
}

// New constructs a Pipeline bound to cfg (for rasterizationTimeout and
// the pool's workLimit, used to retire a timed-out resource). Whether
// file resources are allowed comes from Job.AllowFileRes.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Result is the rasterized artifact plus the content type a gateway
// response needs.
type Result struct {
	Bytes       []byte
	ContentType string
	IsText      bool // vector output is sent as plain text, not binary
}

// Run executes classify -> inject -> measure -> rasterize -> cleanup
// against r's page. Cleanup always runs, on both success and failure.
func (pl *Pipeline) Run(ctx context.Context, r *pagefactory.Resource, job *Job) (*Result, error) {
	defer pl.cleanup(ctx, r, job)

	if result, shortCircuit, err := pl.classify(ctx, r, job); shortCircuit {
		return result, err
	} else if err != nil {
		return nil, err
	}

	if err := pl.inject(ctx, r, job); err != nil {
		return nil, err
	}

	measured, err := pl.measure(ctx, r, job)
	if err != nil {
		return nil, err
	}

	return pl.rasterize(ctx, r, job, measured)
}

// measurement is the resolved viewport and clip geometry from step 3.
type measurement struct {
	viewportW, viewportH int
	clipX, clipY          float64
	clipW, clipH          float64
	deviceScaleFactor     float64
}

// classify resolves the input kind and, for structured config, invokes
// the render hook. When the input is vector markup requested back as
// vector, it short-circuits the whole pipeline and returns the input
// unchanged.
func (pl *Pipeline) classify(ctx context.Context, r *pagefactory.Resource, job *Job) (*Result, bool, error) {
	if job.Input.VectorMarkup != "" && IsVectorMarkup(job.Input.VectorMarkup) {
		job.isVector = true
		if job.Output == OutputSVG {
			return &Result{Bytes: []byte(job.Input.VectorMarkup), ContentType: "image/svg+xml", IsText: true}, true, nil
		}

		minimal := `<!DOCTYPE html><html><body><div id="container">` + job.Input.VectorMarkup + `</div></body></html>`
		if err := r.Page.SetContent(ctx, minimal); err != nil {
			return nil, true, svcerr.NewRenderError("set vector content", err)
		}
		return nil, false, nil
	}

	if err := pagefactory.SetDisplayErrors(ctx, r.Page, job.DisplayErrors); err != nil {
		return nil, true, svcerr.NewRenderError("toggle display errors", err)
	}

	cfg := job.Input.StructuredConfig
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	chart, _ := cfg["chart"].(map[string]interface{})
	if chart == nil {
		chart = map[string]interface{}{}
		cfg["chart"] = chart
	}
	chart["height"] = job.Height
	chart["width"] = job.Width

	script := buildRenderHookCall(cfg, job)
	if err := r.Page.Evaluate(ctx, script, nil); err != nil {
		return nil, true, svcerr.NewRenderError("render chart", err)
	}
	return nil, false, nil
}

// measure resolves the viewport and clip geometry from the page's
// reported chart dimensions (or, for vector input, its bounding rect).
func (pl *Pipeline) measure(ctx context.Context, r *pagefactory.Resource, job *Job) (*measurement, error) {
	scale := job.Scale
	if scale <= 0 {
		scale = 1
	}

	if job.isVector {
		_, _, w, h, err := r.Page.BoundingRect(ctx, "#container svg")
		if err != nil {
			w, h = float64(job.Width), float64(job.Height)
		}
		w *= scale
		h *= scale
		if err := r.Page.Evaluate(ctx, `document.documentElement.style.zoom=`+floatLiteral(scale)+`; document.body.style.margin='0';`, nil); err != nil {
			return nil, svcerr.NewRenderError("apply vector zoom", err)
		}
		return &measurement{
			viewportW:         int(math.Ceil(math.Max(w, float64(job.Width)))),
			viewportH:         int(math.Ceil(math.Max(clampHeight(h), float64(job.Height)))),
			deviceScaleFactor: 1,
		}, nil
	}

	var reportedW, reportedH float64
	_ = r.Page.Evaluate(ctx, `(function(){var c=window.__onyxChart; return c ? c.chartWidth : 0;})()`, &reportedW)
	_ = r.Page.Evaluate(ctx, `(function(){var c=window.__onyxChart; return c ? c.chartHeight : 0;})()`, &reportedH)

	clipX, clipY, clipW, clipH, err := r.Page.BoundingRect(ctx, "#container")
	if err != nil {
		clipW, clipH = float64(job.Width), float64(job.Height)
	}

	h := clampHeight(reportedH)
	w := reportedW

	return &measurement{
		viewportW:         int(math.Ceil(math.Max(w, float64(job.Width)))),
		viewportH:         int(math.Ceil(math.Max(h, float64(job.Height)))),
		clipX:             clipX,
		clipY:             clipY,
		clipW:             clipW,
		clipH:             clipH,
		deviceScaleFactor: scale,
	}, nil
}

// clampHeight guards against a chart reporting zero height before its
// first paint settles, by clamping to at least 500 if measured as <= 1.
func clampHeight(h float64) float64 {
	if h <= 1 {
		return 500
	}
	return h
}

// rasterize dispatches on output type, racing each call against
// rasterizationTimeout. A timeout fails the job with RasterizationTimeout
// and retires the resource.
func (pl *Pipeline) rasterize(ctx context.Context, r *pagefactory.Resource, job *Job, m *measurement) (*Result, error) {
	timeout := pl.cfg.Export.RasterizationTimeout
	if timeout <= 0 {
		timeout = renderer.DefaultRasterizationTimeout
	}

	rasterCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		res, err := pl.doRasterize(rasterCtx, r, job, m)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-rasterCtx.Done():
		r.Retire(pl.cfg.Pool.WorkLimit)
		return nil, &svcerr.RasterizationTimeout{Elapsed: time.Since(start).String()}
	}
}

func (pl *Pipeline) doRasterize(ctx context.Context, r *pagefactory.Resource, job *Job, m *measurement) (*Result, error) {
	switch job.Output {
	case OutputSVG:
		html, err := r.Page.QueryOuterHTML(ctx, "#container svg")
		if err != nil {
			return nil, svcerr.NewRenderError("query svg", err)
		}
		return &Result{Bytes: []byte(html), ContentType: "image/svg+xml", IsText: true}, nil

	case OutputPNG, OutputJPEG:
		opts := renderer.ScreenshotOptions{
			ClipX: m.clipX, ClipY: m.clipY,
			Width: m.viewportW, Height: m.viewportH,
			Scale:       m.deviceScaleFactor,
			Transparent: job.Output == OutputPNG,
		}
		if job.Output == OutputJPEG {
			opts.JPEGQuality = 80
		}
		data, err := r.Page.Screenshot(ctx, opts)
		if err != nil {
			return nil, svcerr.NewRenderError("screenshot", err)
		}
		contentType := "image/png"
		if job.Output == OutputJPEG {
			contentType = "image/jpeg"
		}
		return &Result{Bytes: data, ContentType: contentType}, nil

	case OutputPDF:
		data, err := r.Page.PDF(ctx, renderer.PDFOptions{
			WidthInches:  float64(m.viewportW) / cssPixelsPerInch,
			HeightInches: (float64(m.viewportH) + 1) / cssPixelsPerInch,
		})
		if err != nil {
			return nil, svcerr.NewRenderError("pdf", err)
		}
		return &Result{Bytes: data, ContentType: "application/pdf"}, nil
	}

	return nil, svcerr.NewValidationError("type", "unrecognised output type")
}

// cssPixelsPerInch converts the measured viewport (CSS pixels) into the
// inch-based paper size PDFOptions carries.
const cssPixelsPerInch = 96.0

func floatLiteral(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
