// Package rendererfake implements renderer.Engine and renderer.Page
// entirely in memory, so the pool, page factory, and pipeline packages
// can be tested without a real headless browser.
package rendererfake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onyxcharts/export-service/internal/renderer"
)

// Engine is an in-memory renderer.Engine. PageErr lets tests force
// NewPage to fail, i.e. a failure in the pool's create step.
type Engine struct {
	mu        sync.Mutex
	pages     []*Page
	closed    bool
	PageErr   error
	PagesOpen int
}

var _ renderer.Engine = (*Engine)(nil)

// New returns a ready-to-use fake engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) NewPage(ctx context.Context) (renderer.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("rendererfake: engine closed")
	}
	if e.PageErr != nil {
		return nil, e.PageErr
	}
	p := &Page{engine: e}
	e.pages = append(e.pages, p)
	e.PagesOpen++
	return p, nil
}

func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, p := range e.pages {
		p.closed = true
	}
	return nil
}

// Closed reports whether Close has been called, for test assertions.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Page is an in-memory renderer.Page. It records every call a test
// cares about: content set, scripts/styles injected (and later
// disposed), evaluated expressions, and whether Close was called.
type Page struct {
	mu sync.Mutex

	engine *Engine

	content        string
	scripts        []string
	styles         []string
	disposed       []string
	evaluated      []string
	closed         bool
	detached       bool
	screenshotData []byte
	pdfData        []byte

	// EvalResults lets a test script what Evaluate should write into out
	// for a given expression, keyed by exact expression text.
	EvalResults map[string]interface{}

	// ScreenshotErr/PDFErr/EvalErr force failures for timeout/error tests.
	ScreenshotErr error
	PDFErr        error
	EvalErr       error

	// ScreenshotDelay, if set, is slept before Screenshot returns, so
	// tests can exercise a rasterization timeout deterministically.
	ScreenshotDelay time.Duration

	// BoundingW/BoundingH are returned by BoundingRect for any selector.
	BoundingW, BoundingH float64
}

var _ renderer.Page = (*Page)(nil)

func (p *Page) SetContent(ctx context.Context, html string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = html
	return nil
}

func (p *Page) AddScript(ctx context.Context, src, body string) (renderer.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("script-%d", len(p.scripts))
	p.scripts = append(p.scripts, id)
	return &handle{id: id, kind: "script"}, nil
}

func (p *Page) AddStyle(ctx context.Context, href, body string) (renderer.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("style-%d", len(p.styles))
	p.styles = append(p.styles, id)
	return &handle{id: id, kind: "style"}, nil
}

func (p *Page) Evaluate(ctx context.Context, expr string, out interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evaluated = append(p.evaluated, expr)
	if p.EvalErr != nil {
		return p.EvalErr
	}
	if out == nil {
		return nil
	}
	if p.EvalResults == nil {
		return nil
	}
	result, ok := p.EvalResults[expr]
	if !ok {
		return nil
	}
	switch v := out.(type) {
	case *float64:
		if f, ok := result.(float64); ok {
			*v = f
		}
	case *string:
		if s, ok := result.(string); ok {
			*v = s
		}
	case *bool:
		if b, ok := result.(bool); ok {
			*v = b
		}
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context, opts renderer.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	delay := p.ScreenshotDelay
	screenshotErr := p.ScreenshotErr
	data := p.screenshotData
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if screenshotErr != nil {
		return nil, screenshotErr
	}
	if data != nil {
		return data, nil
	}
	return []byte("fake-png-bytes"), nil
}

func (p *Page) PDF(ctx context.Context, opts renderer.PDFOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PDFErr != nil {
		return nil, p.PDFErr
	}
	if p.pdfData != nil {
		return p.pdfData, nil
	}
	return []byte("fake-pdf-bytes"), nil
}

func (p *Page) QueryOuterHTML(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return "<div>" + selector + "</div>", nil
}

func (p *Page) BoundingRect(ctx context.Context, selector string) (x, y, w, h float64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BoundingW == 0 && p.BoundingH == 0 {
		return 0, 0, 600, 400, nil
	}
	return 0, 0, p.BoundingW, p.BoundingH, nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) MainFrameDetached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detached
}

// Detach marks the page as having lost its main frame, for pool
// validation tests that expect a detached page to be destroyed.
func (p *Page) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = "navigated:" + url
	return nil
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Content returns the last value passed to SetContent or Navigate, for
// test assertions.
func (p *Page) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

// Disposed returns the handle IDs disposed so far.
func (p *Page) Disposed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(p.disposed))
	copy(cp, p.disposed)
	return cp
}

// Evaluated returns every expression passed to Evaluate so far, in order.
func (p *Page) Evaluated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(p.evaluated))
	copy(cp, p.evaluated)
	return cp
}

type handle struct {
	id   string
	kind string
}

func (h *handle) Dispose(ctx context.Context, rp renderer.Page) error {
	p, ok := rp.(*Page)
	if !ok {
		return fmt.Errorf("rendererfake: Dispose called with foreign page type")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = append(p.disposed, h.id)
	return nil
}
