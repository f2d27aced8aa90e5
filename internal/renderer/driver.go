// Package renderer is the thin adapter over a headless browser engine:
// Engine (launch, newPage, close) and Page (setContent, addScript,
// addStyle, evaluate, screenshot, pdf, queryOuterHTML, close). The
// production implementation wraps github.com/chromedp/chromedp; tests
// substitute the fake in the rendererfake subpackage so the pool and
// pipeline never need a real browser.
package renderer

import (
	"context"
	"time"
)

// ScreenshotOptions carries the parameters the render pipeline resolves
// in its measure step down to the driver call.
type ScreenshotOptions struct {
	ClipX, ClipY          float64
	Width, Height         int
	Scale                 float64
	Transparent           bool
	JPEGQuality           int // 0 means PNG
	CaptureBeyondViewport bool
	OptimizeForSpeed      bool
}

// PDFOptions carries the page geometry for a PDF export. Height is
// already adjusted by the +1 that suppresses a trailing blank page.
type PDFOptions struct {
	WidthInches, HeightInches float64
}

// Page is a tab-like rendering surface owned by the Engine. All methods
// on a Page must only be called by the goroutine that currently holds
// the enclosing pool resource: pages are not safe for concurrent use.
type Page interface {
	// SetContent installs an HTML document as the page's content.
	SetContent(ctx context.Context, html string) error

	// AddScript injects a <script> tag, inline (body != "") or by src
	// (src != ""), and returns a handle Dispose can later remove.
	AddScript(ctx context.Context, src, body string) (ElementHandle, error)

	// AddStyle injects a <style> (body != "") or <link rel=stylesheet>
	// (href != "") tag, returning a handle for later removal.
	AddStyle(ctx context.Context, href, body string) (ElementHandle, error)

	// Evaluate runs a JavaScript expression in the page and unmarshals
	// its result into out (if non-nil).
	Evaluate(ctx context.Context, expr string, out interface{}) error

	// Screenshot captures the region described by opts.
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)

	// PDF emits a PDF of the page sized per opts.
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)

	// QueryOuterHTML returns the outerHTML of the first element matching
	// selector, or an error if none is found.
	QueryOuterHTML(ctx context.Context, selector string) (string, error)

	// BoundingRect returns the bounding rectangle of the first element
	// matching selector, used to resolve the clip origin in the measure
	// step.
	BoundingRect(ctx context.Context, selector string) (x, y, width, height float64, err error)

	// IsClosed reports whether the underlying tab has been closed.
	IsClosed() bool

	// MainFrameDetached reports whether the page's main frame has
	// detached (navigated away unexpectedly, crashed renderer process).
	MainFrameDetached() bool

	// Navigate loads url, used for the hard-reset path (about:blank).
	Navigate(ctx context.Context, url string) error

	// Close closes the underlying tab.
	Close(ctx context.Context) error
}

// ElementHandle is an opaque reference to a DOM node added by AddScript
// or AddStyle, used only so the render pipeline can remove it again in
// its cleanup step.
type ElementHandle interface {
	// Dispose removes the element from the page.
	Dispose(ctx context.Context, page Page) error
}

// Engine is the long-lived external collaborator: the headless browser
// process itself. One Engine is shared by every PoolResource.
type Engine interface {
	// NewPage opens a fresh tab.
	NewPage(ctx context.Context) (Page, error)

	// Close shuts down the engine and every page it owns.
	Close(ctx context.Context) error
}

// DefaultRasterizationTimeout is used when no explicit timeout is configured.
const DefaultRasterizationTimeout = 1500 * time.Millisecond
