// Package pagefactory produces ready-to-render pages for the worker
// pool: it installs the fixed HTML template, the asset cache's library
// blob, and a render-hook prelude on every new page, and knows how to
// validate, reset, and destroy one.
package pagefactory

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"

	"github.com/onyxcharts/export-service/internal/assetcache"
	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/renderer"
)

// containerTemplate is the fixed HTML document every page starts from.
// The container element is what the pipeline measures and injects into.
const containerTemplate = `<!DOCTYPE html><html><head></head><body><div id="container"></div></body></html>`

// containerInnerPristine is what a soft Reset restores the container's
// innerHTML to (empty — no chart, no injected vector markup).
const containerInnerPristine = ``

// preludeScriptTemplate disables renderer-side animation and installs the
// display-errors flag, the page-error handler, and (when its %t argument,
// debug.listenToConsole, is true) the console-capture hook. It is
// evaluated once per page, right after the template and library blob are
// installed.
const preludeScriptTemplate = `(function(){
  if (window.Highcharts) {
    window.Highcharts.setOptions({ chart: { animation: false }, plotOptions: { series: { animation: false } } });
  }
  window.__displayErrors = false;
  window.__consoleLog = [];
  window.onerror = function(message){
    if (window.__displayErrors) {
      var c = document.getElementById('container');
      if (c) c.innerText = String(message);
    }
    return true;
  };
  if (window.console && %t) {
    var orig = console.log;
    console.log = function(){
      window.__consoleLog.push(Array.prototype.slice.call(arguments).join(' '));
      orig.apply(console, arguments);
    };
  }
})();`

// Resource is a pool resource: a page wrapped with identity and a work
// counter. The pool package owns the free/in-use bookkeeping; this struct
// only carries what the factory and pipeline need to drive the
// underlying page.
type Resource struct {
	ID        string
	Page      renderer.Page
	WorkCount int

	// injectedHandles is non-nil only while a job is using this resource;
	// the pipeline populates it during inject and clears it during cleanup.
	injectedHandles []renderer.ElementHandle
}

// Factory builds and tears down Resources for a worker pool. It reads
// the asset cache's blob on every create/hard-reset call, never caching
// it itself — in-flight jobs keep using whatever blob was installed in
// their page.
type Factory struct {
	engine renderer.Engine
	cache  *assetcache.Cache
	cfg    *config.Config
	logger *slog.Logger
}

// New constructs a Factory over an already-launched engine.
func New(engine renderer.Engine, cache *assetcache.Cache, cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{engine: engine, cache: cache, cfg: cfg, logger: logger}
}

// Create launches a new page, installs the template, the library blob,
// and the prelude, attaches the error/console listeners, and returns a
// Resource with a randomised initial workCount so that rotation times
// spread across the pool.
func (f *Factory) Create(ctx context.Context) (*Resource, error) {
	page, err := f.engine.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("pagefactory: new page: %w", err)
	}

	if err := f.install(ctx, page); err != nil {
		_ = page.Close(ctx)
		return nil, err
	}

	id := uuid.NewString()

	limit := f.cfg.Pool.WorkLimit
	initial := 0
	if limit > 1 {
		initial = rand.Intn(limit/2 + 1)
	}

	return &Resource{ID: id, Page: page, WorkCount: initial}, nil
}

// install writes the template, the cached library blob, and the prelude
// into page, in that order. Used by Create and by a hard Reset.
func (f *Factory) install(ctx context.Context, page renderer.Page) error {
	if err := page.SetContent(ctx, containerTemplate); err != nil {
		return fmt.Errorf("pagefactory: set content: %w", err)
	}

	blob := f.cache.Blob()
	if blob != "" {
		if _, err := page.AddScript(ctx, "", blob); err != nil {
			return fmt.Errorf("pagefactory: install library blob: %w", err)
		}
	}

	prelude := fmt.Sprintf(preludeScriptTemplate, f.cfg.Debug.ListenToConsole)
	if err := page.Evaluate(ctx, prelude, nil); err != nil {
		return fmt.Errorf("pagefactory: evaluate prelude: %w", err)
	}

	return nil
}

// Validate increments the resource's workCount and reports whether it
// remains usable: false if the new count exceeds workLimit, the page is
// closed, or its main frame has detached.
func (f *Factory) Validate(r *Resource) bool {
	r.WorkCount++
	if r.WorkCount > f.cfg.Pool.WorkLimit {
		return false
	}
	if r.Page.IsClosed() {
		return false
	}
	if r.Page.MainFrameDetached() {
		return false
	}
	return true
}

// Destroy closes the page. Close failures are logged, never surfaced —
// the pool must be able to retire a broken resource unconditionally.
func (f *Factory) Destroy(ctx context.Context, r *Resource) {
	if err := r.Page.Close(ctx); err != nil {
		f.logger.Warn("pagefactory: close page failed", "resource", r.ID, "error", err)
	}
}

// Reset returns r's page to the pristine state between jobs. Soft reset
// replaces the container's inner markup; hard reset navigates to
// about:blank and reinstalls the template, blob, and prelude from
// scratch. hard is chosen by the caller. The pool and the pipeline do not
// call Reset, so neither pool.hardResetOnRotation nor Job.HardReset has
// any effect on a page between jobs.
func (f *Factory) Reset(ctx context.Context, r *Resource, hard bool) error {
	if !hard {
		return r.Page.Evaluate(ctx, setContainerInnerHTMLScript(containerInnerPristine), nil)
	}

	if err := r.Page.Navigate(ctx, "about:blank"); err != nil {
		return fmt.Errorf("pagefactory: hard reset navigate: %w", err)
	}
	return f.install(ctx, r.Page)
}

func setContainerInnerHTMLScript(inner string) string {
	return fmt.Sprintf(`document.getElementById('container').innerHTML = %q;`, inner)
}

// SetDisplayErrors toggles the page-error listener installed by the
// prelude. The render pipeline calls this at classify time with
// displayErrorsFlag.
func SetDisplayErrors(ctx context.Context, page renderer.Page, enabled bool) error {
	return page.Evaluate(ctx, fmt.Sprintf(`window.__displayErrors = %t;`, enabled), nil)
}

// InjectedHandles returns r's currently tracked injected-resource
// handles, for the pipeline's inject/cleanup steps.
func (r *Resource) InjectedHandles() []renderer.ElementHandle {
	return r.injectedHandles
}

// TrackHandle appends h to r's injected-resource list.
func (r *Resource) TrackHandle(h renderer.ElementHandle) {
	r.injectedHandles = append(r.injectedHandles, h)
}

// ClearHandles empties r's injected-resource list, called by cleanup
// after every handle has been disposed.
func (r *Resource) ClearHandles() {
	r.injectedHandles = nil
}

// Retire forces r's next validation to fail: a resource that raised
// RasterizationTimeout may be in an unclean state and must not be reused.
func (r *Resource) Retire(workLimit int) {
	r.WorkCount = workLimit + 1
}
