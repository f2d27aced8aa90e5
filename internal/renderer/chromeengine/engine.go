// Package chromeengine is the production implementation of the
// renderer.Engine/renderer.Page interfaces, backed by a single headless
// Chrome process driven through github.com/chromedp/chromedp and
// github.com/chromedp/cdproto. One Engine instance is launched at process
// startup and shared by every pool resource.
package chromeengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/onyxcharts/export-service/internal/renderer"
)

// boundContext derives a context that carries assoc's chromedp
// allocator/tab association but is cancelled as soon as either assoc or
// caller is done. chromedp.Run requires its argument to carry that
// association, so a plain caller-supplied context can't be passed
// directly without losing it; this lets a caller's deadline or
// cancellation still abort the in-flight call.
func boundContext(assoc, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(assoc)
	done := make(chan struct{})
	go func() {
		select {
		case <-caller.Done():
			cancel()
		case <-done:
		}
	}()
	var once sync.Once
	return ctx, func() {
		once.Do(func() { close(done) })
		cancel()
	}
}

// Options configures the headless Chrome process at launch.
type Options struct {
	ExecPath      string
	Headless      bool
	NoSandbox     bool
	WindowWidth   int
	WindowHeight  int
	ExtraFlags    map[string]interface{}
}

// Engine owns the top-level chromedp allocator context. Close shuts down
// the Chrome process and every tab it owns.
type Engine struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserDone context.CancelFunc
}

var _ renderer.Engine = (*Engine)(nil)

// Launch starts a headless Chrome process per opts and returns an Engine
// wrapping it. The returned Engine must be Close'd to terminate the
// process; callers otherwise leak it until the parent context is done.
func Launch(ctx context.Context, opts Options) (*Engine, error) {
	flags := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if opts.Headless {
		flags = append(flags, chromedp.Headless)
	}
	if opts.NoSandbox {
		flags = append(flags, chromedp.Flag("no-sandbox", true))
	}
	if opts.ExecPath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		flags = append(flags, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	for name, value := range opts.ExtraFlags {
		flags = append(flags, chromedp.Flag(name, value))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, flags...)
	browserCtx, browserDone := chromedp.NewContext(allocCtx)

	// Force the browser process to actually start so launch failures
	// surface here rather than on the first NewPage call.
	if err := chromedp.Run(browserCtx); err != nil {
		browserDone()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	return &Engine{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		browserDone: browserDone,
	}, nil
}

// NewPage opens a new tab sharing the Engine's browser process, bounded
// by ctx's deadline.
func (e *Engine) NewPage(ctx context.Context) (renderer.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)

	execCtx, cancel := boundContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(execCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &Page{ctx: tabCtx, cancel: tabCancel}, nil
}

// Close terminates the browser process and releases the allocator.
func (e *Engine) Close(ctx context.Context) error {
	e.browserDone()
	e.allocCancel()
	return nil
}
