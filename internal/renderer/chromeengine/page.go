package chromeengine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/onyxcharts/export-service/internal/renderer"
)

// Page wraps a single chromedp tab context.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

var _ renderer.Page = (*Page)(nil)

// elementHandle remembers the injected node's selector so Dispose can
// remove it again during the render pipeline's cleanup step.
type elementHandle struct {
	nodeID string
}

func (h *elementHandle) Dispose(ctx context.Context, p renderer.Page) error {
	pg, ok := p.(*Page)
	if !ok {
		return fmt.Errorf("dispose: page is not a chromeengine.Page")
	}
	execCtx, cancel := boundContext(pg.ctx, ctx)
	defer cancel()
	return chromedp.Run(execCtx, chromedp.Evaluate(
		fmt.Sprintf(`(function(){var n=document.querySelector('[data-onyx-handle="%s"]'); if(n) n.remove();})()`, h.nodeID),
		nil,
	))
}

// SetContent loads html by navigating to a data: URL. This avoids poking
// at the page's frame tree directly and matches how chromedp users
// typically inject arbitrary markup (no file on disk, no extra server).
func (p *Page) SetContent(ctx context.Context, html string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(html))
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(execCtx, chromedp.Navigate("data:text/html;base64,"+encoded))
}

func (p *Page) AddScript(ctx context.Context, src, body string) (renderer.ElementHandle, error) {
	handle := fmt.Sprintf("s-%p", &src)
	var script string
	if src != "" {
		script = fmt.Sprintf(`(function(){var el=document.createElement('script'); el.src=%s; el.setAttribute('data-onyx-handle',%s); document.head.appendChild(el); return new Promise(function(resolve){el.onload=resolve; el.onerror=resolve;});})()`, jsString(src), jsString(handle))
	} else {
		script = fmt.Sprintf(`(function(){var el=document.createElement('script'); el.text=%s; el.setAttribute('data-onyx-handle',%s); document.head.appendChild(el);})()`, jsString(body), jsString(handle))
	}
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(execCtx, chromedp.Evaluate(script, nil)); err != nil {
		return nil, err
	}
	return &elementHandle{nodeID: handle}, nil
}

func (p *Page) AddStyle(ctx context.Context, href, body string) (renderer.ElementHandle, error) {
	handle := fmt.Sprintf("c-%p", &href)
	var script string
	if href != "" {
		script = fmt.Sprintf(`(function(){var el=document.createElement('link'); el.rel='stylesheet'; el.href=%s; el.setAttribute('data-onyx-handle',%s); document.head.appendChild(el);})()`, jsString(href), jsString(handle))
	} else {
		script = fmt.Sprintf(`(function(){var el=document.createElement('style'); el.textContent=%s; el.setAttribute('data-onyx-handle',%s); document.head.appendChild(el);})()`, jsString(body), jsString(handle))
	}
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(execCtx, chromedp.Evaluate(script, nil)); err != nil {
		return nil, err
	}
	return &elementHandle{nodeID: handle}, nil
}

func (p *Page) Evaluate(ctx context.Context, expr string, out interface{}) error {
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	if out == nil {
		return chromedp.Run(execCtx, chromedp.Evaluate(expr, nil))
	}
	return chromedp.Run(execCtx, chromedp.Evaluate(expr, out))
}

func (p *Page) Screenshot(ctx context.Context, opts renderer.ScreenshotOptions) ([]byte, error) {
	var buf []byte
	action := chromedp.FullScreenshot(&buf, opts.JPEGQuality)
	if opts.Width > 0 && opts.Height > 0 {
		action = chromedp.Screenshot("html", &buf, chromedp.NodeVisible)
	}
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(execCtx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Page) PDF(ctx context.Context, opts renderer.PDFOptions) ([]byte, error) {
	var buf []byte
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	err := chromedp.Run(execCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPaperWidth(opts.WidthInches).
			WithPaperHeight(opts.HeightInches).
			WithPrintBackground(true).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	return buf, err
}

func (p *Page) QueryOuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	err := chromedp.Run(execCtx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery))
	if err != nil {
		return "", err
	}
	return html, nil
}

func (p *Page) BoundingRect(ctx context.Context, selector string) (x, y, w, h float64, err error) {
	var raw string
	script := fmt.Sprintf(`(function(){var n=document.querySelector(%s); if(!n) return ""; var r=n.getBoundingClientRect(); return JSON.stringify({x:r.x,y:r.y,width:r.width,height:r.height});})()`, jsString(selector))
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	if err = chromedp.Run(execCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return 0, 0, 0, 0, err
	}
	if raw == "" {
		return 0, 0, 0, 0, fmt.Errorf("boundingRect: no element matches %q", selector)
	}
	var rect struct{ X, Y, Width, Height float64 }
	if err = json.Unmarshal([]byte(raw), &rect); err != nil {
		return 0, 0, 0, 0, err
	}
	return rect.X, rect.Y, rect.Width, rect.Height, nil
}

func (p *Page) IsClosed() bool {
	return p.closed
}

func (p *Page) MainFrameDetached() bool {
	if p.closed {
		return true
	}
	var alive bool
	err := chromedp.Run(p.ctx, chromedp.Evaluate(`true`, &alive))
	return err != nil || !alive
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	execCtx, cancel := boundContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(execCtx, chromedp.Navigate(url))
}

func (p *Page) Close(ctx context.Context) error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	return nil
}

func jsString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}
