package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/onyxcharts/export-service/internal/pagefactory"
	"github.com/onyxcharts/export-service/internal/svcerr"
)

// inject installs customLogic.resources into the page and tracks every
// handle for cleanup. File references are only honoured when
// allowFileResources is set; otherwise only URLs are permitted. Inline
// CSS @import directives are lifted to <link> tags; URL @imports are
// always allowed, file @imports only under the same allowFileResources
// gate.
func (pl *Pipeline) inject(ctx context.Context, r *pagefactory.Resource, job *Job) error {
	if job.Resources.JS != "" {
		h, err := r.Page.AddScript(ctx, "", job.Resources.JS)
		if err != nil {
			return svcerr.NewRenderError("inject script", err)
		}
		r.TrackHandle(h)
		job.handles = append(job.handles, h)
	}

	for _, ref := range job.Resources.Files {
		isURL := strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
		if !isURL && !job.AllowFileRes {
			continue
		}
		h, err := r.Page.AddScript(ctx, ref, "")
		if err != nil {
			return svcerr.NewRenderError("inject resource file", err)
		}
		r.TrackHandle(h)
		job.handles = append(job.handles, h)
	}

	if job.Resources.CSS != "" {
		css, links := liftImports(job.Resources.CSS, job.AllowFileRes)
		for _, href := range links {
			h, err := r.Page.AddStyle(ctx, href, "")
			if err != nil {
				return svcerr.NewRenderError("inject css import", err)
			}
			r.TrackHandle(h)
			job.handles = append(job.handles, h)
		}
		if strings.TrimSpace(css) != "" {
			h, err := r.Page.AddStyle(ctx, "", css)
			if err != nil {
				return svcerr.NewRenderError("inject inline css", err)
			}
			r.TrackHandle(h)
			job.handles = append(job.handles, h)
		}
	}

	return nil
}

// liftImports removes @import directives from css and returns them as a
// separate list of hrefs to be installed as <link> tags, plus the
// remaining CSS with those directives stripped. A file-path @import is
// dropped unless allowFileResources is set.
func liftImports(css string, allowFileResources bool) (remaining string, links []string) {
	lines := strings.Split(css, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "@import") {
			kept = append(kept, line)
			continue
		}
		href := extractImportURL(trimmed)
		if href == "" {
			continue
		}
		isURL := strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")
		if !isURL && !allowFileResources {
			continue
		}
		links = append(links, href)
	}
	return strings.Join(kept, "\n"), links
}

func extractImportURL(directive string) string {
	directive = strings.TrimPrefix(directive, "@import")
	directive = strings.TrimSpace(directive)
	directive = strings.TrimSuffix(directive, ";")
	directive = strings.Trim(directive, `'"`)
	directive = strings.TrimPrefix(directive, "url(")
	directive = strings.TrimSuffix(directive, ")")
	return strings.Trim(directive, `'"`)
}

// buildRenderHookCall marshals cfg into a script that creates the chart
// with Highcharts.chart on the container and stores the export options
// (height, width, scale) on window.__onyxExportOpts. The display-errors
// flag is not part of this call; classify sets it beforehand through
// pagefactory.SetDisplayErrors.
func buildRenderHookCall(cfg map[string]interface{}, job *Job) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		data = []byte("{}")
	}
	exportOpts := map[string]interface{}{
		"height": job.Height,
		"width":  job.Width,
		"scale":  job.Scale,
	}
	optsData, err := json.Marshal(exportOpts)
	if err != nil {
		optsData = []byte("{}")
	}
	return fmt.Sprintf(
		`window.__onyxChart = Highcharts.chart('container', %s); (window.__onyxExportOpts = %s);`,
		string(data), string(optsData),
	)
}
