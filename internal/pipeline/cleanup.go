package pipeline

import (
	"context"
	"log/slog"

	"github.com/onyxcharts/export-service/internal/pagefactory"
)

// cleanup disposes every injected handle and destroys any chart attached
// to the container, unconditionally, on both success and failure. Errors
// here are logged, never surfaced — the job's own result (or error) has
// already been decided.
func (pl *Pipeline) cleanup(ctx context.Context, r *pagefactory.Resource, job *Job) {
	_ = r.Page.Evaluate(ctx, `(function(){ if (window.__onyxChart && window.__onyxChart.destroy) { window.__onyxChart.destroy(); } window.__onyxChart = null; })()`, nil)

	for _, h := range job.handles {
		if err := h.Dispose(ctx, r.Page); err != nil {
			slog.Default().Warn("pipeline: failed to dispose injected handle", "request", job.RequestID, "error", err)
		}
	}
	job.handles = nil
	r.ClearHandles()
}
