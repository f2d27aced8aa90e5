package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/onyxcharts/export-service/internal/middleware"
	"github.com/onyxcharts/export-service/internal/pipeline"
	"github.com/onyxcharts/export-service/internal/svcerr"
)

// debuggerModule is the Highcharts module name that gates whether a
// caller's displayErrors request actually takes effect.
const debuggerModule = "debugger"

// handleExport serves POST / and POST /{filename}: decode, validate,
// build a job, acquire a renderer resource, run the pipeline, and write
// the result or an error.
func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r, g.cfg.Server.MaxRequestSize)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	if err := g.validate.Struct(req); err != nil {
		g.writeError(w, r, svcerr.NewValidationError("", err.Error()))
		return
	}

	job, err := req.toJob(struct {
		Height, Width int
		Scale         float64
		Type          string
		AllowFileRes  bool
	}{
		Height:       g.cfg.Export.DefaultHeight,
		Width:        g.cfg.Export.DefaultWidth,
		Scale:        g.cfg.Export.DefaultScale,
		Type:         g.cfg.Export.Type,
		AllowFileRes: g.cfg.CustomLogic.AllowFileResources,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	job.RequestID = middleware.GetRequestID(r.Context())
	job.DisplayErrors = req.DisplayErrors && g.cache.HasModule(debuggerModule)

	if filename := mux.Vars(r)["filename"]; filename != "" {
		req.Filename = filename
	}

	if g.stats != nil {
		g.stats.RecordAttempt(job.Input.VectorMarkup != "")
	}

	ctx := r.Context()
	resource, err := g.pool.Acquire(ctx)
	if err != nil {
		if g.stats != nil {
			g.stats.RecordDropped()
		}
		g.writeError(w, r, err)
		return
	}

	start := time.Now()
	result, renderErr := g.pipeline.Run(ctx, resource, job)
	g.pool.Release(resource)

	select {
	case <-ctx.Done():
		// Client disconnected: suppress the response, worker is already
		// released above.
		return
	default:
	}

	if renderErr != nil {
		if g.stats != nil {
			g.stats.RecordDropped()
		}
		g.writeError(w, r, renderErr)
		return
	}

	if g.stats != nil {
		g.stats.RecordPerformed(time.Since(start))
	}

	g.writeResult(w, req, result)
}

// writeResult writes result either as base64 text or as the raw bytes
// with a content-type and, unless noDownload was requested, a
// Content-Disposition header.
func (g *Gateway) writeResult(w http.ResponseWriter, req *exportRequest, result *pipeline.Result) {
	filename := req.Filename
	if filename == "" {
		filename = "chart." + extensionFor(result.ContentType)
	}

	if req.B64 {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString(result.Bytes)))
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	if !req.NoDownload {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Bytes)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpeg"
	case "application/pdf":
		return "pdf"
	case "image/svg+xml":
		return "svg"
	default:
		return "bin"
	}
}

// handleHealth serves GET /health: status, uptime, the installed
// Highcharts version, and a pool stats snapshot when one is wired in.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":           "OK",
		"uptime":           time.Since(g.startedAt).String(),
		"highchartsVersion": g.cache.Version(),
	}
	if g.stats != nil {
		payload["poolStats"] = g.stats.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

// handleChangeVersion serves POST /change-hc-version/{newVersion}, the
// admin route. Requires a matching hc-auth header.
func (g *Gateway) handleChangeVersion(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Server.AdminToken == "" || r.Header.Get("hc-auth") != g.cfg.Server.AdminToken {
		http.Error(w, `{"status":"error","message":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	newVersion := mux.Vars(r)["newVersion"]
	oldVersion := g.cfg.Highcharts.Version
	start := time.Now()
	err := g.cache.SwitchVersion(r.Context(), &g.cfg.Highcharts, newVersion)
	duration := time.Since(start)

	if err != nil {
		g.logger.Error("admin: switchVersion failed", "oldVersion", oldVersion, "newVersion", newVersion, "ip", clientAddr(r), "duration", duration, "error", err)
		http.Error(w, `{"status":"error","message":"version switch failed"}`, http.StatusInternalServerError)
		return
	}

	g.logger.Info("admin: switchVersion succeeded", "oldVersion", oldVersion, "newVersion", newVersion, "ip", clientAddr(r), "duration", duration)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
}

func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.Split(xff, ",")[0]
	}
	return r.RemoteAddr
}

// writeError maps err to a status code via svcerr.StatusFor and writes a
// JSON body, except for a cancelled request where no response is written
// at all since the client already disconnected.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, svcerr.Cancelled) || errors.Is(err, context.Canceled) {
		return
	}

	status := svcerr.StatusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": err.Error(),
	})
}
