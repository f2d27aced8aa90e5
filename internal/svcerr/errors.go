// Package svcerr defines the typed error kinds that flow between the
// render pipeline, the worker pool, the asset cache, and the request
// gateway. Every fallible operation in the core returns one of these
// instead of an ad-hoc error string, so the gateway can map failures to
// HTTP status codes without inspecting error text.
package svcerr

import (
	"errors"
	"fmt"
	"net/http"
)

// CacheErrorKind classifies why the asset cache failed to fetch or
// persist the renderer-side library blob.
type CacheErrorKind string

const (
	CacheNetwork CacheErrorKind = "network"
	CacheIO      CacheErrorKind = "io"
	CacheParse   CacheErrorKind = "parse"
)

// CacheError is returned by the asset cache's ensure/switchVersion path.
type CacheError struct {
	Kind CacheErrorKind
	Op   string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("asset cache: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func NewCacheError(kind CacheErrorKind, op string, err error) *CacheError {
	return &CacheError{Kind: kind, Op: op, Err: err}
}

// PoolErrorKind classifies pool-side faults.
type PoolErrorKind string

const (
	PoolAcquireTimeout PoolErrorKind = "acquireTimeout"
	PoolCreateTimeout  PoolErrorKind = "createTimeout"
	PoolDestroyTimeout PoolErrorKind = "destroyTimeout"
	PoolDrained        PoolErrorKind = "drained"
)

// PoolError is returned by Pool.Acquire.
type PoolError struct {
	Kind PoolErrorKind
	Err  error
}

func (e *PoolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pool: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("pool: %s", e.Kind)
}

func (e *PoolError) Unwrap() error { return e.Err }

func NewPoolError(kind PoolErrorKind, err error) *PoolError {
	return &PoolError{Kind: kind, Err: err}
}

// ValidationError means the request input failed schema checks, or was
// missing/empty. Always surfaced to the client as 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// RenderError wraps a failure reported by the renderer page or the
// driver that talks to it. Message is sanitised before being attached
// to a client-facing response by the gateway.
type RenderError struct {
	Message string
	Err     error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render: %s: %v", e.Message, e.Err)
	}
	return "render: " + e.Message
}

func (e *RenderError) Unwrap() error { return e.Err }

func NewRenderError(message string, err error) *RenderError {
	return &RenderError{Message: message, Err: err}
}

// RasterizationTimeout is a specialised RenderError: the rasterization
// call (screenshot/pdf/evaluate) raced past the configured deadline. In
// addition to a 4xx response, the caller must mark the resource that
// served the job for destruction — it may be left mid-paint.
type RasterizationTimeout struct {
	Elapsed string
}

func (e *RasterizationTimeout) Error() string {
	return fmt.Sprintf("rasterization timed out after %s", e.Elapsed)
}

// Cancelled means the client disconnected before the job finished. The
// gateway suppresses the response but the worker still runs cleanup and
// is released normally (unless the cancellation raced a
// RasterizationTimeout, in which case the latter wins).
var Cancelled = errors.New("job cancelled by client disconnect")

// StatusFor maps an error produced anywhere in the core to the HTTP
// status code the gateway should write. Unknown errors fall back to 500.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}

	var rerr *RenderError
	if errors.As(err, &rerr) {
		return http.StatusBadRequest
	}

	var rto *RasterizationTimeout
	if errors.As(err, &rto) {
		return http.StatusBadRequest
	}

	var perr *PoolError
	if errors.As(err, &perr) {
		if perr.Kind == PoolAcquireTimeout {
			return http.StatusTooManyRequests
		}
		return http.StatusInternalServerError
	}

	var cerr *CacheError
	if errors.As(err, &cerr) {
		return http.StatusInternalServerError
	}

	if errors.Is(err, Cancelled) {
		// Never actually written: the gateway checks for Cancelled before
		// calling StatusFor and writes nothing. Kept here so StatusFor
		// remains total over every svcerr type.
		return 0
	}

	return http.StatusInternalServerError
}
