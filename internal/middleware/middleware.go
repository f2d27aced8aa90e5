// Package middleware provides the HTTP middleware stack for the request
// gateway: request IDs, access logging, panic recovery, and rate
// limiting, composed via a simple Chain helper.
package middleware

import "net/http"

// Middleware wraps an http.Handler with cross-cutting behaviour.
type Middleware func(http.Handler) http.Handler

// Chain composes middleware so the first in the list is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
