package middleware

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID extracts the request ID set by RequestID. Returns
// "unknown" if the middleware never ran (e.g. in a unit test calling a
// handler directly).
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
