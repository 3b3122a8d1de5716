// Package middleware holds the HTTP wrappers applied around the tally API.
package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/davidbz/tally/internal/config"
	"github.com/davidbz/tally/internal/observability"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares so the first one is the outermost wrapper.
//
//	chain := Chain(CORS(corsConfig), Trace(), AccessLog())
//	handler := chain(router)
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// BuildMiddlewareChain composes the server chain: CORS, then tracing, then the
// access log so that completed requests are logged with their trace ids.
func BuildMiddlewareChain(corsConfig *config.CORSConfig) Middleware {
	return Chain(
		CORS(corsConfig),
		Trace(),
		AccessLog(),
	)
}

// AccessLog logs the status, size and latency of every completed request.
func AccessLog() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.FromContext(r.Context()).Info("request completed",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", status),
				observability.Int("bytes", ww.BytesWritten()),
				observability.Duration("elapsed", time.Since(start)))
		})
	}
}
