package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/davidbz/tally/internal/config"
)

// exposedHeaders lets browser clients read the ids needed to correlate a
// charge with server logs.
var exposedHeaders = []string{"X-Trace-Id", "X-Request-Id"}

// CORS applies the configured cross-origin policy. A nil config disables it.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	policy := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})

	return policy.Handler
}
