package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds middleware configuration.
type Config struct {
	Logger *zap.Logger

	RequestTimeout time.Duration
}

// Chain creates a middleware chain with all configured middleware.
// Signature verification is route-scoped and applied in the router, not
// here: only the webhook receive endpoint carries a provider signature.
func Chain(config *Config) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		// Apply middleware in order (outer to inner)
		h := handler

		h = Timeout(config.RequestTimeout)(h)

		h = Recovery(config.Logger)(h)

		h = RequestID(h)

		h = Logger(config.Logger)(h)

		return h
	}
}
