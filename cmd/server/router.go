package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/handler"
	"github.com/sabnode/messaging-engine/internal/middleware"
)

func setupRouter(h *handler.Handler, cfg *config.Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.HealthCheck)

	r.Route("/webhooks/meta", func(r chi.Router) {
		r.Get("/", h.VerifyWebhook)

		// Only the receive path carries a provider signature.
		r.With(middleware.VerifySignature(cfg.WhatsApp.AppSecret, logger)).
			Post("/", h.ReceiveWebhook)
	})

	return r
}
