// Package handler provides HTTP request handlers for the application.
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/middleware"
	"github.com/sabnode/messaging-engine/internal/service"
)

// maxWebhookBody bounds the accepted webhook payload size.
const maxWebhookBody = 3 << 20

const (
	errorCodeVerificationFailed = "VERIFICATION_FAILED"
	errorCodeInvalidPayload     = "INVALID_PAYLOAD"
)

const (
	errorMessageVerificationFailed = "Webhook verification failed"
	errorMessageInvalidPayload     = "Request body could not be read"
	errorMessageFailedToStore      = "Failed to store webhook payload"
)

// webhookIngester stores a raw webhook payload for asynchronous processing.
type webhookIngester interface {
	Ingest(ctx context.Context, payload []byte) (int64, error)
}

type Handler struct {
	ingester    webhookIngester
	health      service.HealthService
	verifyToken string
	logger      *zap.Logger
}

func NewHandler(ingester webhookIngester, health service.HealthService, verifyToken string, logger *zap.Logger) *Handler {
	return &Handler{
		ingester:    ingester,
		health:      health,
		verifyToken: verifyToken,
		logger:      logger,
	}
}

// VerifyWebhook answers the provider's subscription handshake: when the
// verify token matches, the hub.challenge value is echoed back as plain text.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken || challenge == "" {
		h.logger.Warn("Webhook verification rejected",
			zap.String("mode", mode),
			zap.String("remote_addr", r.RemoteAddr))
		h.sendError(w, r, http.StatusForbidden, errorCodeVerificationFailed, errorMessageVerificationFailed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// ReceiveWebhook stores the raw payload and acks immediately. The provider
// retries on anything but a fast 200, so no processing happens on this path.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, errorCodeInvalidPayload, errorMessageInvalidPayload)
		return
	}

	if _, err := h.ingester.Ingest(r.Context(), payload); err != nil {
		h.logger.Error("Failed to store webhook payload",
			zap.String("request_id", requestID),
			zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, errorMessageFailedToStore)
		return
	}

	render.JSON(w, r, map[string]string{"status": "received"})
}

// HealthCheck reports component health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.health.GetHealth()

	response := healthResponse{
		Status:               health.Status,
		Timestamp:            time.Now(),
		SchedulerStatus:      health.SchedulerStatus,
		DatabaseStatus:       health.DatabaseStatus,
		RedisStatus:          health.RedisStatus,
		CircuitBreakerStatus: health.CircuitBreakerStatus,
		CircuitBreakerState:  health.CircuitBreakerState,
	}

	if health.Status == service.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	render.JSON(w, r, response)
}

type healthResponse struct {
	Status               string    `json:"status"`
	Timestamp            time.Time `json:"timestamp"`
	SchedulerStatus      string    `json:"scheduler_status,omitempty"`
	DatabaseStatus       string    `json:"database_status,omitempty"`
	RedisStatus          string    `json:"redis_status,omitempty"`
	CircuitBreakerStatus string    `json:"circuit_breaker_status,omitempty"`
	CircuitBreakerState  string    `json:"circuit_breaker_state,omitempty"`
}

type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	render.Status(r, statusCode)
	render.JSON(w, r, errorResponse{
		Error:     errorCode,
		Message:   message,
		Timestamp: time.Now(),
	})
}
