// Package wa implements the outbound message transport client for the
// WhatsApp Cloud (Graph) API.
package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/models"
)

//go:generate mockgen -source=client.go -destination=mocks/sender.go -package=mocks

// Sender sends a single outbound message and returns the provider message
// id. Implementations must return *APIError for provider-rejected sends.
type Sender interface {
	SendText(ctx context.Context, creds models.Credentials, to, body string) (string, error)
	SendImage(ctx context.Context, creds models.Credentials, to, url, caption string) (string, error)
	SendButtons(ctx context.Context, creds models.Credentials, to, body string, buttons []models.Button) (string, error)
	SendList(ctx context.Context, creds models.Credentials, to, body, buttonLabel string, rows []models.Button) (string, error)
	SendTemplate(ctx context.Context, creds models.Credentials, to string, tpl *TemplatePayload) (string, error)
	MarkReadWithTyping(ctx context.Context, creds models.Credentials, wamid string) error
}

// Client is the Graph API transport. All sends run through a shared circuit
// breaker so a provider outage trips quickly instead of timing out
// per-recipient.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

var _ Sender = (*Client)(nil)

func NewClient(cfg *config.WhatsAppConfig, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "whatsapp-transport",
		MaxRequests: cfg.CircuitBreaker.MaxRequests,
		Interval:    time.Duration(cfg.CircuitBreaker.Interval) * time.Second,
		Timeout:     time.Duration(cfg.CircuitBreaker.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.CircuitBreaker.ConsecutiveFails && failureRatio >= cfg.CircuitBreaker.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (c *Client) SendText(ctx context.Context, creds models.Credentials, to, body string) (string, error) {
	return c.send(ctx, creds, &sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: body},
	})
}

func (c *Client) SendImage(ctx context.Context, creds models.Credentials, to, url, caption string) (string, error) {
	return c.send(ctx, creds, &sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "image",
		Image:            &mediaPayload{Link: url, Caption: caption},
	})
}

// SendButtons sends an interactive prompt with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, creds models.Credentials, to, body string, buttons []models.Button) (string, error) {
	if len(buttons) > 3 {
		buttons = buttons[:3]
	}
	action := &interactiveAction{}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, interactiveButton{
			Type:  "reply",
			Reply: buttonReply{ID: b.ID, Title: b.Title},
		})
	}
	return c.send(ctx, creds, &sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &interactivePayload{
			Type:   "button",
			Body:   interactiveBody{Text: body},
			Action: action,
		},
	})
}

// SendList sends an interactive list prompt, used when more options are
// needed than reply buttons allow.
func (c *Client) SendList(ctx context.Context, creds models.Credentials, to, body, buttonLabel string, rows []models.Button) (string, error) {
	section := interactiveSection{}
	for _, r := range rows {
		section.Rows = append(section.Rows, interactiveRow{ID: r.ID, Title: r.Title})
	}
	if buttonLabel == "" {
		buttonLabel = "Select"
	}
	return c.send(ctx, creds, &sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &interactivePayload{
			Type:   "list",
			Body:   interactiveBody{Text: body},
			Action: &interactiveAction{Button: buttonLabel, Sections: []interactiveSection{section}},
		},
	})
}

func (c *Client) SendTemplate(ctx context.Context, creds models.Credentials, to string, tpl *TemplatePayload) (string, error) {
	return c.send(ctx, creds, &sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		RecipientType:    "individual",
		Type:             "template",
		Template:         tpl,
	})
}

// MarkReadWithTyping marks the given inbound message read and shows a
// typing indicator to the contact. The endpoint answers a success envelope
// rather than a message id.
func (c *Client) MarkReadWithTyping(ctx context.Context, creds models.Credentials, wamid string) error {
	payload := &typingRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        wamid,
		TypingIndicator:  typingIndicator{Type: "text"},
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.post(ctx, creds, payload)
		if err != nil {
			return nil, err
		}
		var resp successResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if !resp.Success {
			return nil, fmt.Errorf("provider reported failure marking message read")
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("transport unavailable: %w", err)
	}
	return err
}

func (c *Client) send(ctx context.Context, creds models.Credentials, req *sendRequest) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.post(ctx, creds, req)
		if err != nil {
			return "", err
		}
		var sendResp sendResponse
		if err := json.Unmarshal(body, &sendResp); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if len(sendResp.Messages) == 0 || sendResp.Messages[0].ID == "" {
			return "", fmt.Errorf("no message id in provider response")
		}
		return sendResp.Messages[0].ID, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("transport unavailable: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

// post issues the raw Graph API call, returning the response body on success
// or a structured provider error.
func (c *Client) post(ctx context.Context, creds models.Credentials, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var envelope errorEnvelope
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error.Message != "" {
			return nil, &APIError{
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
				Details: envelope.Error.ErrorData.Details,
			}
		}
		return nil, &APIError{Code: resp.StatusCode, Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode)}
	}

	return body, nil
}

// BreakerState exposes circuit breaker health for the health endpoint.
func (c *Client) BreakerState() (state string, requests, failures uint32) {
	counts := c.breaker.Counts()
	return c.breaker.State().String(), counts.Requests, counts.TotalFailures
}
