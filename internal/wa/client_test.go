package wa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.WhatsAppConfig{
		BaseURL:    srv.URL,
		APIVersion: "v23.0",
		Timeout:    5,
		CircuitBreaker: config.CircuitBreakerConfig{
			MaxRequests:      3,
			Interval:         60,
			Timeout:          30,
			FailureRatio:     0.6,
			ConsecutiveFails: 5,
		},
	}
	return NewClient(cfg, zap.NewNop()), srv
}

func testCreds() models.Credentials {
	return models.Credentials{AccessToken: "test-token", PhoneNumberID: "123456"}
}

func TestClient_SendText(t *testing.T) {
	var captured map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v23.0/123456/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.TEST123"}},
		})
	})

	wamid, err := client.SendText(context.Background(), testCreds(), "+15551234567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.TEST123", wamid)

	assert.Equal(t, "whatsapp", captured["messaging_product"])
	assert.Equal(t, "+15551234567", captured["to"])
	assert.Equal(t, "text", captured["type"])
}

func TestClient_SendText_APIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid recipient","code":131026,"error_data":{"details":"Recipient is not a valid WhatsApp user"}}}`))
	})

	_, err := client.SendText(context.Background(), testCreds(), "+15550000000", "hello")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 131026, apiErr.Code)
	assert.Equal(t, "Invalid recipient", apiErr.Message)
	assert.Equal(t, "Recipient is not a valid WhatsApp user", apiErr.Details)
}

func TestClient_SendButtons_TruncatesToThree(t *testing.T) {
	var captured struct {
		Interactive struct {
			Action struct {
				Buttons []interface{} `json:"buttons"`
			} `json:"action"`
		} `json:"interactive"`
	}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.BTN"}]}`))
	})

	buttons := []models.Button{
		{ID: "a", Title: "A"},
		{ID: "b", Title: "B"},
		{ID: "c", Title: "C"},
		{ID: "d", Title: "D"},
	}
	wamid, err := client.SendButtons(context.Background(), testCreds(), "+15551234567", "pick one", buttons)
	require.NoError(t, err)
	assert.Equal(t, "wamid.BTN", wamid)
	assert.Len(t, captured.Interactive.Action.Buttons, 3)
}

func TestClient_SendTemplate(t *testing.T) {
	var captured map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.TPL"}]}`))
	})

	tpl := &TemplatePayload{
		Name:     "order_update",
		Language: TemplateLanguage{Code: "en_US"},
		Components: []TemplateComponent{
			{Type: "body", Parameters: []TemplateParameter{{Type: "text", Text: "Ravi"}}},
		},
	}
	wamid, err := client.SendTemplate(context.Background(), testCreds(), "+15551234567", tpl)
	require.NoError(t, err)
	assert.Equal(t, "wamid.TPL", wamid)
	assert.Equal(t, "template", captured["type"])
}

func TestClient_MarkReadWithTyping(t *testing.T) {
	var captured map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	err := client.MarkReadWithTyping(context.Background(), testCreds(), "wamid.INBOUND")
	require.NoError(t, err)
	assert.Equal(t, "read", captured["status"])
	assert.Equal(t, "wamid.INBOUND", captured["message_id"])
}

func TestClient_MarkReadWithTyping_ProviderFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false}`))
	})

	err := client.MarkReadWithTyping(context.Background(), testCreds(), "wamid.INBOUND")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider reported failure")
}

func TestClient_MarkReadWithTyping_TripsBreaker(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"server error","code":500}}`))
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = client.MarkReadWithTyping(ctx, testCreds(), "wamid.INBOUND")
	}

	state, _, _ := client.BreakerState()
	assert.Equal(t, "open", state)
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"server error","code":500}}`))
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, _ = client.SendText(ctx, testCreds(), "+15551234567", "hello")
	}

	state, _, _ := client.BreakerState()
	assert.Equal(t, "open", state)

	_, err := client.SendText(ctx, testCreds(), "+15551234567", "hello")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "open breaker should not surface a provider error")
}
