package v1

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsrelay/internal/gateway/handlers"
	"dmsrelay/internal/pending"
)

func TestSubmitMessage_Validation(t *testing.T) {
	api := newTestAPI(t, true)

	tests := []struct {
		name string
		body any
	}{
		{"missing message id", map[string]any{"customerId": "TestClient", "text": "hi"}},
		{"missing customer id", map[string]any{"messageId": "m1", "text": "hi"}},
		{"missing text", map[string]any{"customerId": "TestClient", "messageId": "m1"}},
		{"malformed json", "{nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/api/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
	assert.Empty(t, api.platform.sent())
}

func TestSubmitMessage_NotConfigured(t *testing.T) {
	api := newTestAPI(t, false)

	rr := api.do(t, http.MethodPost, "/api/messages", map[string]any{
		"customerId": "TestClient", "messageId": "m1", "text": "hi",
	})

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	resp := decode[handlers.ErrorResponse](t, rr)
	assert.Equal(t, ErrCodeNotConfigured, resp.Error.Code)
}

func TestSubmitMessage_Text(t *testing.T) {
	api := newTestAPI(t, true)

	rr := api.do(t, http.MethodPost, "/api/messages", map[string]any{
		"customerId": "TestClient", "messageId": "m1", "text": "hello",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode[SubmitMessageResponse](t, rr)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, pending.StatusSent, resp.MessageStatus)
	assert.Equal(t, "m1", resp.MessageID)
	assert.Equal(t, "text", string(resp.MessageType))
	assert.JSONEq(t, `{"accepted":true}`, string(resp.DMSResponse))

	sent := api.platform.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "TestClient", sent[0]["customer_id"])
	assert.Equal(t, "Customer", sent[0]["customer_name"])
	assert.Equal(t, []any{"hello"}, sent[0]["text"])

	assert.Equal(t, pending.StatusSent, api.service.MessageStatus("m1"))
}

func TestSubmitMessage_PlatformRejectIsMirrored(t *testing.T) {
	api := newTestAPI(t, true)
	api.platform.setStatus(http.StatusUnauthorized)

	rr := api.do(t, http.MethodPost, "/api/v1/messages", map[string]any{
		"customerId": "TestClient", "messageId": "m1", "text": []string{"a", "b"},
	})

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	resp := decode[SubmitMessageResponse](t, rr)
	assert.Equal(t, pending.StatusError, resp.MessageStatus)
	assert.Equal(t, pending.StatusUnknown, api.service.MessageStatus("m1"), "errored sends leave the tracker")
}

func TestSubmitMessage_TransportFailure(t *testing.T) {
	api := newTestAPI(t, true)
	api.platform.srv.Close()

	rr := api.do(t, http.MethodPost, "/api/messages", map[string]any{
		"customerId": "TestClient", "messageId": "m1", "text": "hi",
	})

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	resp := decode[SubmitMessageResponse](t, rr)
	assert.Equal(t, pending.StatusError, resp.MessageStatus)
	assert.Equal(t, "m1", resp.MessageID)
}

func TestSubmitMessage_AdvancedPayload(t *testing.T) {
	api := newTestAPI(t, true)

	rr := api.do(t, http.MethodPost, "/api/messages", map[string]any{
		"customerId": "TestClient",
		"messageId":  "m2",
		"advancedPayload": map[string]any{
			"type":  "typing_indicator",
			"state": "on",
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	sent := api.platform.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "TestClient", sent[0]["customer_id"])
	assert.NotContains(t, sent[0], "message_id")
	assert.NotEmpty(t, sent[0]["timestamp"])
	assert.Empty(t, api.service.Pending(), "typing indicators are not tracked")
}

func TestGetMessages(t *testing.T) {
	api := newTestAPI(t, false)

	for _, body := range []string{
		`{"type":"text","customer_id":"TestClient","message_id":"a","text":["one"],"timestamp":"2024-01-01T00:00:01.000Z"}`,
		`{"type":"text","customer_id":"Other","message_id":"b","text":["two"],"timestamp":"2024-01-01T00:00:02.000Z"}`,
		`{"type":"text","customer_id":"TestClient","message_id":"c","text":["three"],"timestamp":"2024-01-01T00:00:03.000Z"}`,
		`{"type":"mystery","customer_id":"TestClient","message_id":"d","timestamp":"2024-01-01T00:00:04.000Z"}`,
	} {
		require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/dms/webhook", body).Code)
	}

	rr := api.do(t, http.MethodGet, "/api/messages/TestClient", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[struct {
		CustomerID string           `json:"customerId"`
		Messages   []map[string]any `json:"messages"`
	}](t, rr)
	assert.Equal(t, "TestClient", resp.CustomerID)
	require.Len(t, resp.Messages, 2, "unrenderable events are not returned")
	assert.Equal(t, "a", resp.Messages[0]["message_id"])
	assert.Equal(t, "c", resp.Messages[1]["message_id"])

	rr = api.do(t, http.MethodGet, "/api/messages/TestClient?since=2024-01-01T00:00:01.000Z", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp = decode[struct {
		CustomerID string           `json:"customerId"`
		Messages   []map[string]any `json:"messages"`
	}](t, rr)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "c", resp.Messages[0]["message_id"])

	rr = api.do(t, http.MethodGet, "/api/messages/Nobody", nil)
	assert.JSONEq(t, `{"customerId":"Nobody","messages":[]}`, rr.Body.String())
}

func TestGetMessages_InvalidSince(t *testing.T) {
	api := newTestAPI(t, false)

	rr := api.do(t, http.MethodGet, "/api/messages/TestClient?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClearMessages(t *testing.T) {
	api := newTestAPI(t, false)
	api.do(t, http.MethodPost, "/api/dms/webhook", `{"type":"text","customer_id":"TestClient","message_id":"a","text":["x"]}`)
	api.do(t, http.MethodPost, "/api/dms/webhook", `{"type":"text","customer_id":"TestClient","message_id":"b","text":["y"]}`)

	rr := api.do(t, http.MethodDelete, "/api/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"cleared":2}`, rr.Body.String())

	// the same id is accepted again after a clear
	rr = api.do(t, http.MethodPost, "/api/dms/webhook", `{"type":"text","customer_id":"TestClient","message_id":"a","text":["x"]}`)
	assert.Equal(t, "new_unique", decode[WebhookResponse](t, rr).Decision)
}
