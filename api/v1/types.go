// Package v1 provides the relay's HTTP API: message submit and fetch,
// delivery status, the platform webhook and connection settings.
package v1

import (
	"encoding/json"

	"dmsrelay/internal/dedup"
	"dmsrelay/internal/message"
	"dmsrelay/internal/pending"
)

// Error codes for API responses.
const (
	// Client errors (4xx)
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"

	// Server errors (5xx)
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeNotConfigured      = "NOT_CONFIGURED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodePlatformError      = "PLATFORM_ERROR"
)

// =============================================================================
// Messages
// =============================================================================

// SubmitMessageRequest is the body of POST /messages. Text accepts a string
// or an array of strings.
type SubmitMessageRequest struct {
	CustomerID      string          `json:"customerId"`
	MessageID       string          `json:"messageId"`
	Text            any             `json:"text,omitempty"`
	CustomerName    string          `json:"customerName,omitempty"`
	AdvancedPayload message.Payload `json:"advancedPayload,omitempty"`
}

// SubmitMessageResponse mirrors the platform reply.
type SubmitMessageResponse struct {
	Status        int             `json:"status"`
	Message       string          `json:"message"`
	MessageStatus pending.Status  `json:"messageStatus"`
	MessageID     string          `json:"messageId"`
	MessageType   message.Type    `json:"messageType"`
	DMSResponse   json.RawMessage `json:"dmsResponse,omitempty"`
}

// MessagesResponse is returned by GET /messages/{customerId}.
type MessagesResponse struct {
	CustomerID string           `json:"customerId"`
	Messages   []*message.Event `json:"messages"`
}

// ClearMessagesResponse is returned by DELETE /messages.
type ClearMessagesResponse struct {
	Success bool `json:"success"`
	Cleared int  `json:"cleared"`
}

// =============================================================================
// Message status
// =============================================================================

// UpdateStatusRequest is the body of POST /message-status.
type UpdateStatusRequest struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// UpdateStatusResponse reports whether the status changed anything.
type UpdateStatusResponse struct {
	Success bool `json:"success"`
	Applied bool `json:"applied"`
}

// MessageStatusResponse is returned by GET /message-status/{messageId}.
type MessageStatusResponse struct {
	MessageID string         `json:"messageId"`
	Status    pending.Status `json:"status"`
}

// WebhookResponse acknowledges a platform callback.
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Stored    bool   `json:"stored"`
	Decision  string `json:"decision"`
	Orphaned  bool   `json:"orphaned,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`
}

// =============================================================================
// Connection
// =============================================================================

// PingResponse reports whether the platform answered a test message.
type PingResponse struct {
	Connected bool   `json:"connected"`
	Status    int    `json:"status,omitempty"`
	Message   string `json:"message"`
}

// ConfigStatusResponse is returned by GET /config.
type ConfigStatusResponse struct {
	Connected bool `json:"connected"`
}

// UpdateConfigRequest is the body of POST /config. Empty fields are left
// unchanged.
type UpdateConfigRequest struct {
	JWTSecret  string `json:"jwtSecret"`
	ChannelID  string `json:"channelId"`
	APIURL     string `json:"apiUrl"`
	WebhookURL string `json:"webhookUrl"`
}

// UpdateConfigResponse reports whether the settings changed.
type UpdateConfigResponse struct {
	Success    bool `json:"success"`
	Changed    bool `json:"changed"`
	Configured bool `json:"configured"`
}

// =============================================================================
// Debug
// =============================================================================

// DebugMessagesResponse dumps the ledger.
type DebugMessagesResponse struct {
	Count          int              `json:"count"`
	Orphans        int              `json:"orphans"`
	Messages       []*message.Event `json:"messages"`
	ProcessedIDs   []string         `json:"processedMessageIds"`
	ProcessedCount int              `json:"processedCount"`
}

// RecentMessage summarises one ledger event.
type RecentMessage struct {
	MessageID  string       `json:"message_id,omitempty"`
	Type       message.Type `json:"type"`
	Timestamp  string       `json:"timestamp"`
	CustomerID string       `json:"customer_id,omitempty"`
}

// DebugDedupResponse reports dedup totals.
type DebugDedupResponse struct {
	TotalStoredMessages int             `json:"totalStoredMessages"`
	Stats               dedup.Stats     `json:"stats"`
	RecentMessages      []RecentMessage `json:"recentMessages"`
}

// DebugConfigResponse shows the effective settings with the secret masked.
type DebugConfigResponse struct {
	Settings            map[string]string `json:"settings"`
	Environment         map[string]string `json:"environment"`
	WebhookEndpoints    []string          `json:"webhookEndpoints"`
	SuggestedWebhookURL string            `json:"suggestedWebhookUrl"`
}

// DebugPendingResponse lists active pending sends.
type DebugPendingResponse struct {
	Count   int             `json:"count"`
	Pending []pending.Entry `json:"pending"`
}

// RunJobResponse is the response for POST /debug/jobs/{name}/run.
type RunJobResponse struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}
