// Package dms is the HTTP client for the Digital Messaging Service platform.
package dms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dmsrelay/pkg/logger"
)

// DefaultTimeout is used when Settings.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Settings holds platform credentials and endpoints.
type Settings struct {
	JWTSecret  string        `json:"jwt_secret" mapstructure:"jwt_secret" yaml:"jwt_secret"`
	ChannelID  string        `json:"channel_id" mapstructure:"channel_id" yaml:"channel_id"`
	APIURL     string        `json:"api_url" mapstructure:"api_url" yaml:"api_url"`
	WebhookURL string        `json:"webhook_url" mapstructure:"webhook_url" yaml:"webhook_url"`
	StatusURL  string        `json:"status_url" mapstructure:"status_url" yaml:"status_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
}

// Configured reports whether messages can be sent.
func (s Settings) Configured() bool {
	return s.JWTSecret != "" && s.ChannelID != "" && s.APIURL != ""
}

// Response is the platform reply to a send.
type Response struct {
	StatusCode int             `json:"status"`
	StatusText string          `json:"statusText"`
	Body       json.RawMessage `json:"data,omitempty"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client sends messages to the platform. Settings can be replaced at runtime.
type Client struct {
	mu         sync.RWMutex
	settings   Settings
	httpClient *http.Client
	now        func() time.Time
	log        zerolog.Logger
}

// New creates a Client.
func New(s Settings) *Client {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	return &Client{
		settings:   s,
		httpClient: &http.Client{Timeout: s.Timeout},
		now:        time.Now,
		log:        logger.Component("dms"),
	}
}

// Settings returns a copy of the current settings.
func (c *Client) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Configured reports whether the current settings allow sending.
func (c *Client) Configured() bool {
	return c.Settings().Configured()
}

// Update copies the non-empty fields of patch into the settings and reports
// whether anything changed.
func (c *Client) Update(patch Settings) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	set(&c.settings.JWTSecret, patch.JWTSecret)
	set(&c.settings.ChannelID, patch.ChannelID)
	set(&c.settings.APIURL, patch.APIURL)
	set(&c.settings.WebhookURL, patch.WebhookURL)
	set(&c.settings.StatusURL, patch.StatusURL)
	if patch.Timeout > 0 && patch.Timeout != c.settings.Timeout {
		c.settings.Timeout = patch.Timeout
		c.httpClient = &http.Client{Timeout: patch.Timeout}
		changed = true
	}

	if changed {
		c.log.Info().Str("channel_id", c.settings.ChannelID).Str("api_url", c.settings.APIURL).Msg("settings updated")
	}
	return changed
}

// Send posts a message payload to the channel endpoint. A non-2xx reply is
// returned as a Response, not an error.
func (c *Client) Send(ctx context.Context, payload any) (*Response, error) {
	c.mu.RLock()
	s := c.settings
	hc := c.httpClient
	c.mu.RUnlock()

	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := strings.TrimRight(s.APIURL, "/") + "/" + url.PathEscape(s.ChannelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := c.authorize(req, s); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &SendError{Op: "send", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	out, err := readResponse(resp)
	if err != nil {
		return nil, &SendError{Op: "send", URL: endpoint, Err: err}
	}

	ev := c.log.Debug()
	if !out.OK() {
		ev = c.log.Warn().Str("body", string(out.Body))
	}
	ev.Int("status", out.StatusCode).Str("endpoint", endpoint).Msg("message sent")
	return out, nil
}

type statusReply struct {
	Status string `json:"status"`
}

// CheckStatus asks the platform for the delivery status of a message. The
// status url may carry a {messageId} placeholder; otherwise the id is
// appended as a path segment.
func (c *Client) CheckStatus(ctx context.Context, messageID string) (string, error) {
	c.mu.RLock()
	s := c.settings
	hc := c.httpClient
	c.mu.RUnlock()

	if s.StatusURL == "" {
		return "", ErrStatusUnsupported
	}
	if messageID == "" {
		return "", ErrEmptyStatusMessage
	}

	endpoint := s.StatusURL
	if strings.Contains(endpoint, "{messageId}") {
		endpoint = strings.ReplaceAll(endpoint, "{messageId}", url.PathEscape(messageID))
	} else {
		endpoint = strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(messageID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if s.JWTSecret != "" {
		if err := c.authorize(req, s); err != nil {
			return "", err
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return "", &SendError{Op: "status", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	out, err := readResponse(resp)
	if err != nil {
		return "", &SendError{Op: "status", URL: endpoint, Err: err}
	}
	if !out.OK() {
		return "", fmt.Errorf("%w: status %d", ErrInvalidResponse, out.StatusCode)
	}

	var reply statusReply
	if err := json.Unmarshal(out.Body, &reply); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return strings.ToLower(strings.TrimSpace(reply.Status)), nil
}

// Ping sends a throwaway text message and returns the platform reply.
func (c *Client) Ping(ctx context.Context) (*Response, error) {
	ms := c.now().UnixMilli()
	return c.Send(ctx, map[string]any{
		"type":        "text",
		"customer_id": fmt.Sprintf("ping-test-%d", ms),
		"message_id":  fmt.Sprintf("ping-%d", ms),
		"text":        []string{"ping test message"},
	})
}

func (c *Client) authorize(req *http.Request, s Settings) error {
	token, err := signToken(s.JWTSecret, s.ChannelID, c.now())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func readResponse(resp *http.Response) (*Response, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := &Response{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}
	switch {
	case len(bytes.TrimSpace(body)) == 0:
	case json.Valid(body):
		out.Body = body
	default:
		// keep non-JSON replies readable as a JSON string
		quoted, _ := json.Marshal(string(body))
		out.Body = quoted
	}
	return out, nil
}
