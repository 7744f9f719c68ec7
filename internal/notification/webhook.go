package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// WebhookConfig configures the webhook channel
type WebhookConfig struct {
	URL       string
	Method    string
	Headers   map[string]string
	AuthToken string // sent as a bearer token when set

	// SuccessCodes and RetryableCodes partition HTTP responses. A status in
	// neither set is a permanent failure.
	SuccessCodes   []int
	RetryableCodes []int

	Timeout time.Duration
}

// WebhookChannel posts transition payloads to a configured HTTP endpoint
type WebhookChannel struct {
	cfg       WebhookConfig
	client    *http.Client
	success   map[int]bool
	retryable map[int]bool
	logger    *zap.Logger
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(cfg WebhookConfig, logger *zap.Logger) *WebhookChannel {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	success := make(map[int]bool)
	for _, code := range cfg.SuccessCodes {
		success[code] = true
	}
	if len(success) == 0 {
		success[http.StatusOK] = true
		success[http.StatusCreated] = true
		success[http.StatusAccepted] = true
		success[http.StatusNoContent] = true
	}

	retryable := make(map[int]bool)
	for _, code := range cfg.RetryableCodes {
		retryable[code] = true
	}
	if len(retryable) == 0 {
		retryable[http.StatusTooManyRequests] = true
		retryable[http.StatusInternalServerError] = true
		retryable[http.StatusBadGateway] = true
		retryable[http.StatusServiceUnavailable] = true
		retryable[http.StatusGatewayTimeout] = true
	}

	return &WebhookChannel{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		success:   success,
		retryable: retryable,
		logger:    logger,
	}
}

// Name returns the channel identifier
func (c *WebhookChannel) Name() string { return ChannelWebhook }

// Send posts the request payload as JSON. Network errors and retryable
// status codes are transient; anything else is permanent.
func (c *WebhookChannel) Send(ctx context.Context, req *entity.NotificationRequest) error {
	url := c.cfg.URL
	if override, ok := req.Metadata["webhook_url"]; ok && override != "" {
		url = override
	}
	if url == "" {
		return fmt.Errorf("webhook channel has no URL configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, c.cfg.Method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.cfg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Transient(fmt.Errorf("webhook request failed: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case c.success[resp.StatusCode]:
		return nil
	case c.retryable[resp.StatusCode]:
		return Transient(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	default:
		c.logger.Error("Webhook returned non-retryable status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
