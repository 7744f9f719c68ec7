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

// SMSProvider is the carrier mechanism behind the SMS channel
type SMSProvider interface {
	// SendSMS delivers one text message, optionally with media attachments,
	// and returns a provider message id
	SendSMS(ctx context.Context, to, body string, mediaURLs []string) (string, error)
}

// SMSChannel delivers transition notifications as text messages, one per
// recipient
type SMSChannel struct {
	provider SMSProvider
	logger   *zap.Logger
}

// NewSMSChannel creates an SMS channel backed by a provider
func NewSMSChannel(provider SMSProvider, logger *zap.Logger) *SMSChannel {
	return &SMSChannel{
		provider: provider,
		logger:   logger,
	}
}

// Name returns the channel identifier
func (c *SMSChannel) Name() string { return ChannelSMS }

// Send delivers the message to every recipient. Provider failures are
// transient.
func (c *SMSChannel) Send(ctx context.Context, req *entity.NotificationRequest) error {
	if len(req.Recipients) == 0 {
		return fmt.Errorf("sms notification has no recipients")
	}

	for _, to := range req.Recipients {
		messageID, err := c.provider.SendSMS(ctx, to, req.Body, req.MediaURLs)
		if err != nil {
			return Transient(fmt.Errorf("sms provider: %w", err))
		}
		c.logger.Info("SMS sent",
			zap.String("trace_id", req.TraceID),
			zap.String("message_id", messageID))
	}
	return nil
}

// HTTPSMSProvider posts messages to an SMS gateway's REST endpoint
type HTTPSMSProvider struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPSMSProvider creates a gateway-backed SMS provider
func NewHTTPSMSProvider(endpoint, token string, logger *zap.Logger) *HTTPSMSProvider {
	return &HTTPSMSProvider{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type smsGatewayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// SendSMS posts one message to the gateway
func (p *HTTPSMSProvider) SendSMS(ctx context.Context, to, body string, mediaURLs []string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"to":    to,
		"body":  body,
		"media": mediaURLs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read sms gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	var parsed smsGatewayResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse sms gateway response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("sms gateway error: %s", parsed.Error)
	}
	return parsed.MessageID, nil
}
