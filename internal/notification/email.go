package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// EmailProvider is the outbound mail mechanism behind the email channel
type EmailProvider interface {
	// SendEmail delivers one message and returns a provider message id
	SendEmail(ctx context.Context, to, cc, bcc []string, subject, body string, attachments []string) (string, error)
}

// EmailChannel delivers transition notifications as email
type EmailChannel struct {
	provider EmailProvider
	from     string
	logger   *zap.Logger
}

// NewEmailChannel creates an email channel backed by a provider
func NewEmailChannel(provider EmailProvider, from string, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{
		provider: provider,
		from:     from,
		logger:   logger,
	}
}

// Name returns the channel identifier
func (c *EmailChannel) Name() string { return ChannelEmail }

// Send delivers the request through the provider. Provider failures are
// treated as transient; an empty recipient list is permanent.
func (c *EmailChannel) Send(ctx context.Context, req *entity.NotificationRequest) error {
	if len(req.Recipients) == 0 {
		return fmt.Errorf("email notification has no recipients")
	}

	subject := req.Subject
	if subject == "" {
		subject = "Workflow state change"
	}

	messageID, err := c.provider.SendEmail(ctx, req.Recipients, req.CC, req.BCC, subject, req.Body, req.Attachments)
	if err != nil {
		return Transient(fmt.Errorf("email provider: %w", err))
	}

	c.logger.Info("Email sent",
		zap.String("trace_id", req.TraceID),
		zap.String("message_id", messageID),
		zap.Int("recipients", len(req.Recipients)))
	return nil
}
