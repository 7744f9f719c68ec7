package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
)

// Channel names understood by the dispatcher
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
	ChannelSignal  = "signal"
	ChannelFlash   = "flash"
)

// Channel delivers one notification request over a single mechanism
type Channel interface {
	// Name returns the channel identifier
	Name() string

	// Send attempts one delivery. Transient failures should be wrapped with
	// Transient so the retry loop knows to try again.
	Send(ctx context.Context, req *entity.NotificationRequest) error
}

// RetryConfig controls per-channel delivery retries
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the documented channel defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks a delivery failure as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether a delivery failure may be retried
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// deliver runs one channel's independent retry loop: exponential backoff
// from BaseDelay, capped at MaxDelay, retrying only transient failures.
func deliver(ctx context.Context, ch Channel, req *entity.NotificationRequest, rc RetryConfig, logger *zap.Logger) error {
	maxAttempts := rc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := ch.Send(ctx, req)
		if err == nil {
			logger.Info("Notification delivered",
				zap.String("channel", ch.Name()),
				zap.String("trace_id", req.TraceID),
				zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			logger.Error("Permanent delivery failure, not retrying",
				zap.String("channel", ch.Name()),
				zap.String("trace_id", req.TraceID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return fmt.Errorf("%w: %s: %v", workflow.ErrNotificationDelivery, ch.Name(), err)
		}

		if attempt < maxAttempts {
			backoff := rc.BaseDelay
			if backoff <= 0 {
				backoff = time.Second
			}
			backoff = backoff << uint(attempt-1)
			if rc.MaxDelay > 0 && backoff > rc.MaxDelay {
				backoff = rc.MaxDelay
			}
			logger.Info("Retrying notification delivery",
				zap.String("channel", ch.Name()),
				zap.String("trace_id", req.TraceID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	logger.Error("Notification delivery failed after retries",
		zap.String("channel", ch.Name()),
		zap.String("trace_id", req.TraceID),
		zap.Int("max_attempts", maxAttempts),
		zap.Error(lastErr))
	return fmt.Errorf("%w: %s after %d attempts: %v",
		workflow.ErrNotificationDelivery, ch.Name(), maxAttempts, lastErr)
}
