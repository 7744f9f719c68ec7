package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// FlashMessage is one transient UI message awaiting display
type FlashMessage struct {
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FlashChannel queues transient UI messages per recipient. Messages are
// held in memory until the UI drains them with Pop; the queue per
// recipient is bounded and drops oldest on overflow.
type FlashChannel struct {
	mu       sync.Mutex
	queues   map[string][]FlashMessage
	capacity int
	logger   *zap.Logger
}

const defaultFlashCapacity = 50

// NewFlashChannel creates a flash message channel
func NewFlashChannel(capacity int, logger *zap.Logger) *FlashChannel {
	if capacity <= 0 {
		capacity = defaultFlashCapacity
	}
	return &FlashChannel{
		queues:   make(map[string][]FlashMessage),
		capacity: capacity,
		logger:   logger,
	}
}

// Name returns the channel identifier
func (c *FlashChannel) Name() string { return ChannelFlash }

// Send queues the message for each recipient
func (c *FlashChannel) Send(_ context.Context, req *entity.NotificationRequest) error {
	msg := FlashMessage{
		Subject:   req.Subject,
		Body:      req.Body,
		TraceID:   req.TraceID,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, recipient := range req.Recipients {
		q := append(c.queues[recipient], msg)
		if len(q) > c.capacity {
			c.logger.Warn("Flash queue overflow, dropping oldest",
				zap.String("recipient", recipient))
			q = q[len(q)-c.capacity:]
		}
		c.queues[recipient] = q
	}
	return nil
}

// Pop drains and returns all queued messages for a recipient
func (c *FlashChannel) Pop(recipient string) []FlashMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.queues[recipient]
	delete(c.queues, recipient)
	return msgs
}
