package notification

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// SignalHandler receives in-process transition broadcasts
type SignalHandler func(req *entity.NotificationRequest)

// SignalChannel broadcasts transition notifications to in-process
// subscribers. Handlers run synchronously within the channel's delivery
// goroutine and must not block.
type SignalChannel struct {
	mu       sync.RWMutex
	handlers map[string][]SignalHandler
	logger   *zap.Logger
}

// NewSignalChannel creates an in-process broadcast channel
func NewSignalChannel(logger *zap.Logger) *SignalChannel {
	return &SignalChannel{
		handlers: make(map[string][]SignalHandler),
		logger:   logger,
	}
}

// Name returns the channel identifier
func (c *SignalChannel) Name() string { return ChannelSignal }

// Subscribe registers a named handler. All handlers registered under the
// same name receive broadcasts in registration order.
func (c *SignalChannel) Subscribe(name string, handler SignalHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = append(c.handlers[name], handler)
	c.logger.Info("Signal handler subscribed", zap.String("handler", name))
}

// Unsubscribe removes all handlers registered under a name
func (c *SignalChannel) Unsubscribe(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, name)
}

// Send broadcasts the request to every subscriber. A handler panic is
// contained and reported as a permanent failure.
func (c *SignalChannel) Send(ctx context.Context, req *entity.NotificationRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal handler panicked: %v", r)
		}
	}()

	c.mu.RLock()
	var all []SignalHandler
	for _, hs := range c.handlers {
		all = append(all, hs...)
	}
	c.mu.RUnlock()

	for _, h := range all {
		h(req)
	}
	return nil
}
