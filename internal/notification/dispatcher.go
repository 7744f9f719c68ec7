package notification

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// Dispatcher fans transition notifications out across channels. Delivery is
// best-effort and at-least-once; a failed notification is logged, never
// propagated to the triggering caller.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]Channel
	retry    RetryConfig
	logger   *zap.Logger
	observer func(channel string, err error)

	wg     sync.WaitGroup
	closed atomic.Bool
}

// DispatcherOption configures the dispatcher
type DispatcherOption func(*Dispatcher)

// WithRetryConfig overrides the default retry behavior
func WithRetryConfig(rc RetryConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.retry = rc
	}
}

// WithObserver registers a callback invoked after every delivery outcome,
// used for metrics
func WithObserver(fn func(channel string, err error)) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// NewDispatcher creates a dispatcher with no channels registered
func NewDispatcher(logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]Channel),
		retry:    DefaultRetryConfig(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a channel. Registering twice under one name replaces the
// earlier channel.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
	d.logger.Info("Notification channel registered", zap.String("channel", ch.Name()))
}

// Channels returns the names of registered channels
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// DispatchAsync fans requests out concurrently and returns immediately.
// Each request runs its own retry loop; failures are logged only.
func (d *Dispatcher) DispatchAsync(ctx context.Context, reqs []*entity.NotificationRequest) {
	if d.closed.Load() {
		d.logger.Error("Cannot dispatch, dispatcher is closed", zap.Int("requests", len(reqs)))
		return
	}

	for _, req := range reqs {
		ch, ok := d.channel(req.Channel)
		if !ok {
			d.logger.Error("Unknown notification channel", zap.String("channel", req.Channel))
			continue
		}

		d.wg.Add(1)
		go func(ch Channel, req *entity.NotificationRequest) {
			defer d.wg.Done()
			err := deliver(ctx, ch, req, d.retry, d.logger)
			if d.observer != nil {
				d.observer(ch.Name(), err)
			}
		}(ch, req)
	}
}

// Dispatch fans requests out concurrently and waits for every delivery
// attempt to finish. Failures are still logged rather than returned; the
// wait only affects the caller's timing.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []*entity.NotificationRequest) {
	if d.closed.Load() {
		d.logger.Error("Cannot dispatch, dispatcher is closed", zap.Int("requests", len(reqs)))
		return
	}

	var wg sync.WaitGroup
	for _, req := range reqs {
		ch, ok := d.channel(req.Channel)
		if !ok {
			d.logger.Error("Unknown notification channel", zap.String("channel", req.Channel))
			continue
		}

		wg.Add(1)
		go func(ch Channel, req *entity.NotificationRequest) {
			defer wg.Done()
			err := deliver(ctx, ch, req, d.retry, d.logger)
			if d.observer != nil {
				d.observer(ch.Name(), err)
			}
		}(ch, req)
	}
	wg.Wait()
}

// Close stops accepting work and waits for in-flight deliveries
func (d *Dispatcher) Close() error {
	d.closed.Store(true)
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) channel(name string) (Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	return ch, ok
}
