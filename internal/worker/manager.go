// Package worker runs the engine's background loops, currently the
// timeout escalation watcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a long-running background loop. Start must not block; Stop
// waits for the loop to drain.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Manager owns the lifecycle of the registered workers. Starting twice is
// an error; stopping an idle manager is not.
type Manager struct {
	workers []Worker
	logger  *zap.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a worker. Workers registered after StartAll are not
// started retroactively.
func (m *Manager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
	m.logger.Info("Worker registered", zap.String("worker", w.Name()))
}

// StartAll starts every registered worker under a shared context that
// StopAll cancels. A worker that fails to start is logged and skipped so
// the rest still come up.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("workers already running")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	for _, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			m.logger.Error("Worker failed to start",
				zap.String("worker", w.Name()),
				zap.Error(err))
			continue
		}
		m.logger.Info("Worker started", zap.String("worker", w.Name()))
	}
	return nil
}

// StopAll cancels the shared context and stops every worker, collecting
// failures instead of bailing on the first one.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	for _, w := range m.workers {
		if err := w.Stop(); err != nil {
			m.logger.Error("Worker failed to stop",
				zap.String("worker", w.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker", w.Name()))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Info("All workers stopped")
	return nil
}

// Count reports how many workers are registered
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}
