package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/engine"
)

// TimeoutWatcher periodically scans for instances that have overstayed a
// timed state and escalates them. A successful trigger out of the timed
// state implicitly cancels the pending escalation because each scan
// re-reads current state.
type TimeoutWatcher struct {
	engine   *engine.Engine
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTimeoutWatcher creates a timeout watcher
func NewTimeoutWatcher(eng *engine.Engine, interval time.Duration, logger *zap.Logger) *TimeoutWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TimeoutWatcher{
		engine:   eng,
		interval: interval,
		logger:   logger,
	}
}

// Name identifies the worker
func (w *TimeoutWatcher) Name() string {
	return "timeout-watcher"
}

// Start launches the scan loop
func (w *TimeoutWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true

	go w.run(ctx)
	return nil
}

// Stop halts the scan loop and waits for the current scan to finish
func (w *TimeoutWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (w *TimeoutWatcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan runs one escalation pass. Exported so tests and operators can force
// a pass without waiting for the ticker.
func (w *TimeoutWatcher) Scan(ctx context.Context) {
	escalated, err := w.engine.EscalateTimeouts(ctx)
	if err != nil {
		w.logger.Error("Timeout scan failed", zap.Error(err))
		return
	}
	if escalated > 0 {
		w.logger.Info("Timeout scan escalated instances", zap.Int("count", escalated))
	}
}
