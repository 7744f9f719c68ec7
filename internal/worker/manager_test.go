package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

type fakeWorker struct {
	name     string
	startErr error
	stopErr  error

	started atomic.Int32
	stopped atomic.Int32
	ctx     context.Context
}

func (w *fakeWorker) Start(ctx context.Context) error {
	w.started.Add(1)
	w.ctx = ctx
	return w.startErr
}

func (w *fakeWorker) Stop() error {
	w.stopped.Add(1)
	return w.stopErr
}

func (w *fakeWorker) Name() string { return w.name }

func TestManager_StartAndStopAll(t *testing.T) {
	m := NewManager(zap.NewNop())
	a := &fakeWorker{name: "a"}
	b := &fakeWorker{name: "b"}
	m.Register(a)
	m.Register(b)

	if m.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", m.Count())
	}

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if a.started.Load() != 1 || b.started.Load() != 1 {
		t.Errorf("started = a:%d b:%d, want 1 each", a.started.Load(), b.started.Load())
	}

	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if a.stopped.Load() != 1 || b.stopped.Load() != 1 {
		t.Errorf("stopped = a:%d b:%d, want 1 each", a.stopped.Load(), b.stopped.Load())
	}

	// StopAll cancels the context handed to workers
	select {
	case <-a.ctx.Done():
	default:
		t.Errorf("worker context not cancelled by StopAll")
	}
}

func TestManager_StartAll_Twice(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(&fakeWorker{name: "a"})

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := m.StartAll(context.Background()); err == nil {
		t.Errorf("second StartAll() succeeded, want error")
	}
	_ = m.StopAll()
}

func TestManager_StartAll_ContinuesPastFailure(t *testing.T) {
	m := NewManager(zap.NewNop())
	broken := &fakeWorker{name: "broken", startErr: errors.New("boom")}
	healthy := &fakeWorker{name: "healthy"}
	m.Register(broken)
	m.Register(healthy)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if healthy.started.Load() != 1 {
		t.Errorf("healthy worker not started after earlier failure")
	}
	_ = m.StopAll()
}

func TestManager_StopAll_ReportsFailures(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(&fakeWorker{name: "broken", stopErr: errors.New("boom")})

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := m.StopAll(); err == nil {
		t.Errorf("StopAll() = nil, want aggregated failure")
	}
}

func TestManager_StopAll_NotRunning(t *testing.T) {
	m := NewManager(zap.NewNop())
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll() on idle manager error = %v", err)
	}
}
