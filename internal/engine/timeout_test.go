package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
)

func timedDefinition(t *testing.T) *workflow.Definition {
	t.Helper()
	def, err := workflow.NewDefinition("approval", 1, []workflow.State{
		{Name: "draft", Initial: true},
		{Name: "review", Timeout: time.Hour, ErrorState: "escalated"},
		{Name: "escalated"},
	}, []workflow.Transition{
		{Trigger: "submit", Sources: []string{"draft"}, Dest: "review"},
		{Trigger: "resume", Sources: []string{"escalated"}, Dest: "review"},
	})
	if err != nil {
		t.Fatalf("NewDefinition() error = %v", err)
	}
	return def
}

func timedFixture(t *testing.T, now *time.Time) *fixture {
	t.Helper()
	def := timedDefinition(t)
	reg, err := workflow.NewRegistry(def)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	repo := newMemRepo()
	hist := &memHistory{}
	notifier := &captureNotifier{}
	eng := NewEngine(reg, repo, hist, passTx{}, notifier, zap.NewNop(),
		WithClock(func() time.Time { return *now }))
	return &fixture{engine: eng, repo: repo, history: hist, notifier: notifier}
}

func TestEngine_EscalateTimeouts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := timedFixture(t, &now)
	f.create(t, "stale", nil)
	f.create(t, "fresh", nil)

	ctx := context.Background()
	actor := entity.User{UserID: "u1"}
	for _, id := range []string{"stale", "fresh"} {
		if _, err := f.engine.Trigger(ctx, id, "submit", actor, nil); err != nil {
			t.Fatalf("Trigger(%s) error = %v", id, err)
		}
	}

	// stale overstays the review timeout, fresh does not
	f.repo.setLastTransition("stale", now.Add(-2*time.Hour))
	f.repo.setLastTransition("fresh", now.Add(-10*time.Minute))

	n, err := f.engine.EscalateTimeouts(ctx)
	if err != nil {
		t.Fatalf("EscalateTimeouts() error = %v", err)
	}
	if n != 1 {
		t.Errorf("EscalateTimeouts() = %d, want 1", n)
	}
	if got := f.repo.state("stale"); got != "escalated" {
		t.Errorf("stale state = %q, want escalated", got)
	}
	if got := f.repo.state("fresh"); got != "review" {
		t.Errorf("fresh state = %q, want review untouched", got)
	}

	entry := f.history.last()
	if entry.Trigger != "timeout" || entry.Reason != "timeout" {
		t.Errorf("escalation entry trigger=%q reason=%q, want timeout/timeout", entry.Trigger, entry.Reason)
	}
	if entry.ActorID != entity.SystemActorID {
		t.Errorf("escalation actor = %q, want %q", entry.ActorID, entity.SystemActorID)
	}
	if len(entry.Tags) != 1 || entry.Tags[0] != "timeout" {
		t.Errorf("escalation tags = %v, want [timeout]", entry.Tags)
	}
}

func TestEngine_EscalateTimeouts_Idempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := timedFixture(t, &now)
	f.create(t, "stale", nil)

	ctx := context.Background()
	if _, err := f.engine.Trigger(ctx, "stale", "submit", entity.User{UserID: "u1"}, nil); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	f.repo.setLastTransition("stale", now.Add(-2*time.Hour))

	if n, err := f.engine.EscalateTimeouts(ctx); err != nil || n != 1 {
		t.Fatalf("first scan = %d, %v, want 1, nil", n, err)
	}

	// escalated is not a timed state, a second scan finds nothing
	if n, err := f.engine.EscalateTimeouts(ctx); err != nil || n != 0 {
		t.Errorf("second scan = %d, %v, want 0, nil", n, err)
	}
}

func TestEngine_EscalateTimeouts_RacingTriggerWins(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := timedFixture(t, &now)
	f.create(t, "doc-1", nil)

	ctx := context.Background()
	if _, err := f.engine.Trigger(ctx, "doc-1", "submit", entity.User{UserID: "u1"}, nil); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	f.repo.setLastTransition("doc-1", now.Add(-2*time.Hour))

	// A trigger lands between the scan's candidate listing and the
	// per-instance re-read; the re-read sees the fresh clock and backs off
	f.repo.beforeGet = func() {
		f.repo.beforeGet = nil
		f.repo.setLastTransition("doc-1", now.Add(-time.Minute))
	}

	n, err := f.engine.EscalateTimeouts(ctx)
	if err != nil {
		t.Fatalf("EscalateTimeouts() error = %v", err)
	}
	if n != 0 {
		t.Errorf("EscalateTimeouts() = %d, want 0 after clock reset", n)
	}
	if got := f.repo.state("doc-1"); got != "review" {
		t.Errorf("state = %q, want review", got)
	}
}
