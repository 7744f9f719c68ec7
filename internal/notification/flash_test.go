package notification

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

func TestFlashChannel_SendAndPop(t *testing.T) {
	ch := NewFlashChannel(10, zap.NewNop())

	req := &entity.NotificationRequest{
		TraceID:    "t1",
		Channel:    ChannelFlash,
		Recipients: []string{"alice", "bob"},
		Subject:    "document moved",
		Body:       "doc-1: draft -> submitted",
	}
	if err := ch.Send(context.Background(), req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs := ch.Pop("alice")
	if len(msgs) != 1 {
		t.Fatalf("Pop(alice) = %d messages, want 1", len(msgs))
	}
	if msgs[0].Subject != "document moved" || msgs[0].Body != "doc-1: draft -> submitted" || msgs[0].TraceID != "t1" {
		t.Errorf("message = %+v, want request content", msgs[0])
	}
	if msgs[0].CreatedAt.IsZero() {
		t.Errorf("CreatedAt not set")
	}

	if got := ch.Pop("bob"); len(got) != 1 {
		t.Errorf("Pop(bob) = %d messages, want 1", len(got))
	}
}

func TestFlashChannel_PopDrains(t *testing.T) {
	ch := NewFlashChannel(10, zap.NewNop())
	req := &entity.NotificationRequest{Recipients: []string{"alice"}, Body: "m"}
	if err := ch.Send(context.Background(), req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got := ch.Pop("alice"); len(got) != 1 {
		t.Fatalf("first Pop() = %d messages, want 1", len(got))
	}
	if got := ch.Pop("alice"); got != nil {
		t.Errorf("second Pop() = %v, want drained queue", got)
	}
}

func TestFlashChannel_PopUnknownRecipient(t *testing.T) {
	ch := NewFlashChannel(10, zap.NewNop())
	if got := ch.Pop("nobody"); got != nil {
		t.Errorf("Pop(unknown) = %v, want nil", got)
	}
}

func TestFlashChannel_OverflowDropsOldest(t *testing.T) {
	ch := NewFlashChannel(3, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := &entity.NotificationRequest{
			Recipients: []string{"alice"},
			Body:       fmt.Sprintf("msg-%d", i),
		}
		if err := ch.Send(ctx, req); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	msgs := ch.Pop("alice")
	if len(msgs) != 3 {
		t.Fatalf("Pop() = %d messages, want capacity of 3", len(msgs))
	}
	if msgs[0].Body != "msg-2" || msgs[2].Body != "msg-4" {
		t.Errorf("kept %q..%q, want the newest three", msgs[0].Body, msgs[2].Body)
	}
}

func TestFlashChannel_DefaultCapacity(t *testing.T) {
	ch := NewFlashChannel(0, zap.NewNop())
	if ch.capacity != defaultFlashCapacity {
		t.Errorf("capacity = %d, want default %d", ch.capacity, defaultFlashCapacity)
	}
}
