package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
)

func webhookRequest() *entity.NotificationRequest {
	return &entity.NotificationRequest{
		TraceID:    "trace-1",
		Channel:    ChannelWebhook,
		Recipients: []string{"https://example.invalid/hook"},
		Subject:    "document doc-1 moved to review",
		Body:       "doc-1: submitted -> review",
		Metadata:   map[string]string{"to_state": "review"},
	}
}

func TestWebhookChannel_Send_Success(t *testing.T) {
	var hits atomic.Int32
	var gotAuth string
	var gotPayload entity.NotificationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL, AuthToken: "secret"}, zap.NewNop())
	if err := ch.Send(context.Background(), webhookRequest()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("endpoint hit %d times, want 1", hits.Load())
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotPayload.TraceID != "trace-1" || gotPayload.Metadata["to_state"] != "review" {
		t.Errorf("payload = %+v, want marshaled request", gotPayload)
	}
}

func TestWebhookChannel_Send_RetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL}, zap.NewNop())
	err := ch.Send(context.Background(), webhookRequest())
	if err == nil {
		t.Fatalf("Send() succeeded on 503")
	}
	if !IsTransient(err) {
		t.Errorf("Send() error = %v, want transient", err)
	}
}

func TestWebhookChannel_Send_PermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL}, zap.NewNop())
	err := ch.Send(context.Background(), webhookRequest())
	if err == nil {
		t.Fatalf("Send() succeeded on 400")
	}
	if IsTransient(err) {
		t.Errorf("Send() error = %v, want permanent", err)
	}
}

func TestWebhookChannel_Send_NetworkErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL, Timeout: time.Second}, zap.NewNop())
	err := ch.Send(context.Background(), webhookRequest())
	if err == nil {
		t.Fatalf("Send() succeeded against closed server")
	}
	if !IsTransient(err) {
		t.Errorf("Send() error = %v, want transient", err)
	}
}

func TestWebhookChannel_Send_MetadataURLOverride(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: "http://127.0.0.1:1/unreachable"}, zap.NewNop())
	req := webhookRequest()
	req.Metadata["webhook_url"] = srv.URL
	if err := ch.Send(context.Background(), req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("override endpoint hit %d times, want 1", hits.Load())
	}
}

func TestWebhookChannel_Send_NoURL(t *testing.T) {
	ch := NewWebhookChannel(WebhookConfig{}, zap.NewNop())
	req := webhookRequest()
	req.Metadata = nil
	if err := ch.Send(context.Background(), req); err == nil {
		t.Fatalf("Send() succeeded without URL")
	}
}

func TestWebhookChannel_CustomStatusSets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{
		URL:            srv.URL,
		RetryableCodes: []int{http.StatusConflict},
	}, zap.NewNop())
	err := ch.Send(context.Background(), webhookRequest())
	if !IsTransient(err) {
		t.Errorf("Send() error = %v, want 409 transient under custom set", err)
	}
}

func TestDeliver_RetriesTransientUntilExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL}, zap.NewNop())
	rc := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	err := deliver(context.Background(), ch, webhookRequest(), rc, zap.NewNop())
	if !errors.Is(err, workflow.ErrNotificationDelivery) {
		t.Fatalf("deliver() error = %v, want ErrNotificationDelivery", err)
	}
	if hits.Load() != 3 {
		t.Errorf("endpoint hit %d times, want 3", hits.Load())
	}
}

func TestDeliver_PermanentFailureNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL}, zap.NewNop())
	rc := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	err := deliver(context.Background(), ch, webhookRequest(), rc, zap.NewNop())
	if !errors.Is(err, workflow.ErrNotificationDelivery) {
		t.Fatalf("deliver() error = %v, want ErrNotificationDelivery", err)
	}
	if hits.Load() != 1 {
		t.Errorf("endpoint hit %d times, want 1 for permanent failure", hits.Load())
	}
}

func TestDeliver_RecoversWithinBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL}, zap.NewNop())
	rc := RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond}
	if err := deliver(context.Background(), ch, webhookRequest(), rc, zap.NewNop()); err != nil {
		t.Fatalf("deliver() error = %v, want recovery on third attempt", err)
	}
	if hits.Load() != 3 {
		t.Errorf("endpoint hit %d times, want 3", hits.Load())
	}
}

func TestTransient(t *testing.T) {
	if Transient(nil) != nil {
		t.Errorf("Transient(nil) != nil")
	}
	base := errors.New("boom")
	wrapped := Transient(base)
	if !IsTransient(wrapped) {
		t.Errorf("IsTransient(Transient(err)) = false")
	}
	if !errors.Is(wrapped, base) {
		t.Errorf("Transient wrapper broke errors.Is")
	}
	if IsTransient(base) {
		t.Errorf("IsTransient(plain error) = true")
	}
}
