package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KDK-Alli/RecordManager/internal/config"
	"go.uber.org/zap"
)

func TestSMTPConfigFromRequiresHostFromTo(t *testing.T) {
	if _, err := smtpConfigFrom(config.Notifications{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for empty config, got %v", err)
	}
	cfg, err := smtpConfigFrom(config.Notifications{
		SMTPHost: "smtp.example.org", SMTPFrom: "rm@example.org", SMTPTo: "a@example.org, b@example.org",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.To) != 2 {
		t.Fatalf("expected 2 recipients, got %v", cfg.To)
	}
}

func TestWebhookSenderSignsAndSkipsWhenDisabled(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-RecordManager-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newWebhookSender(func(context.Context) (*WebhookConfig, error) {
		return &WebhookConfig{Enabled: true, URL: srv.URL, Secret: "shh"}, nil
	})
	if err := s.Send(context.Background(), "harvest_failed", "title", "body", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSig == "" {
		t.Error("expected a signature header to be set")
	}

	disabled := newWebhookSender(func(context.Context) (*WebhookConfig, error) {
		return &WebhookConfig{Enabled: false, URL: srv.URL}, nil
	})
	if err := disabled.Send(context.Background(), "harvest_failed", "title", "body", nil); err != nil {
		t.Fatalf("expected disabled webhook to skip silently, got %v", err)
	}
}

func TestNotifierDispatchNeverFailsOnChannelError(t *testing.T) {
	n := New(config.Notifications{}, zap.NewNop())
	if err := n.HarvestFailed(context.Background(), "source1", errors.New("boom")); err != nil {
		t.Fatalf("expected dispatch to swallow channel errors, got %v", err)
	}
}
