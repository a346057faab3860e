package provider

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSandbox(t *testing.T, failureRate float64) *Sandbox {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "sandbox.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open bolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewSandbox(db, failureRate, testLogger())
	if err != nil {
		t.Fatalf("NewSandbox() error: %v", err)
	}
	return s
}

func TestSandbox_CaptureAndList(t *testing.T) {
	s := newTestSandbox(t, 0)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	if _, err := s.SendEmail(ctx, &EmailMessage{CompanyID: "co-1", To: "a@example.com", Subject: "Hello"}); err != nil {
		t.Fatalf("SendEmail() error: %v", err)
	}
	if _, err := s.SendSMS(ctx, &SMSMessage{CompanyID: "co-1", To: "5551234567", Body: "hi"}); err != nil {
		t.Fatalf("SendSMS() error: %v", err)
	}
	res, err := s.Dial(ctx, &CallRequest{CompanyID: "co-2", CallID: "call-1", To: "5550000000"})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	if res.MessageID != "call-1" || res.Provider != "sandbox" {
		t.Errorf("Dial() = %+v", res)
	}

	all, err := s.List(ctx, SandboxFilter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d, want 3", len(all))
	}
	if all[0].Channel != ChannelVoice || all[2].Channel != ChannelEmail {
		t.Errorf("List() should be newest first, got %s..%s", all[0].Channel, all[2].Channel)
	}

	tests := []struct {
		name   string
		filter SandboxFilter
		want   int
	}{
		{"by channel", SandboxFilter{Channel: ChannelSMS}, 1},
		{"by company", SandboxFilter{CompanyID: "co-1"}, 2},
		{"limit", SandboxFilter{Limit: 2}, 2},
		{"offset", SandboxFilter{Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List() returned %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestSandbox_FailureSimulation(t *testing.T) {
	s := newTestSandbox(t, 1)

	_, err := s.SendSMS(context.Background(), &SMSMessage{To: "1", Body: "x"})
	if err == nil {
		t.Fatal("SendSMS() should fail at failure rate 1")
	}
	if IsTemporary(err) {
		t.Error("simulated failures are permanent")
	}

	got, _ := s.List(context.Background(), SandboxFilter{})
	if len(got) != 1 || got[0].SimulatedErr == "" {
		t.Errorf("failed send should still be captured, got %+v", got)
	}
}

func TestSandbox_Clear(t *testing.T) {
	s := newTestSandbox(t, 0)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.SendSMS(ctx, &SMSMessage{To: "old"})

	now = now.Add(2 * time.Hour)
	s.SendSMS(ctx, &SMSMessage{To: "new"})

	n, err := s.Clear(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}

	n, _ = s.Clear(ctx, 0)
	if n != 1 {
		t.Errorf("Clear(0) = %d, want 1", n)
	}
}

func TestSandbox_DuplicateSend(t *testing.T) {
	s := newTestSandbox(t, 0)
	ctx := context.Background()

	msg := &EmailMessage{IdempotencyKey: "step-key", CompanyID: "co-1", To: "a@example.com", Subject: "Hello"}
	first, err := s.SendEmail(ctx, msg)
	if err != nil {
		t.Fatalf("SendEmail() error: %v", err)
	}
	second, err := s.SendEmail(ctx, msg)
	if err != nil {
		t.Fatalf("second SendEmail() error: %v", err)
	}
	if first.MessageID != "step-key" || second.MessageID != first.MessageID {
		t.Errorf("message ids = %q, %q, want step-key twice", first.MessageID, second.MessageID)
	}

	got, _ := s.List(ctx, SandboxFilter{})
	if len(got) != 1 {
		t.Fatalf("List() returned %d, want one capture for a repeated key", len(got))
	}

	if n, _ := s.Clear(ctx, 0); n != 1 {
		t.Errorf("Clear(0) = %d, want 1", n)
	}
	if _, err := s.SendEmail(ctx, msg); err != nil {
		t.Fatalf("SendEmail() after clear error: %v", err)
	}
	if got, _ := s.List(ctx, SandboxFilter{}); len(got) != 1 {
		t.Errorf("List() after clear returned %d, want 1", len(got))
	}
}
