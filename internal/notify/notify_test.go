package notify

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestBuilder_Activation(t *testing.T) {
	b := NewBuilder("https://auth.example.com/")

	msg := b.Activation("jane@example.com", "tok-123")

	if msg.To != "jane@example.com" {
		t.Errorf("To = %q, want handle", msg.To)
	}
	if !strings.Contains(msg.Body, "https://auth.example.com/activate?token=tok-123") {
		t.Errorf("Body should contain activation link, got %q", msg.Body)
	}
}

func TestBuilder_PasswordReset(t *testing.T) {
	b := NewBuilder("https://auth.example.com")

	msg := b.PasswordReset("jane@example.com", "tok-456")

	if !strings.Contains(msg.Body, "https://auth.example.com/reset-password?token=tok-456") {
		t.Errorf("Body should contain reset link, got %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "ignore this message") {
		t.Error("reset body should tell unintended recipients to ignore it")
	}
}

func TestLogDispatcher_Send(t *testing.T) {
	d := NewLogDispatcher(slog.Default())

	err := d.Send(context.Background(), Message{
		To:      "jane@example.com",
		Subject: "Activate your account",
		Body:    "link",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func TestSMTPDispatcher_CancelledContext(t *testing.T) {
	d := NewSMTPDispatcher("localhost", 2525, "", "", "no-reply@example.com", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Send(ctx, Message{To: "jane@example.com"}); err == nil {
		t.Error("Send() with cancelled context should return error")
	}
}
