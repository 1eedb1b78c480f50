package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/travai/travai/internal/models"
)

func TestMockSender_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockSender()

	if err := mock.SendMessage(ctx, "+15550001", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Body != "Hello Test" || msgs[0].To != "+15550001" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

func TestNewTwilioSenderRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioSender(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewTwilioSender(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewTwilioSender(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550000")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCompletionNotifier(t *testing.T) {
	mock := NewMockSender()
	n := NewCompletionNotifier(mock, "+15559999")
	status := models.OnboardingStatus{
		SessionID: "room-7",
		Complete:  true,
		Answers:   map[string]string{"name": "Alice", "interests": "Voice"},
	}
	if err := n.NotifyComplete(context.Background(), status); err != nil {
		t.Fatalf("NotifyComplete: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 || msgs[0].To != "+15559999" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	want := "Travai onboarding complete: room-7\ninterests: Voice\nname: Alice"
	if msgs[0].Body != want {
		t.Errorf("body = %q, want %q", msgs[0].Body, want)
	}

	mock.Err = errors.New("down")
	if err := n.NotifyComplete(context.Background(), status); !errors.Is(err, mock.Err) {
		t.Errorf("expected wrapped sender error, got %v", err)
	}
}
