package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

type recEmail struct{ to, subject, body string }

func (r *recEmail) SendEmail(_ context.Context, to, subject, body string) error {
	r.to, r.subject, r.body = to, subject, body
	return nil
}

type recSMS struct{ to, body string }

func (r *recSMS) SendSMS(_ context.Context, to, body string) error {
	r.to, r.body = to, body
	return nil
}

func TestChannels_RoutesByChannel(t *testing.T) {
	em, sms := &recEmail{}, &recSMS{}
	c := Channels{Email: em, SMS: sms}
	exp := time.Now().Add(10 * time.Minute)

	if err := c.Send(context.Background(), Message{Channel: domain.ContactEmail, To: "a@b.ch", Code: "123456", ExpiresAt: exp}); err != nil {
		t.Fatalf("email send: %v", err)
	}
	if em.to != "a@b.ch" || !strings.Contains(em.body, "123456") {
		t.Fatalf("email not delivered: %+v", em)
	}

	if err := c.Send(context.Background(), Message{Channel: domain.ContactPhone, To: "+41791234567", Code: "654321", ExpiresAt: exp}); err != nil {
		t.Fatalf("sms send: %v", err)
	}
	if sms.to != "+41791234567" || !strings.Contains(sms.body, "654321") {
		t.Fatalf("sms not delivered: %+v", sms)
	}
}

func TestChannels_MissingProvider(t *testing.T) {
	err := Channels{}.Send(context.Background(), Message{Channel: domain.ContactPhone})
	if !errors.Is(err, ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	err = Channels{}.Send(context.Background(), Message{Channel: "fax"})
	if !errors.Is(err, ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel for unknown channel, got %v", err)
	}
}

func TestLogSender_NeverLogsCodeOrContact(t *testing.T) {
	var buf bytes.Buffer
	s := LogSender{Logger: zerolog.New(&buf)}

	err := s.Send(context.Background(), Message{
		Channel:   domain.ContactEmail,
		To:        "test@example.com",
		Code:      "987654",
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "987654") || strings.Contains(out, "test@example.com") {
		t.Fatalf("log leaks secrets: %s", out)
	}
	if !strings.Contains(out, "te***@example.com") {
		t.Fatalf("expected masked recipient in %s", out)
	}
}
