// Package notify delivers one-time codes to a contact channel. Delivery is an
// integration point: the server ships with a logging sender, and real email
// or SMS providers plug in through EmailSender and SMSSender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-eligibility-backend/internal/contact"
	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

// ErrNoChannel is returned when no sender is configured for a channel.
var ErrNoChannel = errors.New("notify: no sender for channel")

// Message is one code delivery. To holds the normalized, unmasked contact.
type Message struct {
	Channel   domain.ContactType
	To        string
	Code      string
	ExpiresAt time.Time
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Channels routes a Message to the provider for its channel.
type Channels struct {
	Email EmailSender
	SMS   SMSSender
}

// Send renders the message body and hands it to the matching provider.
func (c Channels) Send(ctx context.Context, m Message) error {
	body := Body(m)
	switch m.Channel {
	case domain.ContactEmail:
		if c.Email == nil {
			return ErrNoChannel
		}
		return c.Email.SendEmail(ctx, m.To, "Your verification code", body)
	case domain.ContactPhone:
		if c.SMS == nil {
			return ErrNoChannel
		}
		return c.SMS.SendSMS(ctx, m.To, body)
	default:
		return ErrNoChannel
	}
}

// Body is the plain-text message sent to the recipient.
func Body(m Message) string {
	mins := int(time.Until(m.ExpiresAt).Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", m.Code, mins)
}

// LogSender writes deliveries to a zerolog logger instead of a provider. It
// implements Sender, EmailSender, and SMSSender. The recipient is masked and
// the code is never written.
type LogSender struct {
	Logger zerolog.Logger
}

// Send logs the delivery.
func (l LogSender) Send(_ context.Context, m Message) error {
	l.Logger.Info().
		Str("channel", string(m.Channel)).
		Str("to", contact.Mask(m.Channel, m.To)).
		Time("expires_at", m.ExpiresAt).
		Msg("otp delivery")
	return nil
}

// SendEmail logs an email delivery.
func (l LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	l.Logger.Info().
		Str("channel", string(domain.ContactEmail)).
		Str("to", contact.MaskEmail(to)).
		Str("subject", subject).
		Msg("email delivery")
	return nil
}

// SendSMS logs an SMS delivery.
func (l LogSender) SendSMS(_ context.Context, to, _ string) error {
	l.Logger.Info().
		Str("channel", string(domain.ContactPhone)).
		Str("to", contact.MaskPhone(to)).
		Msg("sms delivery")
	return nil
}
