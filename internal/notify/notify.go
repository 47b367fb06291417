// Package notify delivers activation and password reset links to account
// holders. The manager issuing tokens never sends mail itself; callers pass
// the token to a Dispatcher, so delivery failures cannot roll back token
// issuance.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Dispatcher sends notifications to account handles.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Builder renders the two notification kinds from a base URL.
type Builder struct {
	baseURL string
}

// NewBuilder creates a notification builder. baseURL is the externally
// visible prefix for activation and reset links, without a trailing slash.
func NewBuilder(baseURL string) *Builder {
	return &Builder{baseURL: strings.TrimRight(baseURL, "/")}
}

// Activation renders the account activation message for a token.
func (b *Builder) Activation(handle, token string) Message {
	link := fmt.Sprintf("%s/activate?token=%s", b.baseURL, token)
	return Message{
		To:      handle,
		Subject: "Activate your account",
		Body: fmt.Sprintf(
			"An account has been created for you.\n\n"+
				"Follow this link to choose a password and activate it:\n\n%s\n\n"+
				"The link expires in 24 hours.\n", link),
	}
}

// PasswordReset renders the password reset message for a token.
func (b *Builder) PasswordReset(handle, token string) Message {
	link := fmt.Sprintf("%s/reset-password?token=%s", b.baseURL, token)
	return Message{
		To:      handle,
		Subject: "Reset your password",
		Body: fmt.Sprintf(
			"A password reset was requested for your account.\n\n"+
				"Follow this link to choose a new password:\n\n%s\n\n"+
				"The link expires in 1 hour. If you did not request this, ignore this message.\n", link),
	}
}

// SMTPDispatcher sends mail through a plain SMTP relay.
type SMTPDispatcher struct {
	addr   string
	auth   smtp.Auth
	from   string
	logger *slog.Logger
}

// NewSMTPDispatcher creates a dispatcher for the given relay.
// Auth is skipped when username is empty.
func NewSMTPDispatcher(host string, port int, username, password, from string, logger *slog.Logger) *SMTPDispatcher {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPDispatcher{
		addr:   fmt.Sprintf("%s:%d", host, port),
		auth:   auth,
		from:   from,
		logger: logger,
	}
}

// Send delivers one message through the relay. The context deadline is not
// enforced mid-conversation; smtp.SendMail drives the whole exchange.
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		d.from, msg.To, msg.Subject, msg.Body)

	if err := smtp.SendMail(d.addr, d.auth, d.from, []string{msg.To}, []byte(payload)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", msg.To, err)
	}

	d.logger.Info("notification sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// LogDispatcher writes notifications to the service log instead of sending
// them. Development and test deployments only: the body contains live
// activation and reset links.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send logs the message instead of delivering it.
func (d *LogDispatcher) Send(_ context.Context, msg Message) error {
	d.logger.Info("notification (log mode)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
