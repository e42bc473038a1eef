package authgate

import (
	"context"
	"net/url"

	"github.com/sirupsen/logrus"
)

// MailKind identifies a transactional message template.
type MailKind uint8

const (
	MailEmailVerification MailKind = iota + 1
	MailPasswordReset
)

func (k MailKind) String() string {
	switch k {
	case MailEmailVerification:
		return "email_verification"
	case MailPasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// MailMessage is handed to a [Mailer]. Token is the raw account token; Link
// is the configured URL with the token attached, empty when no URL is set.
type MailMessage struct {
	Kind      MailKind
	UserID    string
	To        string
	FirstName string
	Token     string
	Link      string
	RequestID string
}

// Mailer delivers transactional mail. Send runs on the mail dispatcher
// goroutine; a failure is logged and counted, never surfaced to the caller
// of the originating operation.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MailerFunc adapts a function to [Mailer].
type MailerFunc func(ctx context.Context, msg MailMessage) error

func (f MailerFunc) Send(ctx context.Context, msg MailMessage) error {
	return f(ctx, msg)
}

// LogMailer logs messages instead of sending them. The token is never
// logged; the link is logged only when IncludeLink is set.
type LogMailer struct {
	Logger      logrus.FieldLogger
	IncludeLink bool
}

func (m LogMailer) Send(_ context.Context, msg MailMessage) error {
	if m.Logger == nil {
		return nil
	}
	fields := logrus.Fields{
		"mail":    msg.Kind.String(),
		"user_id": msg.UserID,
		"to":      msg.To,
	}
	if m.IncludeLink && msg.Link != "" {
		fields["link"] = msg.Link
	}
	m.Logger.WithFields(fields).Info("mail queued for delivery")
	return nil
}

func buildLink(base, token string) string {
	if base == "" || token == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
