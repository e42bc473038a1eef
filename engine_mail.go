package authgate

import (
	"context"

	internalflows "github.com/MrEthical07/authgate/internal/flows"
	"github.com/sirupsen/logrus"
)

// queueMail hands a message to the mail dispatcher. It never blocks past
// ctx and never fails the caller.
func (e *Engine) queueMail(ctx context.Context, kind MailKind, user internalflows.User, token internalflows.IssuedToken) {
	if e == nil || e.mail == nil {
		return
	}

	base := e.config.Mail.VerifyURL
	if kind == MailPasswordReset {
		base = e.config.Mail.ResetURL
	}
	msg := MailMessage{
		Kind:      kind,
		UserID:    user.UserID,
		To:        user.Email,
		FirstName: user.FirstName,
		Token:     token.Value,
		Link:      buildLink(base, token.Value),
		RequestID: RequestIDFromContext(ctx),
	}

	if !e.mail.Enqueue(ctx, msg) {
		e.metricInc(MetricMailDropped)
		e.log(ctx).WithFields(logrus.Fields{
			"user_id": user.UserID,
			"mail":    kind.String(),
		}).Warn("mail dropped: queue full or closed")
	}
}

// deliverMail runs on the dispatcher goroutine.
func (e *Engine) deliverMail(_ context.Context, msg MailMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.Mail.SendTimeout)
	defer cancel()
	if msg.RequestID != "" {
		ctx = WithRequestID(ctx, msg.RequestID)
	}

	if err := e.mailer.Send(ctx, msg); err != nil {
		e.metricInc(MetricMailFailed)
		e.log(ctx).WithError(err).WithFields(logrus.Fields{
			"user_id": msg.UserID,
			"mail":    msg.Kind.String(),
		}).Warn("mail delivery failed")
		e.emitAudit(ctx, auditEventMailFailed, false, msg.UserID, wrapUnavailable(err), func() map[string]string {
			return map[string]string{
				"mail": msg.Kind.String(),
			}
		})
		return
	}
	e.metricInc(MetricMailSent)
}
