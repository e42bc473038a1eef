package authgate

import (
	"context"

	"github.com/MrEthical07/authgate/internal/rate"
)

const (
	auditEventCaptchaIssued            = "captcha_issued"
	auditEventCaptchaRefreshed         = "captcha_refreshed"
	auditEventCaptchaValidated         = "captcha_validated"
	auditEventRegister                 = "account_register"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventMailFailed               = "mail_failed"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	e.emitAuditEvent(ctx, AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Success:   success,
	}, err, metadataBuilder)
}

func (e *Engine) emitCaptchaAudit(ctx context.Context, eventType, captchaID string, success bool, err error) {
	e.emitAuditEvent(ctx, AuditEvent{
		EventType: eventType,
		CaptchaID: captchaID,
		Success:   success,
	}, err, nil)
}

func (e *Engine) emitAuditEvent(ctx context.Context, event AuditEvent, err error, metadataBuilder func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event.Timestamp = e.now().UTC()
	event.RequestID = RequestIDFromContext(ctx)
	event.IP = ClientIPFromContext(ctx)
	if err != nil {
		event.Error = string(KindOf(err))
	}
	if metadataBuilder != nil {
		event.Metadata = metadataBuilder()
	}
	if event.CaptchaID == "" && event.Metadata != nil {
		event.CaptchaID = event.Metadata["captcha_id"]
		delete(event.Metadata, "captcha_id")
	}

	e.audit.Enqueue(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope rate.Scope) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", nil, func() map[string]string {
		return map[string]string{
			"scope": string(scope),
		}
	})
}
