package authgate

import (
	"context"

	"github.com/MrEthical07/authgate/internal"
	internalflows "github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/rate"
)

// ForgotPassword issues a password-reset token for email and mails it.
// An unknown or inactive email returns nil with no side effects, after the
// same random delay, so callers cannot tell which addresses exist. A
// previously issued reset token stops working.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	return internalflows.RunRequestPasswordReset(ctx, email, e.passwordResetFlowDeps())
}

// ValidatePasswordResetToken reports whether token is live without
// consuming it. It returns ErrInvalidOrExpiredToken otherwise.
func (e *Engine) ValidatePasswordResetToken(ctx context.Context, token string) error {
	return internalflows.RunValidatePasswordReset(ctx, token, e.passwordResetFlowDeps())
}

// ResetPassword replaces the password of the token owner. Token check,
// token clear and hash update happen in one UpdateUser mutation, so a token
// is honoured at most once.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	return internalflows.RunConfirmPasswordReset(ctx, token, newPassword, e.passwordResetFlowDeps())
}

func (e *Engine) passwordResetFlowDeps() internalflows.PasswordResetDeps {
	deps := internalflows.PasswordResetDeps{
		WellFormedToken: internal.WellFormedAccountToken,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.PasswordResetMetrics{
			PasswordResetRequest: int(MetricPasswordResetRequest),
			PasswordResetSuccess: int(MetricPasswordResetSuccess),
			PasswordResetFailure: int(MetricPasswordResetFailure),
			RateLimited:          int(MetricPasswordResetRateLimited),
		},
		Events: internalflows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetConfirm: auditEventPasswordResetConfirm,
		},
		Errors: e.flowErrors(),
	}
	if e == nil {
		return deps
	}

	deps.MinPasswordLength = e.config.Password.MinLength
	deps.MaxPasswordLength = e.config.Password.MaxLength
	deps.Now = e.now
	deps.SleepEnumerationDelay = e.sleepEnumerationDelay
	deps.CheckRequestLimiter = func(ctx context.Context, email string) error {
		return e.limit(ctx, rate.ScopePasswordReset, email, ErrPasswordResetRateLimited)
	}
	if e.hasher != nil {
		deps.HashPassword = e.hasher.Hash
	}
	if e.userProvider != nil && e.tokens != nil {
		deps.GetUserByEmail = e.flowUserByEmail(TokenPasswordReset)
		deps.FindUserByToken = e.flowUserByToken(TokenPasswordReset)
		deps.IssueToken = e.issueToken(TokenPasswordReset)
		deps.ConsumeToken = func(ctx context.Context, userID, token, newHash string) error {
			return e.consumeToken(ctx, userID, TokenPasswordReset, token, func(u *UserRecord) {
				u.PasswordHash = newHash
			})
		}
	}
	deps.SendResetMail = func(ctx context.Context, user internalflows.User, token internalflows.IssuedToken) {
		e.queueMail(ctx, MailPasswordReset, user, token)
	}
	return deps
}
