package authgate

import (
	"context"

	"github.com/MrEthical07/authgate/internal"
	internalflows "github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/rate"
)

// VerifyEmail consumes an email-verification token and marks its owner
// verified. It returns ErrInvalidOrExpiredToken for any unusable token.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	return internalflows.RunVerifyEmail(ctx, token, e.emailVerificationFlowDeps())
}

// ResendVerificationEmail issues a new verification token, invalidating
// the previous one, and mails it. Unknown and already verified emails
// return nil silently.
func (e *Engine) ResendVerificationEmail(ctx context.Context, email string) error {
	return internalflows.RunResendVerification(ctx, email, e.emailVerificationFlowDeps())
}

func (e *Engine) emailVerificationFlowDeps() internalflows.EmailVerificationDeps {
	deps := internalflows.EmailVerificationDeps{
		WellFormedToken: internal.WellFormedAccountToken,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.EmailVerificationMetrics{
			EmailVerificationRequest: int(MetricEmailVerificationRequest),
			EmailVerificationSuccess: int(MetricEmailVerificationSuccess),
			EmailVerificationFailure: int(MetricEmailVerificationFailure),
			RateLimited:              int(MetricEmailVerificationRateLimited),
		},
		Events: internalflows.EmailVerificationEvents{
			EmailVerificationRequest: auditEventEmailVerificationRequest,
			EmailVerificationConfirm: auditEventEmailVerificationConfirm,
		},
		Errors: e.flowErrors(),
	}
	if e == nil {
		return deps
	}

	deps.Now = e.now
	deps.SleepEnumerationDelay = e.sleepEnumerationDelay
	deps.CheckResendLimiter = func(ctx context.Context, email string) error {
		return e.limit(ctx, rate.ScopeVerification, email, ErrVerificationRateLimited)
	}
	if e.userProvider != nil && e.tokens != nil {
		deps.GetUserByEmail = e.flowUserByEmail(TokenEmailVerification)
		deps.FindUserByToken = e.flowUserByToken(TokenEmailVerification)
		deps.IssueToken = e.issueToken(TokenEmailVerification)
		deps.ConsumeToken = func(ctx context.Context, userID, token string) error {
			return e.consumeToken(ctx, userID, TokenEmailVerification, token, func(u *UserRecord) {
				u.EmailVerified = true
			})
		}
	}
	deps.SendVerifyMail = func(ctx context.Context, user internalflows.User, token internalflows.IssuedToken) {
		e.queueMail(ctx, MailEmailVerification, user, token)
	}
	return deps
}
