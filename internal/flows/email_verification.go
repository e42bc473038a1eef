package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type EmailVerificationMetrics struct {
	EmailVerificationRequest int
	EmailVerificationSuccess int
	EmailVerificationFailure int
	RateLimited              int
}

type EmailVerificationEvents struct {
	EmailVerificationRequest string
	EmailVerificationConfirm string
}

type EmailVerificationDeps struct {
	Now                   func() time.Time
	CheckResendLimiter    func(context.Context, string) error
	SleepEnumerationDelay func(context.Context) error
	WellFormedToken       func(string) bool

	GetUserByEmail  func(context.Context, string) (User, error)
	FindUserByToken func(context.Context, string) (User, error)
	IssueToken      func(context.Context, string) (IssuedToken, error)
	// ConsumeToken clears the verification token and marks the email
	// verified in one provider update.
	ConsumeToken   func(context.Context, string, string) error
	SendVerifyMail func(context.Context, User, IssuedToken)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics EmailVerificationMetrics
	Events  EmailVerificationEvents
	Errors  Errors
}

// RunVerifyEmail consumes a verification token and marks its owner
// verified.
func RunVerifyEmail(ctx context.Context, token string, deps EmailVerificationDeps) error {
	normalizeEmailVerificationDeps(&deps)
	if deps.FindUserByToken == nil || deps.ConsumeToken == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(userID string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.EmailVerificationFailure)
		deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, false, userID, err, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return err
	}

	user, err := findByToken(ctx, token, deps.WellFormedToken, deps.FindUserByToken, deps.Now, deps.Errors)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return fail("", err, "token")
	}

	if err := deps.ConsumeToken(ctx, user.UserID, token); err != nil {
		if isContextErr(err) {
			return err
		}
		if errors.Is(err, deps.Errors.InvalidOrExpiredToken) {
			return fail(user.UserID, deps.Errors.InvalidOrExpiredToken, "consume")
		}
		return fail(user.UserID, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), "provider_update")
	}

	deps.MetricInc(deps.Metrics.EmailVerificationSuccess)
	deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, true, user.UserID, nil, nil)
	return nil
}

// RunResendVerification issues a fresh verification token, superseding any
// pending one. Unknown, inactive and already verified accounts get a silent
// nil after a random delay.
func RunResendVerification(ctx context.Context, email string, deps EmailVerificationDeps) error {
	normalizeEmailVerificationDeps(&deps)
	if deps.GetUserByEmail == nil || deps.IssueToken == nil {
		return deps.Errors.EngineNotReady
	}

	normalized, ok := NormalizeEmail(email)
	if !ok {
		deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, false, "", deps.Errors.InvalidRequest, func() map[string]string {
			return map[string]string{
				"reason": "invalid_email",
			}
		})
		return deps.Errors.InvalidRequest
	}

	if err := deps.CheckResendLimiter(ctx, normalized); err != nil {
		if errors.Is(err, deps.Errors.VerificationRateLimited) {
			deps.MetricInc(deps.Metrics.RateLimited)
		}
		deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, false, "", err, nil)
		return err
	}

	user, err := deps.GetUserByEmail(ctx, normalized)
	if err != nil && !errors.Is(err, deps.Errors.ProviderNotFound) {
		if isContextErr(err) {
			return err
		}
		mapped := fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, false, "", mapped, nil)
		return mapped
	}
	if err != nil || !user.Active || user.EmailVerified {
		if sleepErr := deps.SleepEnumerationDelay(ctx); sleepErr != nil {
			return sleepErr
		}
		deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, true, "", nil, func() map[string]string {
			return map[string]string{
				"enumeration_safe": "true",
			}
		})
		return nil
	}

	issued, err := deps.IssueToken(ctx, user.UserID)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		mapped := fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, false, user.UserID, mapped, nil)
		return mapped
	}

	deps.SendVerifyMail(ctx, user, issued)

	deps.MetricInc(deps.Metrics.EmailVerificationRequest)
	deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"superseded": fmt.Sprint(issued.Superseded),
		}
	})
	return nil
}

func normalizeEmailVerificationDeps(deps *EmailVerificationDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CheckResendLimiter == nil {
		deps.CheckResendLimiter = func(context.Context, string) error { return nil }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = noopDelay
	}
	if deps.WellFormedToken == nil {
		deps.WellFormedToken = func(string) bool { return true }
	}
	if deps.SendVerifyMail == nil {
		deps.SendVerifyMail = func(context.Context, User, IssuedToken) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
