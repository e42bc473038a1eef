package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type PasswordResetMetrics struct {
	PasswordResetRequest int
	PasswordResetSuccess int
	PasswordResetFailure int
	RateLimited          int
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
}

type PasswordResetDeps struct {
	MinPasswordLength int
	MaxPasswordLength int

	Now                   func() time.Time
	CheckRequestLimiter   func(context.Context, string) error
	SleepEnumerationDelay func(context.Context) error
	WellFormedToken       func(string) bool

	GetUserByEmail  func(context.Context, string) (User, error)
	FindUserByToken func(context.Context, string) (User, error)
	IssueToken      func(context.Context, string) (IssuedToken, error)
	// ConsumeToken checks and clears the reset token and stores the new hash
	// as one provider update. It returns InvalidOrExpiredToken on mismatch.
	ConsumeToken  func(context.Context, string, string, string) error
	HashPassword  func(string) (string, error)
	SendResetMail func(context.Context, User, IssuedToken)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  Errors
}

// RunRequestPasswordReset issues a reset token for email and mails it.
// Unknown and inactive accounts get the same nil result after a random
// delay, with no side effects.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.GetUserByEmail == nil || deps.IssueToken == nil {
		return deps.Errors.EngineNotReady
	}

	normalized, ok := NormalizeEmail(email)
	if !ok {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", deps.Errors.InvalidRequest, func() map[string]string {
			return map[string]string{
				"reason": "invalid_email",
			}
		})
		return deps.Errors.InvalidRequest
	}

	if err := deps.CheckRequestLimiter(ctx, normalized); err != nil {
		if errors.Is(err, deps.Errors.PasswordResetRateLimited) {
			deps.MetricInc(deps.Metrics.RateLimited)
		}
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", err, nil)
		return err
	}

	user, err := deps.GetUserByEmail(ctx, normalized)
	if err != nil && !errors.Is(err, deps.Errors.ProviderNotFound) {
		if isContextErr(err) {
			return err
		}
		mapped := fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", mapped, nil)
		return mapped
	}
	if err != nil || !user.Active {
		if sleepErr := deps.SleepEnumerationDelay(ctx); sleepErr != nil {
			return sleepErr
		}
		deps.MetricInc(deps.Metrics.PasswordResetRequest)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, "", nil, func() map[string]string {
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
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, user.UserID, mapped, nil)
		return mapped
	}

	deps.SendResetMail(ctx, user, issued)

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"superseded": fmt.Sprint(issued.Superseded),
		}
	})
	return nil
}

// RunValidatePasswordReset reports whether token is a live reset token. It
// never modifies the account.
func RunValidatePasswordReset(ctx context.Context, token string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.FindUserByToken == nil {
		return deps.Errors.EngineNotReady
	}

	_, err := findByToken(ctx, token, deps.WellFormedToken, deps.FindUserByToken, deps.Now, deps.Errors)
	return err
}

// RunConfirmPasswordReset sets newPassword for the owner of token. The token
// is consumed only when the new password passes policy.
func RunConfirmPasswordReset(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.FindUserByToken == nil || deps.ConsumeToken == nil || deps.HashPassword == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(userID string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.PasswordResetFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, userID, err, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return err
	}

	if !CheckPasswordLength(newPassword, deps.MinPasswordLength, deps.MaxPasswordLength) {
		return fail("", deps.Errors.PasswordPolicy, "password_length")
	}

	user, err := findByToken(ctx, token, deps.WellFormedToken, deps.FindUserByToken, deps.Now, deps.Errors)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return fail("", err, "token")
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return fail(user.UserID, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), "hash")
	}

	if err := deps.ConsumeToken(ctx, user.UserID, token, hash); err != nil {
		if isContextErr(err) {
			return err
		}
		if errors.Is(err, deps.Errors.InvalidOrExpiredToken) {
			return fail(user.UserID, deps.Errors.InvalidOrExpiredToken, "consume")
		}
		return fail(user.UserID, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), "provider_update")
	}

	deps.MetricInc(deps.Metrics.PasswordResetSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, user.UserID, nil, nil)
	return nil
}

// findByToken resolves token to its owner and checks the slot is live.
func findByToken(
	ctx context.Context,
	token string,
	wellFormed func(string) bool,
	find func(context.Context, string) (User, error),
	now func() time.Time,
	errs Errors,
) (User, error) {
	if token == "" || !wellFormed(token) {
		return User{}, errs.InvalidOrExpiredToken
	}

	user, err := find(ctx, token)
	if err != nil {
		if isContextErr(err) {
			return User{}, err
		}
		if errors.Is(err, errs.ProviderNotFound) {
			return User{}, errs.InvalidOrExpiredToken
		}
		return User{}, fmt.Errorf("%w: %v", errs.Unavailable, err)
	}
	if !user.Token.Matches(token, now()) {
		return User{}, errs.InvalidOrExpiredToken
	}
	return user, nil
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CheckRequestLimiter == nil {
		deps.CheckRequestLimiter = func(context.Context, string) error { return nil }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = noopDelay
	}
	if deps.WellFormedToken == nil {
		deps.WellFormedToken = func(string) bool { return true }
	}
	if deps.SendResetMail == nil {
		deps.SendResetMail = func(context.Context, User, IssuedToken) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
