package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type LoginRequest struct {
	Email         string
	Password      string
	RememberMe    bool
	CaptchaID     string
	CaptchaAnswer string
}

type LoginResult struct {
	UserID        string
	AccessToken   string
	ExpiresAt     time.Time
	EmailVerified bool
}

type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginUnverified  int
	LoginRateLimited int
}

type LoginEvents struct {
	LoginSuccess string
	LoginFailure string
}

type LoginDeps struct {
	RequireVerifiedEmail bool

	ClientIPFromContext func(context.Context) string
	// CheckLoginLimiter reports an exhausted failure budget without
	// consuming it. RecordLoginFailure consumes one unit and
	// ResetLoginLimiter clears the per-email window after a success.
	CheckLoginLimiter  func(context.Context, string, string) error
	RecordLoginFailure func(context.Context, string, string)
	ResetLoginLimiter  func(context.Context, string)
	VerifyCaptcha      func(context.Context, string, string) error

	GetUserByEmail func(context.Context, string) (User, error)
	VerifyPassword func(string, string) (bool, error)
	// VerifyDummy burns the same hashing cost when the email is unknown.
	VerifyDummy  func(string)
	IssueSession func(User, bool) (string, time.Time, error)
	// RecordLogin runs after a successful login; errors are ignored.
	RecordLogin func(context.Context, User, string)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  Errors
}

// RunLogin checks the captcha and credentials and issues a session token.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) (LoginResult, error) {
	normalizeLoginDeps(&deps)
	if deps.VerifyCaptcha == nil || deps.GetUserByEmail == nil || deps.VerifyPassword == nil || deps.IssueSession == nil {
		return LoginResult{}, deps.Errors.EngineNotReady
	}

	fail := func(userID string, err error, reason string) (LoginResult, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, err, func() map[string]string {
			return map[string]string{
				"reason":     reason,
				"captcha_id": req.CaptchaID,
			}
		})
		return LoginResult{}, err
	}

	email, ok := NormalizeEmail(req.Email)
	if !ok || req.Password == "" {
		return fail("", deps.Errors.InvalidRequest, "invalid_input")
	}
	ip := deps.ClientIPFromContext(ctx)

	if err := deps.CheckLoginLimiter(ctx, email, ip); err != nil {
		if errors.Is(err, deps.Errors.LoginRateLimited) {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			return fail("", err, "rate_limited")
		}
		return fail("", err, "limiter_unavailable")
	}

	if err := deps.VerifyCaptcha(ctx, req.CaptchaID, req.CaptchaAnswer); err != nil {
		return fail("", err, "captcha")
	}

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if isContextErr(err) {
			return LoginResult{}, err
		}
		if !errors.Is(err, deps.Errors.ProviderNotFound) {
			return fail("", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), "provider_lookup")
		}
		deps.VerifyDummy(req.Password)
		deps.RecordLoginFailure(ctx, email, ip)
		return fail("", deps.Errors.InvalidCredentials, "unknown_email")
	}

	match, err := deps.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		deps.RecordLoginFailure(ctx, email, ip)
		return fail(user.UserID, deps.Errors.InvalidCredentials, "password_mismatch")
	}

	if !user.Active {
		return fail(user.UserID, deps.Errors.AccountDisabled, "inactive")
	}
	if deps.RequireVerifiedEmail && !user.EmailVerified {
		deps.MetricInc(deps.Metrics.LoginUnverified)
		return fail(user.UserID, deps.Errors.EmailNotVerified, "email_not_verified")
	}

	token, expiresAt, err := deps.IssueSession(user, req.RememberMe)
	if err != nil {
		return fail(user.UserID, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), "session_issue")
	}

	deps.ResetLoginLimiter(ctx, email)
	deps.RecordLogin(ctx, user, req.Password)

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"captcha_id":  req.CaptchaID,
			"remember_me": fmt.Sprint(req.RememberMe),
		}
	})

	return LoginResult{
		UserID:        user.UserID,
		AccessToken:   token,
		ExpiresAt:     expiresAt,
		EmailVerified: user.EmailVerified,
	}, nil
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckLoginLimiter == nil {
		deps.CheckLoginLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.RecordLoginFailure == nil {
		deps.RecordLoginFailure = func(context.Context, string, string) {}
	}
	if deps.ResetLoginLimiter == nil {
		deps.ResetLoginLimiter = func(context.Context, string) {}
	}
	if deps.VerifyDummy == nil {
		deps.VerifyDummy = func(string) {}
	}
	if deps.RecordLogin == nil {
		deps.RecordLogin = func(context.Context, User, string) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
