package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxNameBytes = 100

type RegisterRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	CaptchaID       string
	CaptchaAnswer   string
}

type RegisterResult struct {
	UserID              string
	Email               string
	VerificationExpires time.Time
}

// NewAccount is what CreateAccount persists. The callee issues the
// email-verification token on the new row.
type NewAccount struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
}

type RegisterMetrics struct {
	RegisterSuccess     int
	RegisterDuplicate   int
	RegisterFailure     int
	RegisterRateLimited int
}

type RegisterEvents struct {
	Register string
}

type RegisterDeps struct {
	MinPasswordLength int
	MaxPasswordLength int

	ClientIPFromContext  func(context.Context) string
	CheckRegisterLimiter func(context.Context, string) error
	VerifyCaptcha        func(context.Context, string, string) error

	GetUserByEmail       func(context.Context, string) (User, error)
	HashPassword         func(string) (string, error)
	CreateAccount        func(context.Context, NewAccount) (User, IssuedToken, error)
	SendVerificationMail func(context.Context, User, IssuedToken)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics RegisterMetrics
	Events  RegisterEvents
	Errors  Errors
}

// RunRegister creates an account after the captcha, uniqueness and password
// checks pass, then hands the verification mail to SendVerificationMail.
// Mail delivery never affects the result.
func RunRegister(ctx context.Context, req RegisterRequest, deps RegisterDeps) (RegisterResult, error) {
	normalizeRegisterDeps(&deps)
	if deps.VerifyCaptcha == nil || deps.GetUserByEmail == nil || deps.HashPassword == nil || deps.CreateAccount == nil {
		return RegisterResult{}, deps.Errors.EngineNotReady
	}

	fail := func(userID string, err error, reason string) (RegisterResult, error) {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.EmitAudit(ctx, deps.Events.Register, false, userID, err, func() map[string]string {
			return map[string]string{
				"reason":     reason,
				"captcha_id": req.CaptchaID,
			}
		})
		return RegisterResult{}, err
	}

	email, ok := NormalizeEmail(req.Email)
	if !ok {
		return fail("", deps.Errors.InvalidRequest, "invalid_email")
	}
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	if len(firstName) > maxNameBytes || len(lastName) > maxNameBytes {
		return fail("", deps.Errors.InvalidRequest, "name_too_long")
	}

	if err := deps.CheckRegisterLimiter(ctx, deps.ClientIPFromContext(ctx)); err != nil {
		if errors.Is(err, deps.Errors.RegisterRateLimited) {
			deps.MetricInc(deps.Metrics.RegisterRateLimited)
			return fail("", err, "rate_limited")
		}
		return fail("", err, "limiter_unavailable")
	}

	if err := deps.VerifyCaptcha(ctx, req.CaptchaID, req.CaptchaAnswer); err != nil {
		return fail("", err, "captcha")
	}

	_, err := deps.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		deps.MetricInc(deps.Metrics.RegisterDuplicate)
		return fail("", deps.Errors.EmailAlreadyRegistered, "duplicate_email")
	case errors.Is(err, deps.Errors.ProviderNotFound):
	case isContextErr(err):
		return RegisterResult{}, err
	default:
		return fail("", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), "provider_lookup")
	}

	if !CheckPasswordLength(req.Password, deps.MinPasswordLength, deps.MaxPasswordLength) {
		return fail("", deps.Errors.PasswordPolicy, "password_length")
	}
	if req.Password != req.ConfirmPassword {
		return fail("", deps.Errors.PasswordPolicy, "password_mismatch")
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		return fail("", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), "hash")
	}

	user, token, err := deps.CreateAccount(ctx, NewAccount{
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, deps.Errors.ProviderDuplicateEmail) {
			deps.MetricInc(deps.Metrics.RegisterDuplicate)
			return fail("", deps.Errors.EmailAlreadyRegistered, "duplicate_email")
		}
		if isContextErr(err) {
			return RegisterResult{}, err
		}
		return fail("", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), "provider_create")
	}

	deps.SendVerificationMail(ctx, user, token)

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.Register, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"captcha_id": req.CaptchaID,
		}
	})

	return RegisterResult{
		UserID:              user.UserID,
		Email:               user.Email,
		VerificationExpires: token.ExpiresAt,
	}, nil
}

func normalizeRegisterDeps(deps *RegisterDeps) {
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckRegisterLimiter == nil {
		deps.CheckRegisterLimiter = func(context.Context, string) error { return nil }
	}
	if deps.SendVerificationMail == nil {
		deps.SendVerificationMail = func(context.Context, User, IssuedToken) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
