package authgate

import (
	"errors"

	"github.com/MrEthical07/authgate/captcha"
	"github.com/MrEthical07/authgate/expiring"
)

var (
	// ErrInvalidCaptcha is returned when the captcha id is unknown, expired,
	// already used, or the answer does not match.
	ErrInvalidCaptcha = errors.New("invalid captcha")
	// ErrCaptchaRendering is returned when a challenge image cannot be drawn.
	ErrCaptchaRendering = errors.New("captcha rendering failed")
	// ErrCaptchaRateLimited is returned when a client asks for too many challenges.
	ErrCaptchaRateLimited = errors.New("captcha issuance rate limited")

	// ErrInvalidOrExpiredToken covers every account-token rejection: unknown,
	// mismatched, expired, superseded or already consumed.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailNotVerified       = errors.New("email not verified")
	ErrAccountDisabled        = errors.New("account disabled")
	ErrPasswordPolicy         = errors.New("password policy violation")
	ErrInvalidRequest         = errors.New("invalid request")

	ErrLoginRateLimited         = errors.New("login rate limited")
	ErrRegisterRateLimited      = errors.New("registration rate limited")
	ErrPasswordResetRateLimited = errors.New("password reset rate limited")
	ErrVerificationRateLimited  = errors.New("email verification rate limited")

	// ErrUnavailable wraps backend failures (store, provider, limiter).
	ErrUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is returned when a required dependency was not wired.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrProviderNotFound is returned by a UserProvider when no user matches.
	ErrProviderNotFound = errors.New("provider user not found")
	// ErrProviderDuplicateEmail is returned by UserProvider.CreateUser when
	// the normalized email already exists.
	ErrProviderDuplicateEmail = errors.New("provider duplicate email")
)

// ErrorKind is the machine-readable classification exposed to clients.
type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindInvalidCaptcha         ErrorKind = "invalid_captcha"
	KindRenderingError         ErrorKind = "rendering_error"
	KindInvalidOrExpiredToken  ErrorKind = "invalid_or_expired_token"
	KindEmailAlreadyRegistered ErrorKind = "email_already_registered"
	KindInvalidCredentials     ErrorKind = "invalid_credentials"
	KindEmailNotVerified       ErrorKind = "email_not_verified"
	KindPasswordPolicy         ErrorKind = "password_policy"
	KindRateLimited            ErrorKind = "rate_limited"
	KindUnavailable            ErrorKind = "unavailable"
	KindInvalidRequest         ErrorKind = "invalid_request"
)

// KindOf classifies err. Unknown errors are reported as KindUnavailable so
// internal detail never reaches a client.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidCaptcha):
		return KindInvalidCaptcha
	case errors.Is(err, ErrCaptchaRendering), errors.Is(err, captcha.ErrRendering):
		return KindRenderingError
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return KindInvalidOrExpiredToken
	case errors.Is(err, ErrEmailAlreadyRegistered):
		return KindEmailAlreadyRegistered
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountDisabled):
		return KindInvalidCredentials
	case errors.Is(err, ErrEmailNotVerified):
		return KindEmailNotVerified
	case errors.Is(err, ErrPasswordPolicy):
		return KindPasswordPolicy
	case errors.Is(err, ErrCaptchaRateLimited),
		errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRegisterRateLimited),
		errors.Is(err, ErrPasswordResetRateLimited),
		errors.Is(err, ErrVerificationRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrUnavailable), errors.Is(err, expiring.ErrStoreUnavailable):
		return KindUnavailable
	default:
		return KindUnavailable
	}
}
