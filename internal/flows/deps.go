package flows

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/expiring"
)

// User is the flow-local view of an account row. Token holds the slot of
// the token kind the running flow works with.
type User struct {
	UserID        string
	Email         string
	FirstName     string
	PasswordHash  string
	EmailVerified bool
	Active        bool
	Token         expiring.Secret
}

// IssuedToken is a freshly stored account token.
type IssuedToken struct {
	Value      string
	ExpiresAt  time.Time
	Superseded bool
}

// Errors carries the root sentinels flows return. Every flow receives the
// same set.
type Errors struct {
	EngineNotReady           error
	InvalidRequest           error
	InvalidCaptcha           error
	InvalidOrExpiredToken    error
	EmailAlreadyRegistered   error
	InvalidCredentials       error
	EmailNotVerified         error
	AccountDisabled          error
	PasswordPolicy           error
	Unavailable              error
	ProviderNotFound         error
	ProviderDuplicateEmail   error
	LoginRateLimited         error
	RegisterRateLimited      error
	PasswordResetRateLimited error
	VerificationRateLimited  error
}

// AuditFunc records one audit event; metadata is evaluated lazily.
type AuditFunc func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)

// NormalizeEmail trims and lower-cases email and reports whether it is a
// bare RFC 5322 address.
func NormalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > 254 {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", false
	}
	return email, true
}

// CheckPasswordLength applies the byte-length policy shared by register
// and reset.
func CheckPasswordLength(password string, minLen, maxLen int) bool {
	return len(password) >= minLen && (maxLen <= 0 || len(password) <= maxLen)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func noopAudit(context.Context, string, bool, string, error, func() map[string]string) {}

func noopMetric(int) {}

func noopDelay(context.Context) error { return nil }
