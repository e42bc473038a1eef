package authgate

import (
	"context"
	"time"

	"github.com/MrEthical07/authgate/expiring"
)

// TokenKind selects one of the two account token slots.
type TokenKind uint8

const (
	TokenEmailVerification TokenKind = iota + 1
	TokenPasswordReset
)

func (k TokenKind) String() string {
	switch k {
	case TokenEmailVerification:
		return "email_verification"
	case TokenPasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// AccountToken is a secret value with an absolute deadline, stored on the
// user row. Value and ExpiresAt are always both set or both zero.
type AccountToken = expiring.Secret

// UserRecord is the account row as seen by the engine. Only the token slots
// and credential fields are owned by authgate; the rest is carried through.
type UserRecord struct {
	UserID        string
	Email         string
	FirstName     string
	LastName      string
	PasswordHash  string
	EmailVerified bool
	Active        bool
	CreatedAt     time.Time
	LastLoginAt   time.Time

	EmailVerification AccountToken
	PasswordReset     AccountToken
}

// Token returns the slot for kind, or nil for an unknown kind.
func (u *UserRecord) Token(kind TokenKind) *AccountToken {
	switch kind {
	case TokenEmailVerification:
		return &u.EmailVerification
	case TokenPasswordReset:
		return &u.PasswordReset
	default:
		return nil
	}
}

// UserProvider persists accounts. Implementations must make UpdateUser a
// linearizable read-modify-write for one user: mutate runs against the
// current row and its result is stored only if mutate returns nil.
//
// Lookups return ErrProviderNotFound when nothing matches.
// FindUserByToken matches on the raw token value of the given slot.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	FindUserByToken(ctx context.Context, kind TokenKind, token string) (UserRecord, error)
	CreateUser(ctx context.Context, user UserRecord) (UserRecord, error)
	UpdateUser(ctx context.Context, userID string, mutate func(*UserRecord) error) (UserRecord, error)
}

// PasswordHasher hashes and checks passwords. [password.Argon2] satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// RegisterRequest is the input of [Engine.Register].
type RegisterRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	CaptchaID       string
	CaptchaAnswer   string
}

// RegisterResult is returned by a successful [Engine.Register].
type RegisterResult struct {
	UserID              string
	Email               string
	VerificationExpires time.Time
}

// LoginRequest is the input of [Engine.Login].
type LoginRequest struct {
	Email         string
	Password      string
	RememberMe    bool
	CaptchaID     string
	CaptchaAnswer string
}

// LoginResult carries the issued session credential.
type LoginResult struct {
	UserID        string
	AccessToken   string
	ExpiresAt     time.Time
	EmailVerified bool
}

// CaptchaChallenge is the client-facing view of a challenge.
type CaptchaChallenge struct {
	ID          string
	ImageBase64 string
	ExpiresAt   time.Time
}
