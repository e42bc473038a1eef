package authgate

import (
	"fmt"
	"time"

	"github.com/MrEthical07/authgate/internal"
)

// TokenState is the observable state of one account token slot.
//
// A slot moves Absent -> Pending on Issue. From Pending it returns to Absent
// when consumed or invalidated, becomes Expired once the deadline passes,
// and is replaced by a new Pending token when a newer one is issued.
type TokenState uint8

const (
	TokenAbsent TokenState = iota
	TokenPending
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenAbsent:
		return "absent"
	case TokenPending:
		return "pending"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IssuedToken describes a freshly minted account token.
type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
	// Superseded is true when a still-valid token was overwritten.
	Superseded bool
}

// TokenPolicy mints and checks account tokens stored on a [UserRecord].
// It never persists anything itself; callers run the mutating methods
// inside UserProvider.UpdateUser so check and clear are one unit.
type TokenPolicy struct {
	emailVerificationTTL time.Duration
	passwordResetTTL     time.Duration
	now                  func() time.Time
	newToken             func() (string, error)
}

// NewTokenPolicy returns a policy using cfg lifetimes and clock now.
func NewTokenPolicy(cfg TokenConfig, now func() time.Time) *TokenPolicy {
	if now == nil {
		now = time.Now
	}
	return &TokenPolicy{
		emailVerificationTTL: cfg.EmailVerificationTTL,
		passwordResetTTL:     cfg.PasswordResetTTL,
		now:                  now,
		newToken:             internal.NewAccountToken,
	}
}

// TTL returns the lifetime used for kind.
func (p *TokenPolicy) TTL(kind TokenKind) time.Duration {
	switch kind {
	case TokenEmailVerification:
		return p.emailVerificationTTL
	case TokenPasswordReset:
		return p.passwordResetTTL
	default:
		return 0
	}
}

// Issue stores a fresh random token of kind on user, replacing any token
// already there.
func (p *TokenPolicy) Issue(user *UserRecord, kind TokenKind) (IssuedToken, error) {
	slot := user.Token(kind)
	if slot == nil {
		return IssuedToken{}, fmt.Errorf("%w: unknown token kind %d", ErrInvalidRequest, kind)
	}

	value, err := p.newToken()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := p.now()
	issued := IssuedToken{
		Value:      value,
		ExpiresAt:  now.Add(p.TTL(kind)),
		Superseded: slot.Pending() && !slot.Expired(now),
	}
	slot.Set(issued.Value, issued.ExpiresAt)
	return issued, nil
}

// Validate reports whether token is the pending token of kind and is still
// within its deadline. It does not modify user.
func (p *TokenPolicy) Validate(user *UserRecord, kind TokenKind, token string) bool {
	slot := user.Token(kind)
	if slot == nil {
		return false
	}
	return slot.Matches(token, p.now())
}

// Consume validates token and clears the slot when it matches. A mismatch
// leaves the slot untouched. An expired slot is cleared either way.
func (p *TokenPolicy) Consume(user *UserRecord, kind TokenKind, token string) bool {
	slot := user.Token(kind)
	if slot == nil {
		return false
	}

	now := p.now()
	if slot.Take(token, now) {
		return true
	}
	if slot.Expired(now) {
		slot.Clear()
	}
	return false
}

// Invalidate clears the slot for kind.
func (p *TokenPolicy) Invalidate(user *UserRecord, kind TokenKind) {
	if slot := user.Token(kind); slot != nil {
		slot.Clear()
	}
}

// State reports the slot state for kind at the policy clock.
func (p *TokenPolicy) State(user *UserRecord, kind TokenKind) TokenState {
	slot := user.Token(kind)
	switch {
	case slot == nil || !slot.Pending():
		return TokenAbsent
	case slot.Expired(p.now()):
		return TokenExpired
	default:
		return TokenPending
	}
}
