package authgate

import (
	"errors"
	"testing"
	"time"
)

func newTestPolicy() (*TokenPolicy, *testClock) {
	clock := newTestClock()
	return NewTokenPolicy(TokenConfig{
		EmailVerificationTTL: 24 * time.Hour,
		PasswordResetTTL:     time.Hour,
	}, clock.Now), clock
}

func TestTokenPolicyIssueSetsBothFields(t *testing.T) {
	p, clock := newTestPolicy()
	var u UserRecord

	issued, err := p.Issue(&u, TokenPasswordReset)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if issued.Superseded {
		t.Fatal("first token cannot supersede anything")
	}
	if u.PasswordReset.Value != issued.Value || !u.PasswordReset.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected slot %+v", u.PasswordReset)
	}
	if u.EmailVerification.Pending() {
		t.Fatal("issuing one kind must not touch the other")
	}
	if got := p.State(&u, TokenPasswordReset); got != TokenPending {
		t.Fatalf("expected pending, got %s", got)
	}
}

func TestTokenPolicySupersede(t *testing.T) {
	p, _ := newTestPolicy()
	var u UserRecord

	first, _ := p.Issue(&u, TokenEmailVerification)
	second, err := p.Issue(&u, TokenEmailVerification)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !second.Superseded {
		t.Fatal("expected second issue to report superseding")
	}
	if p.Validate(&u, TokenEmailVerification, first.Value) {
		t.Fatal("old token must be dead")
	}
	if !p.Validate(&u, TokenEmailVerification, second.Value) {
		t.Fatal("new token must be live")
	}
}

func TestTokenPolicyReissueAfterExpiryIsNotSuperseding(t *testing.T) {
	p, clock := newTestPolicy()
	var u UserRecord

	p.Issue(&u, TokenPasswordReset)
	clock.Advance(2 * time.Hour)
	issued, _ := p.Issue(&u, TokenPasswordReset)
	if issued.Superseded {
		t.Fatal("expired token does not count as superseded")
	}
}

func TestTokenPolicyConsume(t *testing.T) {
	p, _ := newTestPolicy()
	var u UserRecord
	issued, _ := p.Issue(&u, TokenPasswordReset)

	if p.Consume(&u, TokenPasswordReset, "wrong") {
		t.Fatal("wrong token consumed")
	}
	if !u.PasswordReset.Pending() {
		t.Fatal("mismatch must leave the slot untouched")
	}
	if !p.Consume(&u, TokenPasswordReset, issued.Value) {
		t.Fatal("expected consume to succeed")
	}
	if u.PasswordReset.Value != "" || !u.PasswordReset.ExpiresAt.IsZero() {
		t.Fatalf("expected cleared slot, got %+v", u.PasswordReset)
	}
	if p.Consume(&u, TokenPasswordReset, issued.Value) {
		t.Fatal("second consume must fail")
	}
}

func TestTokenPolicyExpiredIsClearedOnConsume(t *testing.T) {
	p, clock := newTestPolicy()
	var u UserRecord
	issued, _ := p.Issue(&u, TokenPasswordReset)

	clock.Advance(time.Hour)
	if got := p.State(&u, TokenPasswordReset); got != TokenPending {
		t.Fatalf("expected pending at the deadline, got %s", got)
	}
	clock.Advance(time.Nanosecond)
	if got := p.State(&u, TokenPasswordReset); got != TokenExpired {
		t.Fatalf("expected expired, got %s", got)
	}

	if p.Consume(&u, TokenPasswordReset, issued.Value) {
		t.Fatal("expired token consumed")
	}
	if got := p.State(&u, TokenPasswordReset); got != TokenAbsent {
		t.Fatalf("expected expired slot to be cleared, got %s", got)
	}
}

func TestTokenPolicyInvalidate(t *testing.T) {
	p, _ := newTestPolicy()
	var u UserRecord
	issued, _ := p.Issue(&u, TokenEmailVerification)

	p.Invalidate(&u, TokenEmailVerification)
	if p.Validate(&u, TokenEmailVerification, issued.Value) {
		t.Fatal("invalidated token still valid")
	}
}

func TestTokenPolicyUnknownKind(t *testing.T) {
	p, _ := newTestPolicy()
	var u UserRecord

	if _, err := p.Issue(&u, TokenKind(9)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if p.Validate(&u, TokenKind(9), "x") || p.Consume(&u, TokenKind(9), "x") {
		t.Fatal("unknown kind must never match")
	}
	if got := p.State(&u, TokenKind(9)); got != TokenAbsent {
		t.Fatalf("expected absent, got %s", got)
	}
}

func TestTokenPolicyGeneratorFailure(t *testing.T) {
	p, _ := newTestPolicy()
	p.newToken = func() (string, error) { return "", errors.New("entropy exhausted") }
	var u UserRecord

	if _, err := p.Issue(&u, TokenPasswordReset); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if u.PasswordReset.Pending() {
		t.Fatal("failed issue must not touch the slot")
	}
}

func TestTokenValuesAreUnique(t *testing.T) {
	p, _ := newTestPolicy()
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		var u UserRecord
		issued, err := p.Issue(&u, TokenEmailVerification)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if _, dup := seen[issued.Value]; dup {
			t.Fatalf("duplicate token at iteration %d", i)
		}
		seen[issued.Value] = struct{}{}
	}
}
