package authgate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func requestReset(t *testing.T, h *testHarness, email string) MailMessage {
	t.Helper()
	if err := h.engine.ForgotPassword(context.Background(), email); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	msg := h.mail.next(t)
	if msg.Kind != MailPasswordReset {
		t.Fatalf("expected password reset mail, got %v", msg.Kind)
	}
	return msg
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "pat@example.com", "correct-horse")
	before := h.users.byEmail(t, "pat@example.com")

	if err := h.engine.ForgotPassword(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}

	h.engine.Close()
	if n := len(h.mail.messages); n != 0 {
		t.Fatalf("expected no mail for unknown email, got %d", n)
	}
	after := h.users.byEmail(t, "pat@example.com")
	if after.PasswordReset != before.PasswordReset {
		t.Fatal("expected no token changes for other accounts")
	}
}

func TestForgotPasswordInvalidEmail(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	if err := h.engine.ForgotPassword(context.Background(), "nope"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestForgotPasswordIssuesOneHourToken(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "quinn@example.com", "correct-horse")

	msg := requestReset(t, h, "Quinn@example.com")
	user := h.users.byEmail(t, "quinn@example.com")

	if user.PasswordReset.Value != msg.Token {
		t.Fatal("expected mailed token to be stored on the account")
	}
	if want := h.clock.Now().Add(time.Hour); !user.PasswordReset.ExpiresAt.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, user.PasswordReset.ExpiresAt)
	}
	if !strings.HasPrefix(msg.Link, "https://app.example.com/reset?token=") {
		t.Fatalf("unexpected link %q", msg.Link)
	}
}

func TestResetPasswordHappyPath(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "rita@example.com", "correct-horse")
	msg := requestReset(t, h, "rita@example.com")

	if err := h.engine.ValidatePasswordResetToken(context.Background(), msg.Token); err != nil {
		t.Fatalf("expected live token, got %v", err)
	}
	if err := h.engine.ResetPassword(context.Background(), msg.Token, "battery-staple"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	user := h.users.byEmail(t, "rita@example.com")
	if user.PasswordReset.Value != "" || !user.PasswordReset.ExpiresAt.IsZero() {
		t.Fatal("expected both token fields cleared after reset")
	}
	if _, err := h.login(t, "rita@example.com", "battery-staple"); err != nil {
		t.Fatalf("expected new password to work, got %v", err)
	}
	if _, err := h.login(t, "rita@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}

	if err := h.engine.ResetPassword(context.Background(), msg.Token, "third-password"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected reused token to fail, got %v", err)
	}
}

func TestValidatePasswordResetTokenIsReadOnly(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "sam@example.com", "correct-horse")
	msg := requestReset(t, h, "sam@example.com")

	for i := 0; i < 3; i++ {
		if err := h.engine.ValidatePasswordResetToken(context.Background(), msg.Token); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}
	if err := h.engine.ResetPassword(context.Background(), msg.Token, "battery-staple"); err != nil {
		t.Fatalf("expected token to survive validation, got %v", err)
	}
}

func TestSecondResetTokenInvalidatesFirst(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "tess@example.com", "correct-horse")

	first := requestReset(t, h, "tess@example.com")
	second := requestReset(t, h, "tess@example.com")
	if first.Token == second.Token {
		t.Fatal("expected distinct tokens")
	}

	if err := h.engine.ResetPassword(context.Background(), first.Token, "battery-staple"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected superseded token to fail, got %v", err)
	}
	if err := h.engine.ResetPassword(context.Background(), second.Token, "battery-staple"); err != nil {
		t.Fatalf("expected newest token to work, got %v", err)
	}
}

func TestResetTokenExpiryBoundary(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "uma@example.com", "correct-horse")
	msg := requestReset(t, h, "uma@example.com")

	h.clock.Advance(time.Hour)
	if err := h.engine.ValidatePasswordResetToken(context.Background(), msg.Token); err != nil {
		t.Fatalf("expected token valid exactly at its deadline, got %v", err)
	}

	h.clock.Advance(time.Millisecond)
	if err := h.engine.ValidatePasswordResetToken(context.Background(), msg.Token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
	if err := h.engine.ResetPassword(context.Background(), msg.Token, "battery-staple"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected expired token to be refused, got %v", err)
	}
}

func TestResetPasswordPolicyKeepsToken(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "vic@example.com", "correct-horse")
	msg := requestReset(t, h, "vic@example.com")

	if err := h.engine.ResetPassword(context.Background(), msg.Token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := h.engine.ValidatePasswordResetToken(context.Background(), msg.Token); err != nil {
		t.Fatalf("expected token to survive a policy failure, got %v", err)
	}
}

func TestResetPasswordRejectsGarbageTokens(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	for _, token := range []string{"", "abc", strings.Repeat("!", 43)} {
		if err := h.engine.ResetPassword(context.Background(), token, "battery-staple"); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("token %q: expected ErrInvalidOrExpiredToken, got %v", token, err)
		}
	}
}

func TestResetPasswordConcurrentSingleWinner(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "walt@example.com", "correct-horse")
	msg := requestReset(t, h, "walt@example.com")

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := h.engine.ResetPassword(context.Background(), msg.Token, "battery-staple"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one successful reset, got %d", got)
	}
}

func TestForgotPasswordRateLimited(t *testing.T) {
	h := newTestHarness(t, harnessOptions{redis: true, mutate: func(c *Config) {
		c.RateLimits.PasswordResetPerUser = 1
	}})
	h.register(t, "xena@example.com", "correct-horse")

	requestReset(t, h, "xena@example.com")
	if err := h.engine.ForgotPassword(context.Background(), "xena@example.com"); !errors.Is(err, ErrPasswordResetRateLimited) {
		t.Fatalf("expected ErrPasswordResetRateLimited, got %v", err)
	}
	if err := h.engine.ForgotPassword(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected unknown email to keep its own budget, got %v", err)
	}
	if err := h.engine.ForgotPassword(context.Background(), "ghost@example.com"); !errors.Is(err, ErrPasswordResetRateLimited) {
		t.Fatalf("expected unknown email to be limited the same way, got %v", err)
	}
}
