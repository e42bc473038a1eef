package authgate

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/jwt"
)

func newEd25519Key(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return pub, priv
}

func TestSessionKeyRotation(t *testing.T) {
	oldPub, oldPriv := newEd25519Key(t)
	newPub, newPriv := newEd25519Key(t)

	before := newTestHarness(t, harnessOptions{mutate: func(c *Config) {
		c.Session.SigningMethod = "ed25519"
		c.Session.PrivateKey = oldPriv
		c.Session.PublicKey = oldPub
		c.Session.KeyID = "k1"
	}})
	oldToken, _, err := before.engine.jwtManager.Issue(jwt.Subject{UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	after := newTestHarness(t, harnessOptions{mutate: func(c *Config) {
		c.Session.SigningMethod = "ed25519"
		c.Session.PrivateKey = newPriv
		c.Session.KeyID = "k2"
		c.Session.VerifyKeys = map[string][]byte{"k1": oldPub, "k2": newPub}
	}})
	if claims, err := after.engine.ParseSession(oldToken); err != nil || claims.UID != "u1" {
		t.Fatalf("expected retired key to keep verifying, claims=%v err=%v", claims, err)
	}
	newToken, _, err := after.engine.jwtManager.Issue(jwt.Subject{UserID: "u2"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := after.engine.ParseSession(newToken); err != nil {
		t.Fatalf("expected current key to verify, got %v", err)
	}

	dropped := newTestHarness(t, harnessOptions{mutate: func(c *Config) {
		c.Session.SigningMethod = "ed25519"
		c.Session.PrivateKey = newPriv
		c.Session.KeyID = "k2"
		c.Session.VerifyKeys = map[string][]byte{"k2": newPub}
	}})
	if _, err := dropped.engine.ParseSession(oldToken); err == nil {
		t.Fatal("expected removed kid to be rejected")
	}
	if _, err := dropped.engine.ParseSession(newToken); err != nil {
		t.Fatalf("expected k2 credential to verify, got %v", err)
	}
}

func TestSessionLeeway(t *testing.T) {
	h := newTestHarness(t, harnessOptions{mutate: func(c *Config) {
		c.Session.Leeway = 30 * time.Second
	}})
	token, expiresAt, err := h.engine.jwtManager.Issue(jwt.Subject{UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	h.clock.Advance(expiresAt.Sub(h.clock.Now()) + 10*time.Second)
	if _, err := h.engine.ParseSession(token); err != nil {
		t.Fatalf("expected credential within leeway to verify, got %v", err)
	}

	h.clock.Advance(30 * time.Second)
	if _, err := h.engine.ParseSession(token); err == nil {
		t.Fatal("expected credential past leeway to be rejected")
	}
}
