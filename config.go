package authgate

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override fields; [Builder.Build] calls Validate.
type Config struct {
	Captcha    CaptchaConfig
	Tokens     TokenConfig
	Account    AccountConfig
	Password   PasswordConfig
	Session    SessionConfig
	RateLimits RateLimitConfig
	Audit      AuditConfig
	Mail       MailConfig
	Metrics    MetricsConfig
}

/*
====================================
CAPTCHA CONFIG
====================================
*/

// CaptchaConfig controls challenge issuance.
type CaptchaConfig struct {
	TTL                  time.Duration
	Length               int
	MaxConcurrentRenders int
	// RedisPrefix namespaces stored answers when a Redis client is wired.
	RedisPrefix string
	// MemoryMaxEntries bounds the in-process store used without Redis.
	MemoryMaxEntries int
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig sets account token lifetimes.
type TokenConfig struct {
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls registration and login rules.
type AccountConfig struct {
	// RequireVerifiedEmailForLogin rejects logins for unverified emails.
	RequireVerifiedEmailForLogin bool
	// EnumerationDelayMin/Max pad silent-success paths with a random delay.
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters for the default hasher and the
// registration length policy.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the login credential.
type SessionConfig struct {
	AccessTTL     time.Duration
	RememberTTL   time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	// KeyID is written to the kid header of every issued credential.
	KeyID string
	// VerifyKeys maps kid to ed25519 public key. When set, credentials are
	// verified by kid, so keys retired from signing keep verifying until
	// they are removed here.
	VerifyKeys map[string][]byte
	Issuer     string
	Audience   string
	// Leeway tolerates clock skew on exp and iat. At most 2 minutes.
	Leeway time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds fixed-window budgets. They apply only when a Redis
// client is wired; a zero Max disables that window.
type RateLimitConfig struct {
	CaptchaPerIP         int
	CaptchaWindow        time.Duration
	LoginFailures        int
	LoginWindow          time.Duration
	RegisterPerIP        int
	RegisterWindow       time.Duration
	PasswordResetPerUser int
	PasswordResetWindow  time.Duration
	VerificationPerUser  int
	VerificationWindow   time.Duration
}

/*
====================================
AUDIT / MAIL / METRICS
====================================
*/

// AuditConfig controls async audit delivery.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MailConfig controls async mail delivery and link construction.
type MailConfig struct {
	BufferSize int
	DropIfFull bool
	// EnqueueTimeout bounds how long a caller waits for queue room before
	// the message is dropped. Ignored with DropIfFull.
	EnqueueTimeout time.Duration
	// SendTimeout bounds one Mailer.Send call.
	SendTimeout time.Duration
	// VerifyURL and ResetURL receive "?token=<value>" appended.
	VerifyURL string
	ResetURL  string
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Session keys must still be
// supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Captcha: CaptchaConfig{
			TTL:              5 * time.Minute,
			Length:           4,
			RedisPrefix:      "agc",
			MemoryMaxEntries: 100_000,
		},
		Tokens: TokenConfig{
			EmailVerificationTTL: 24 * time.Hour,
			PasswordResetTTL:     time.Hour,
		},
		Account: AccountConfig{
			RequireVerifiedEmailForLogin: false,
			EnumerationDelayMin:          20 * time.Millisecond,
			EnumerationDelayMax:          40 * time.Millisecond,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   6,
			MaxLength:   1024,
		},
		Session: SessionConfig{
			AccessTTL:     time.Hour,
			RememberTTL:   30 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authgate",
		},
		RateLimits: RateLimitConfig{
			CaptchaPerIP:         30,
			CaptchaWindow:        time.Minute,
			LoginFailures:        5,
			LoginWindow:          15 * time.Minute,
			RegisterPerIP:        10,
			RegisterWindow:       time.Hour,
			PasswordResetPerUser: 3,
			PasswordResetWindow:  15 * time.Minute,
			VerificationPerUser:  3,
			VerificationWindow:   15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Mail: MailConfig{
			BufferSize:     256,
			DropIfFull:     false,
			EnqueueTimeout: 50 * time.Millisecond,
			SendTimeout:    10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	if cfg.Session.VerifyKeys != nil {
		out.Session.VerifyKeys = make(map[string][]byte, len(cfg.Session.VerifyKeys))
		for kid, key := range cfg.Session.VerifyKeys {
			out.Session.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Captcha
	if c.Captcha.TTL <= 0 {
		return errors.New("Captcha TTL must be > 0")
	}
	if c.Captcha.Length < 4 || c.Captcha.Length > 12 {
		return errors.New("Captcha Length must be between 4 and 12")
	}
	if c.Captcha.MaxConcurrentRenders < 0 {
		return errors.New("Captcha MaxConcurrentRenders must be >= 0")
	}

	// Tokens
	if c.Tokens.EmailVerificationTTL <= 0 {
		return errors.New("Tokens EmailVerificationTTL must be > 0")
	}
	if c.Tokens.PasswordResetTTL <= 0 {
		return errors.New("Tokens PasswordResetTTL must be > 0")
	}

	// Account
	if c.Account.EnumerationDelayMin < 0 || c.Account.EnumerationDelayMax < c.Account.EnumerationDelayMin {
		return errors.New("Account enumeration delay range is invalid")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password length bounds are invalid")
	}

	// Session
	if c.Session.AccessTTL <= 0 {
		return errors.New("Session AccessTTL must be > 0")
	}
	if c.Session.RememberTTL != 0 && c.Session.RememberTTL < c.Session.AccessTTL {
		return errors.New("Session RememberTTL must be >= AccessTTL")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be within [0, 2m]")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
		if len(c.Session.VerifyKeys) > 0 {
			return errors.New("Session VerifyKeys require ed25519")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Session.PublicKey) == 0 && len(c.Session.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
		if len(c.Session.VerifyKeys) > 0 && c.Session.KeyID == "" {
			return errors.New("Session KeyID is required with VerifyKeys")
		}
	default:
		return errors.New("unsupported Session signing method")
	}

	// Rate limits
	for _, w := range []struct {
		name   string
		max    int
		window time.Duration
	}{
		{"Captcha", c.RateLimits.CaptchaPerIP, c.RateLimits.CaptchaWindow},
		{"Login", c.RateLimits.LoginFailures, c.RateLimits.LoginWindow},
		{"Register", c.RateLimits.RegisterPerIP, c.RateLimits.RegisterWindow},
		{"PasswordReset", c.RateLimits.PasswordResetPerUser, c.RateLimits.PasswordResetWindow},
		{"Verification", c.RateLimits.VerificationPerUser, c.RateLimits.VerificationWindow},
	} {
		if w.max < 0 {
			return errors.New("RateLimits " + w.name + " budget must be >= 0")
		}
		if w.max > 0 && w.window <= 0 {
			return errors.New("RateLimits " + w.name + " window must be > 0 when a budget is set")
		}
	}

	// Audit / Mail
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Mail.BufferSize <= 0 {
		return errors.New("Mail BufferSize must be > 0")
	}
	if c.Mail.SendTimeout <= 0 {
		return errors.New("Mail SendTimeout must be > 0")
	}
	if c.Mail.EnqueueTimeout < 0 || c.Mail.EnqueueTimeout > time.Second {
		return errors.New("Mail EnqueueTimeout must be within [0, 1s]")
	}
	if !c.Mail.DropIfFull && c.Mail.EnqueueTimeout == 0 {
		return errors.New("Mail EnqueueTimeout must be > 0 unless DropIfFull is set")
	}

	return nil
}
