package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/spf13/viper"
)

// settings is loaded from the environment and an optional .env file.
type settings struct {
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	Env             string        `mapstructure:"APP_ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogFormat       string        `mapstructure:"LOG_FORMAT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	TrustProxy      bool          `mapstructure:"TRUST_PROXY"`

	// RedisAddr empty runs an embedded miniredis outside production.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// DatabaseURL empty keeps accounts in process memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	SessionKey      string        `mapstructure:"SESSION_KEY"`
	SessionIssuer   string        `mapstructure:"SESSION_ISSUER"`
	SessionAudience string        `mapstructure:"SESSION_AUDIENCE"`
	SessionLeeway   time.Duration `mapstructure:"SESSION_LEEWAY"`
	AccessTTL       time.Duration `mapstructure:"ACCESS_TTL"`

	CaptchaTTL    time.Duration `mapstructure:"CAPTCHA_TTL"`
	CaptchaLength int           `mapstructure:"CAPTCHA_LENGTH"`

	RequireVerifiedEmail bool   `mapstructure:"REQUIRE_VERIFIED_EMAIL"`
	VerifyURL            string `mapstructure:"VERIFY_URL"`
	ResetURL             string `mapstructure:"RESET_URL"`

	AuditEnabled   bool `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

func loadSettings() (*settings, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_KEY", "")
	v.SetDefault("SESSION_ISSUER", "authgate")
	v.SetDefault("SESSION_AUDIENCE", "")
	v.SetDefault("SESSION_LEEWAY", "0s")
	v.SetDefault("ACCESS_TTL", "1h")
	v.SetDefault("CAPTCHA_TTL", "5m")
	v.SetDefault("CAPTCHA_LENGTH", 4)
	v.SetDefault("REQUIRE_VERIFIED_EMAIL", false)
	v.SetDefault("VERIFY_URL", "http://localhost:3000/verify-email")
	v.SetDefault("RESET_URL", "http://localhost:3000/reset-password")
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("METRICS_ENABLED", true)

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *settings) production() bool {
	return strings.EqualFold(s.Env, "production")
}

func (s *settings) validate() error {
	if s.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if s.production() {
		if s.SessionKey == "" {
			return errors.New("config: SESSION_KEY must be set when APP_ENV=production")
		}
		if s.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set when APP_ENV=production")
		}
	}
	if s.ShutdownTimeout <= 0 {
		return errors.New("config: SHUTDOWN_TIMEOUT must be > 0")
	}
	if s.SweepInterval <= 0 {
		return errors.New("config: SWEEP_INTERVAL must be > 0")
	}
	return nil
}

// engineConfig maps settings onto the engine defaults. ephemeral reports a
// generated session key.
func (s *settings) engineConfig() (cfg authgate.Config, ephemeral bool, err error) {
	cfg = authgate.DefaultConfig()

	key := []byte(s.SessionKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return cfg, false, fmt.Errorf("config: generate session key: %w", err)
		}
		ephemeral = true
	}
	cfg.Session.PrivateKey = key
	cfg.Session.Issuer = s.SessionIssuer
	cfg.Session.Audience = s.SessionAudience
	cfg.Session.Leeway = s.SessionLeeway
	if s.AccessTTL > 0 {
		cfg.Session.AccessTTL = s.AccessTTL
	}

	if s.CaptchaTTL > 0 {
		cfg.Captcha.TTL = s.CaptchaTTL
	}
	if s.CaptchaLength > 0 {
		cfg.Captcha.Length = s.CaptchaLength
	}

	cfg.Account.RequireVerifiedEmailForLogin = s.RequireVerifiedEmail
	cfg.Mail.VerifyURL = s.VerifyURL
	cfg.Mail.ResetURL = s.ResetURL
	cfg.Audit.Enabled = s.AuditEnabled
	cfg.Metrics.Enabled = s.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = s.MetricsEnabled

	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}
	return cfg, ephemeral, nil
}
