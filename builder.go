package authgate

import (
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/authgate/captcha"
	"github.com/MrEthical07/authgate/expiring"
	"github.com/MrEthical07/authgate/internal/dispatch"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger logrus.FieldLogger
	now    func() time.Time

	userProvider UserProvider
	mailer       Mailer
	hasher       PasswordHasher
	auditSink    AuditSink
	renderer     captcha.Renderer

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis stores captcha answers in Redis and enables rate limiting.
// Without it the engine keeps answers in process memory and never throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the logger. The default discards everything.
func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every deadline the engine computes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithMailer sets the mail transport. Defaults to a [LogMailer] on the
// engine logger.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithHasher replaces the Argon2id hasher built from Config.Password.
func (b *Builder) WithHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithAuditSink enables audit delivery to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCaptchaRenderer replaces the PNG renderer.
func (b *Builder) WithCaptchaRenderer(r captcha.Renderer) *Builder {
	b.renderer = r
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		logger:       logger,
		now:          now,
		userProvider: b.userProvider,
		tokens:       NewTokenPolicy(cfg.Tokens, now),
		metrics:      NewMetrics(cfg.Metrics),
	}

	// -------- CAPTCHA --------
	var store expiring.Store[string]
	if b.redis != nil {
		store = expiring.NewRedisStore[string](b.redis, expiring.StringCodec{}, expiring.RedisConfig{
			Prefix: cfg.Captcha.RedisPrefix,
			Now:    now,
		})
	} else {
		mem := expiring.NewMemoryStore[string](expiring.MemoryConfig{
			MaxEntries: cfg.Captcha.MemoryMaxEntries,
			MaxTTL:     cfg.Captcha.TTL,
			Now:        now,
		})
		engine.sweepCaptcha = mem.Sweep
		store = mem
	}
	svc, err := captcha.New(store, captcha.Config{
		TTL:                  cfg.Captcha.TTL,
		Length:               cfg.Captcha.Length,
		Renderer:             b.renderer,
		MaxConcurrentRenders: cfg.Captcha.MaxConcurrentRenders,
		OnRender: func(d time.Duration) {
			engine.metrics.Observe(MetricCaptchaRenderLatency, d)
		},
		Now: now,
	})
	if err != nil {
		return nil, err
	}
	engine.captcha = svc

	// -------- RATE LIMITS --------
	// The per-IP login budget is wider than the per-email one so a shared
	// NAT address does not lock out unrelated accounts.
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		Windows: map[rate.Scope]rate.Window{
			rate.ScopeCaptcha:       {Max: cfg.RateLimits.CaptchaPerIP, Period: cfg.RateLimits.CaptchaWindow},
			rate.ScopeLogin:         {Max: cfg.RateLimits.LoginFailures, Period: cfg.RateLimits.LoginWindow},
			rate.ScopeLoginIP:       {Max: cfg.RateLimits.LoginFailures * 4, Period: cfg.RateLimits.LoginWindow},
			rate.ScopeRegisterIP:    {Max: cfg.RateLimits.RegisterPerIP, Period: cfg.RateLimits.RegisterWindow},
			rate.ScopePasswordReset: {Max: cfg.RateLimits.PasswordResetPerUser, Period: cfg.RateLimits.PasswordResetWindow},
			rate.ScopeVerification:  {Max: cfg.RateLimits.VerificationPerUser, Period: cfg.RateLimits.VerificationWindow},
		},
	})

	// -------- PASSWORDS --------
	if b.hasher != nil {
		engine.hasher = b.hasher
	} else {
		ph, err := password.NewArgon2(password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MinPasswordBytes: cfg.Password.MinLength,
			MaxPasswordBytes: cfg.Password.MaxLength,
		})
		if err != nil {
			return nil, err
		}
		engine.hasher = ph
	}
	if ph, ok := engine.hasher.(*password.Argon2); ok {
		engine.verifyDummy = ph.VerifyDummy
		engine.needsUpgrade = ph.NeedsUpgrade
	}

	// -------- SESSION --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Session.AccessTTL,
		RememberTTL:   cfg.Session.RememberTTL,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Session.PrivateKey),
		PublicKey:     cloneBytes(cfg.Session.PublicKey),
		KeyID:         cfg.Session.KeyID,
		VerifyKeys:    cfg.Session.VerifyKeys,
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- ASYNC DELIVERY --------
	engine.mailer = b.mailer
	if engine.mailer == nil {
		engine.mailer = LogMailer{Logger: logger}
	}
	engine.mail = dispatch.New[MailMessage](dispatch.Config{
		BufferSize:     cfg.Mail.BufferSize,
		DropIfFull:     cfg.Mail.DropIfFull,
		EnqueueTimeout: cfg.Mail.EnqueueTimeout,
	}, engine.deliverMail)

	if cfg.Audit.Enabled || b.auditSink != nil {
		sink := b.auditSink
		if sink == nil {
			sink = NewLogrusSink(logger)
		}
		bufferSize := cfg.Audit.BufferSize
		if bufferSize <= 0 {
			bufferSize = defaultConfig().Audit.BufferSize
		}
		engine.audit = dispatch.New[AuditEvent](dispatch.Config{
			BufferSize: bufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink.Emit)
	}

	b.built = true

	return engine, nil
}
