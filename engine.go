package authgate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/MrEthical07/authgate/captcha"
	"github.com/MrEthical07/authgate/internal/dispatch"
	internalflows "github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/sirupsen/logrus"
)

// Engine runs the captcha and account flows. Build one with [New] and
// [Builder.Build]; it is safe for concurrent use.
type Engine struct {
	config Config
	logger logrus.FieldLogger
	now    func() time.Time

	captcha      *captcha.Service
	sweepCaptcha func() int
	tokens       *TokenPolicy
	hasher       PasswordHasher
	verifyDummy  func(string)
	needsUpgrade func(string) (bool, error)
	jwtManager   *jwt.Manager
	rateLimiter  *rate.Limiter
	userProvider UserProvider

	mailer  Mailer
	mail    *dispatch.Dispatcher[MailMessage]
	audit   *dispatch.Dispatcher[AuditEvent]
	metrics *Metrics
}

// Close drains the audit and mail queues. Later calls are no-ops.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.mail != nil {
		e.mail.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MailDropped reports mail messages that never reached the Mailer.
func (e *Engine) MailDropped() uint64 {
	if e == nil || e.mail == nil {
		return 0
	}
	return e.mail.Dropped()
}

// Metrics returns the live counter set, nil when metrics are disabled.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// ParseSession validates an access token issued by Login.
func (e *Engine) ParseSession(token string) (*jwt.SessionClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	return e.jwtManager.Parse(token)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) log(ctx context.Context) logrus.FieldLogger {
	entry := e.logger
	if id := RequestIDFromContext(ctx); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

func (e *Engine) flowErrors() internalflows.Errors {
	return internalflows.Errors{
		EngineNotReady:           ErrEngineNotReady,
		InvalidRequest:           ErrInvalidRequest,
		InvalidCaptcha:           ErrInvalidCaptcha,
		InvalidOrExpiredToken:    ErrInvalidOrExpiredToken,
		EmailAlreadyRegistered:   ErrEmailAlreadyRegistered,
		InvalidCredentials:       ErrInvalidCredentials,
		EmailNotVerified:         ErrEmailNotVerified,
		AccountDisabled:          ErrAccountDisabled,
		PasswordPolicy:           ErrPasswordPolicy,
		Unavailable:              ErrUnavailable,
		ProviderNotFound:         ErrProviderNotFound,
		ProviderDuplicateEmail:   ErrProviderDuplicateEmail,
		LoginRateLimited:         ErrLoginRateLimited,
		RegisterRateLimited:      ErrRegisterRateLimited,
		PasswordResetRateLimited: ErrPasswordResetRateLimited,
		VerificationRateLimited:  ErrVerificationRateLimited,
	}
}

func (e *Engine) sleepEnumerationDelay(ctx context.Context) error {
	lo := e.config.Account.EnumerationDelayMin
	hi := e.config.Account.EnumerationDelayMax
	delay := lo
	if span := int64(hi - lo); span > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(span+1))
		if err != nil {
			return err
		}
		delay += time.Duration(n.Int64())
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// limit applies one rate window and maps the outcome to limited or
// ErrUnavailable.
func (e *Engine) limit(ctx context.Context, scope rate.Scope, id string, limited error) error {
	err := e.rateLimiter.Allow(ctx, scope, id)
	return e.mapLimiterError(ctx, scope, err, limited)
}

func (e *Engine) mapLimiterError(ctx context.Context, scope rate.Scope, err, limited error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.emitRateLimit(ctx, scope)
		return limited
	default:
		e.log(ctx).WithError(err).WithField("scope", string(scope)).Warn("rate limiter unavailable")
		return wrapUnavailable(err)
	}
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func toFlowUser(u UserRecord, kind TokenKind) internalflows.User {
	out := internalflows.User{
		UserID:        u.UserID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		PasswordHash:  u.PasswordHash,
		EmailVerified: u.EmailVerified,
		Active:        u.Active,
	}
	if slot := u.Token(kind); slot != nil {
		out.Token = *slot
	}
	return out
}

func toFlowIssued(t IssuedToken) internalflows.IssuedToken {
	return internalflows.IssuedToken{
		Value:      t.Value,
		ExpiresAt:  t.ExpiresAt,
		Superseded: t.Superseded,
	}
}
