package authgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authgate/captcha"
	"github.com/MrEthical07/authgate/internal/rate"
)

// GenerateCaptcha issues a new challenge. When a Redis client is wired,
// issuance is throttled per client IP (see [WithClientIP]).
func (e *Engine) GenerateCaptcha(ctx context.Context) (CaptchaChallenge, error) {
	if e == nil || e.captcha == nil {
		return CaptchaChallenge{}, ErrEngineNotReady
	}
	if err := e.limitCaptcha(ctx); err != nil {
		return CaptchaChallenge{}, err
	}

	ch, err := e.captcha.Generate(ctx)
	if err != nil {
		return CaptchaChallenge{}, e.mapCaptchaError(ctx, "", err)
	}

	e.metricInc(MetricCaptchaIssued)
	e.log(ctx).WithField("captcha_id", ch.ID).Debug("captcha issued")
	e.emitCaptchaAudit(ctx, auditEventCaptchaIssued, ch.ID, true, nil)
	return toCaptchaChallenge(ch), nil
}

// RefreshCaptcha discards oldID, if any, and issues a replacement. The old
// id is invalid afterwards even if it was never answered.
func (e *Engine) RefreshCaptcha(ctx context.Context, oldID string) (CaptchaChallenge, error) {
	if e == nil || e.captcha == nil {
		return CaptchaChallenge{}, ErrEngineNotReady
	}
	if err := e.limitCaptcha(ctx); err != nil {
		return CaptchaChallenge{}, err
	}

	ch, err := e.captcha.Refresh(ctx, oldID)
	if err != nil {
		return CaptchaChallenge{}, e.mapCaptchaError(ctx, oldID, err)
	}

	e.metricInc(MetricCaptchaRefreshed)
	e.log(ctx).WithField("captcha_id", ch.ID).WithField("previous_id", oldID).Debug("captcha refreshed")
	e.emitAuditEvent(ctx, AuditEvent{
		EventType: auditEventCaptchaRefreshed,
		CaptchaID: ch.ID,
		Success:   true,
	}, nil, func() map[string]string {
		return map[string]string{
			"previous_id": oldID,
		}
	})
	return toCaptchaChallenge(ch), nil
}

// ValidateCaptcha checks answer against id and consumes the challenge
// whatever the outcome. Comparison ignores case.
func (e *Engine) ValidateCaptcha(ctx context.Context, id, answer string) (bool, error) {
	if err := e.verifyCaptcha(ctx, id, answer); err != nil {
		if errors.Is(err, ErrInvalidCaptcha) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// verifyCaptcha is the flow-facing form of ValidateCaptcha.
// SweepCaptchas drops expired challenges from the in-process store and
// returns how many were dropped. Redis expires records itself, so with a
// Redis client it always returns zero.
func (e *Engine) SweepCaptchas() int {
	if e == nil || e.sweepCaptcha == nil {
		return 0
	}
	return e.sweepCaptcha()
}

func (e *Engine) verifyCaptcha(ctx context.Context, id, answer string) error {
	if e == nil || e.captcha == nil {
		return ErrEngineNotReady
	}

	ok, err := e.captcha.Validate(ctx, id, answer)
	if err != nil {
		e.log(ctx).WithError(err).WithField("captcha_id", id).Error("captcha store unavailable")
		mapped := wrapUnavailable(err)
		e.emitCaptchaAudit(ctx, auditEventCaptchaValidated, id, false, mapped)
		return mapped
	}
	if !ok {
		e.metricInc(MetricCaptchaRejected)
		e.emitCaptchaAudit(ctx, auditEventCaptchaValidated, id, false, ErrInvalidCaptcha)
		return ErrInvalidCaptcha
	}

	e.metricInc(MetricCaptchaSolved)
	e.emitCaptchaAudit(ctx, auditEventCaptchaValidated, id, true, nil)
	return nil
}

func (e *Engine) limitCaptcha(ctx context.Context) error {
	err := e.limit(ctx, rate.ScopeCaptcha, ClientIPFromContext(ctx), ErrCaptchaRateLimited)
	if errors.Is(err, ErrCaptchaRateLimited) {
		e.metricInc(MetricCaptchaRateLimited)
	}
	return err
}

func (e *Engine) mapCaptchaError(ctx context.Context, captchaID string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, captcha.ErrRendering):
		e.metricInc(MetricCaptchaRenderFailure)
		e.log(ctx).WithError(err).WithField("captcha_id", captchaID).Error("captcha rendering failed")
		return fmt.Errorf("%w: %v", ErrCaptchaRendering, err)
	default:
		e.log(ctx).WithError(err).WithField("captcha_id", captchaID).Error("captcha store unavailable")
		return wrapUnavailable(err)
	}
}

func toCaptchaChallenge(ch captcha.Challenge) CaptchaChallenge {
	return CaptchaChallenge{
		ID:          ch.ID,
		ImageBase64: ch.ImageBase64(),
		ExpiresAt:   ch.ExpiresAt,
	}
}
