package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricCaptchaIssued, Name: "authgate_captcha_issued_total", Help: "Captcha challenges issued."},
	{ID: authgate.MetricCaptchaRefreshed, Name: "authgate_captcha_refreshed_total", Help: "Captcha challenges replaced through refresh."},
	{ID: authgate.MetricCaptchaSolved, Name: "authgate_captcha_solved_total", Help: "Captcha challenges answered correctly."},
	{ID: authgate.MetricCaptchaRejected, Name: "authgate_captcha_rejected_total", Help: "Captcha answers rejected as wrong, unknown or expired."},
	{ID: authgate.MetricCaptchaRenderFailure, Name: "authgate_captcha_render_failure_total", Help: "Captcha images that could not be drawn."},
	{ID: authgate.MetricCaptchaRateLimited, Name: "authgate_captcha_rate_limited_total", Help: "Captcha issuance requests refused by the per-IP budget."},
	{ID: authgate.MetricRegisterSuccess, Name: "authgate_register_success_total", Help: "Accounts created."},
	{ID: authgate.MetricRegisterDuplicate, Name: "authgate_register_duplicate_total", Help: "Registrations rejected for an existing email."},
	{ID: authgate.MetricRegisterFailure, Name: "authgate_register_failure_total", Help: "Registrations rejected for any other reason."},
	{ID: authgate.MetricRegisterRateLimited, Name: "authgate_register_rate_limited_total", Help: "Registrations refused by the per-IP budget."},
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Successful logins."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Failed logins."},
	{ID: authgate.MetricLoginUnverified, Name: "authgate_login_unverified_total", Help: "Logins refused for an unverified email."},
	{ID: authgate.MetricLoginRateLimited, Name: "authgate_login_rate_limited_total", Help: "Logins refused by the failure budget."},
	{ID: authgate.MetricPasswordResetRequest, Name: "authgate_password_reset_request_total", Help: "Password reset requests."},
	{ID: authgate.MetricPasswordResetSuccess, Name: "authgate_password_reset_success_total", Help: "Passwords changed through a reset token."},
	{ID: authgate.MetricPasswordResetFailure, Name: "authgate_password_reset_failure_total", Help: "Reset confirmations rejected."},
	{ID: authgate.MetricPasswordResetRateLimited, Name: "authgate_password_reset_rate_limited_total", Help: "Reset requests refused by the per-email budget."},
	{ID: authgate.MetricEmailVerificationRequest, Name: "authgate_email_verification_request_total", Help: "Verification mails requested."},
	{ID: authgate.MetricEmailVerificationSuccess, Name: "authgate_email_verification_success_total", Help: "Emails verified."},
	{ID: authgate.MetricEmailVerificationFailure, Name: "authgate_email_verification_failure_total", Help: "Verification tokens rejected."},
	{ID: authgate.MetricEmailVerificationRateLimited, Name: "authgate_email_verification_rate_limited_total", Help: "Verification resends refused by the per-email budget."},
	{ID: authgate.MetricMailSent, Name: "authgate_mail_sent_total", Help: "Mail messages accepted by the mailer."},
	{ID: authgate.MetricMailFailed, Name: "authgate_mail_failed_total", Help: "Mail messages the mailer failed to send."},
	{ID: authgate.MetricMailDropped, Name: "authgate_mail_dropped_total", Help: "Mail messages dropped before reaching the mailer."},
	{ID: authgate.MetricRateLimitHit, Name: "authgate_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricCaptchaRenderLatency, Name: "authgate_captcha_render_seconds", Help: "Captcha image rendering latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authgate_audit_dropped_total"

// HistogramBounds are the bucket upper bounds in seconds, matching
// authgate.HistogramBounds. The implicit last bucket is +Inf.
var HistogramBounds = []float64{
	0.001,
	0.002,
	0.005,
	0.01,
	0.025,
	0.05,
	0.1,
}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// cannot carry labels on a gauge name.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
