// Package rate provides Redis-backed fixed-window counters used to throttle
// captcha issuance, failed logins and mail-sending account flows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - acg: captcha issuance per-IP
//   - al: failed login per-email
//   - ali: failed login per-IP
//   - apr: password reset request per-email
//   - aev: verification resend per-email
//   - acr: registration per-IP
//
// # What this package must NOT do
//
//   - Decide which operations are throttled (the Engine does).
//   - Be imported outside the authgate module.
package rate
