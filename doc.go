// Package authgate provides human-verification challenges and time-boxed
// account security tokens for a registration and login service.
//
// Captcha challenges are images of short random codes. Each challenge is
// answerable exactly once until it expires; a wrong answer consumes it too.
// Account tokens (email verification, password reset) live on the user row
// as a value with an absolute deadline and stop working once consumed,
// expired or superseded by a newer token of the same kind.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config],
// [UserProvider] and the request/result value types. Flow orchestration,
// rate limiting and async dispatch live under internal/. Challenge storage
// is in package expiring, image synthesis in package captcha.
//
// # What this package must NOT do
//
//   - Log or audit captcha answers, account tokens or passwords.
//   - Reveal through errors or timing whether an email is registered on the
//     forgot-password and resend-verification paths.
//   - Import any sub-package that re-imports authgate (no import cycles).
package authgate
