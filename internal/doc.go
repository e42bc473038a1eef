// Package internal holds random-value helpers shared by the captcha and
// account token code.
//
// # Sub-packages
//
//   - dispatch: bounded async relay for audit events and mail
//   - flows: pure-function orchestrators for the account operations
//   - rate: Redis-backed fixed-window counters
//
// # What this package must NOT do
//
//   - Export types that appear in the public authgate API.
//   - Be imported by any package outside the authgate module.
package internal
