// Package flows contains pure-function orchestrators for the account
// operations of the Engine.
//
// Each flow function (RunRegister, RunLogin, RunRequestPasswordReset, etc.)
// accepts a typed dependency struct and returns results without side-effects
// beyond those dependencies. The Engine builds the dependency struct per call
// and stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate captcha checks, rate limiting, the user
// provider, token issuance, mail dispatch, audit and metrics. They do NOT
// own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authgate (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency funcs.
package flows
