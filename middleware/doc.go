// Package middleware provides net/http adapters around an authgate.Engine.
//
// # Components
//
//   - [RequireSession]: verifies the Bearer access token issued by Login.
//   - [RequestID]: assigns or propagates an X-Request-ID.
//   - [ClientIP]: attaches the caller address for per-IP engine throttling.
//   - [AccessLog]: one logrus entry per request.
//   - [IPRateLimiter]: in-process token bucket per client address.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Credential
// checks are delegated to Engine.ParseSession.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis.
//   - Log request bodies.
package middleware
