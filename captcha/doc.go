// Package captcha issues and checks single-use image challenges.
//
// A [Service] draws a short random answer, renders it through a [Renderer]
// and stores the upper-cased answer in an [expiring.Store] under a fresh
// 128-bit id. [Service.Validate] removes the stored answer before comparing,
// so every id can be checked at most once whatever the outcome.
//
// # Architecture boundaries
//
// The package owns answer generation, rendering and the take-then-compare
// rule. Throttling, audit and metrics are the caller's concern.
//
// # What this package must NOT do
//
//   - Return the stored answer to callers.
//   - Keep an id alive after a validation attempt.
//   - Share a random generator between concurrent generations.
package captcha
