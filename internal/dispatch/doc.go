// Package dispatch implements a bounded asynchronous relay used for audit
// events and outgoing mail.
//
// # Components
//
//   - [Dispatcher]: buffered async relay that either drops or blocks when full.
//   - [Handler]: consumer invoked on the single worker goroutine.
//
// # Architecture boundaries
//
// This package owns buffering and delivery ordering. It does NOT decide what
// to enqueue; that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Retry or reorder items on behalf of the handler.
//   - Import authgate or any sibling internal package.
package dispatch
