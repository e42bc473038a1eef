// Package expiring implements the short-lived, single-use secret contract
// shared by captcha answers and account security tokens.
//
// Two shapes live here:
//
//   - [Secret] is an in-row slot (value + absolute deadline) owned by an
//     aggregate such as a user record. It is consumed with [Secret.Take].
//   - [Store] is a keyed store where [Store.TakeIfValid] atomically removes
//     and returns an entry. [MemoryStore] and [RedisStore] implement it.
//
// Both shapes use [Valid] as the single temporal predicate: a deadline is
// honoured while now <= expiresAt.
//
// # What this package must NOT do
//
//   - Report absence or expiry as an error. Errors are reserved for backend
//     failures and always wrap [ErrStoreUnavailable].
//   - Hand the same entry to two concurrent takers.
//   - Log or expose stored values.
package expiring
