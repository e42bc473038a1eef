// Package userstore holds [authgate.UserProvider] implementations.
//
// # Sub-packages
//
//   - memory: mutex-guarded map, for tests and single-process deployments
//   - postgres: database/sql with lib/pq; UpdateUser runs in a transaction
//     holding a row lock
package userstore
