// Package jwt issues and verifies the signed session credential handed out
// after a successful login. HS256 and Ed25519 are supported; Ed25519 may be
// configured with a kid-indexed verify key set for rotation.
package jwt
