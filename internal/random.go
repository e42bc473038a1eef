package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const (
	challengeIDSize  = 16
	accountTokenSize = 32
	seedSize         = 32
)

// ChallengeID identifies one captcha challenge.
type ChallengeID [challengeIDSize]byte

// NewChallengeID returns 128 random bits.
func NewChallengeID() (ChallengeID, error) {
	var id ChallengeID
	_, err := rand.Read(id[:])
	return id, err
}

func (c ChallengeID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(c[:])
}

// ParseChallengeID decodes the string form produced by ChallengeID.String.
func ParseChallengeID(s string) (ChallengeID, error) {
	var id ChallengeID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid challenge id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewAccountToken returns 256 random bits encoded as base64url.
func NewAccountToken() (string, error) {
	var raw [accountTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// WellFormedAccountToken reports whether token has the shape NewAccountToken
// produces. Callers use it to reject garbage before touching storage.
func WellFormedAccountToken(token string) bool {
	if base64.RawURLEncoding.EncodedLen(accountTokenSize) != len(token) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}

// NewSeed returns a seed for a ChaCha8 generator.
func NewSeed() ([seedSize]byte, error) {
	var seed [seedSize]byte
	_, err := rand.Read(seed[:])
	return seed, err
}
