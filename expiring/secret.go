package expiring

import (
	"crypto/subtle"
	"time"
)

// Valid reports whether the deadline expiresAt still holds at now.
// A zero deadline never holds.
func Valid(now, expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !now.After(expiresAt)
}

// Secret is an opaque value paired with its absolute deadline. The two
// fields are always set or cleared together.
type Secret struct {
	Value     string
	ExpiresAt time.Time
}

// Set stores value with deadline expiresAt, replacing whatever was present.
// An empty value or zero deadline clears the slot instead.
func (s *Secret) Set(value string, expiresAt time.Time) {
	if value == "" || expiresAt.IsZero() {
		s.Clear()
		return
	}
	s.Value = value
	s.ExpiresAt = expiresAt
}

// Clear empties the slot.
func (s *Secret) Clear() {
	s.Value = ""
	s.ExpiresAt = time.Time{}
}

// Pending reports whether the slot holds a value, expired or not.
func (s Secret) Pending() bool {
	return s.Value != "" && !s.ExpiresAt.IsZero()
}

// Expired reports whether the slot holds a value whose deadline has passed.
func (s Secret) Expired(now time.Time) bool {
	return s.Pending() && !Valid(now, s.ExpiresAt)
}

// Matches reports whether candidate equals the stored value and the deadline
// still holds. The comparison is constant-time. Matches never mutates.
func (s Secret) Matches(candidate string, now time.Time) bool {
	if !s.Pending() || candidate == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(s.Value), []byte(candidate)) != 1 {
		return false
	}
	return Valid(now, s.ExpiresAt)
}

// Take clears the slot and returns true when candidate matches at now.
// On mismatch the slot is left untouched.
func (s *Secret) Take(candidate string, now time.Time) bool {
	if !s.Matches(candidate, now) {
		return false
	}
	s.Clear()
	return true
}
