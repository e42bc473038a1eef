package internal

import (
	"testing"
)

func TestAccountTokensAreUniqueAndWellFormed(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		tok, err := NewAccountToken()
		if err != nil {
			t.Fatalf("NewAccountToken failed: %v", err)
		}
		if !WellFormedAccountToken(tok) {
			t.Fatalf("token %q not well formed", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestWellFormedAccountTokenRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "!!!not-base64!!!", "aGVsbG8="} {
		if WellFormedAccountToken(in) {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

// FuzzParseChallengeID exercises challenge id decoding with arbitrary strings.
// Goal: no panics; a successful parse round-trips.
func FuzzParseChallengeID(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("!!!not-base64!!!")
	if id, err := NewChallengeID(); err == nil {
		f.Add(id.String())
	}

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseChallengeID(input)
		if err != nil {
			return
		}
		again, err := ParseChallengeID(id.String())
		if err != nil {
			t.Fatalf("roundtrip parse failed: %v", err)
		}
		if again != id {
			t.Fatal("roundtrip mismatch")
		}
	})
}
