package captcha

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrEthical07/authgate/expiring"
	"github.com/MrEthical07/authgate/internal"
)

const (
	// DefaultAlphabet omits 0/O and 1/I.
	DefaultAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	DefaultLength   = 4
	DefaultTTL      = 5 * time.Minute
)

// Config tunes a [Service]. Zero fields take the defaults above.
type Config struct {
	TTL      time.Duration
	Length   int
	Alphabet string

	// Renderer draws the challenge image. Defaults to a [PNGRenderer].
	Renderer Renderer
	// MaxConcurrentRenders bounds CPU-bound rendering. Defaults to GOMAXPROCS.
	MaxConcurrentRenders int

	// NewRand returns the generator used for one generation. It must return
	// a fresh, unshared generator on every call. Defaults to ChaCha8 seeded
	// from crypto/rand.
	NewRand func() *rand.Rand
	// NewText overrides answer selection. Used by tests.
	NewText func(r *rand.Rand) string

	// OnRender observes the duration of every successful render.
	OnRender func(time.Duration)

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Length <= 0 {
		c.Length = DefaultLength
	}
	if c.Alphabet == "" {
		c.Alphabet = DefaultAlphabet
	}
	if c.Renderer == nil {
		c.Renderer = NewPNGRenderer(PNGConfig{})
	}
	if c.MaxConcurrentRenders <= 0 {
		c.MaxConcurrentRenders = runtime.GOMAXPROCS(0)
	}
	if c.NewRand == nil {
		c.NewRand = newSeededRand
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func newSeededRand() *rand.Rand {
	// crypto/rand.Read does not fail on supported platforms.
	seed, _ := internal.NewSeed()
	return rand.New(rand.NewChaCha8(seed))
}

// Challenge is one issued captcha. The answer never leaves the service.
type Challenge struct {
	ID        string
	Image     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ImageBase64 returns the image as standard base64, ready for a data URI.
func (c Challenge) ImageBase64() string {
	return base64.StdEncoding.EncodeToString(c.Image)
}

// Service issues and validates challenges. Safe for concurrent use.
type Service struct {
	store expiring.Store[string]
	cfg   Config
	sem   *semaphore.Weighted
}

// New returns a service storing answers in store.
func New(store expiring.Store[string], cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("captcha: store is required")
	}
	cfg = cfg.withDefaults()
	if strings.ToUpper(cfg.Alphabet) != cfg.Alphabet {
		return nil, errors.New("captcha: alphabet must be upper case")
	}

	return &Service{
		store: store,
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentRenders)),
	}, nil
}

// TTL returns the challenge lifetime.
func (s *Service) TTL() time.Duration {
	return s.cfg.TTL
}

// Generate draws a new answer, renders it and stores it under a fresh id.
func (s *Service) Generate(ctx context.Context) (Challenge, error) {
	r := s.cfg.NewRand()
	text := s.text(r)

	id, err := internal.NewChallengeID()
	if err != nil {
		return Challenge{}, fmt.Errorf("captcha: challenge id: %w", err)
	}

	image, err := s.render(ctx, text, r)
	if err != nil {
		return Challenge{}, err
	}

	now := s.cfg.Now()
	challenge := Challenge{
		ID:        id.String(),
		Image:     image,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.Put(ctx, challenge.ID, strings.ToUpper(text), s.cfg.TTL); err != nil {
		return Challenge{}, err
	}
	return challenge, nil
}

// Validate consumes the challenge id and reports whether input matches its
// answer, ignoring case. Absent, expired and mismatched challenges all
// return false with a nil error.
func (s *Service) Validate(ctx context.Context, id, input string) (bool, error) {
	if _, err := internal.ParseChallengeID(id); err != nil {
		return false, nil
	}

	answer, ok, err := s.store.TakeIfValid(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok || input == "" {
		return false, nil
	}

	candidate := strings.ToUpper(input)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(answer)) == 1, nil
}

// Refresh discards oldID and issues a new challenge. The new id never
// equals oldID.
func (s *Service) Refresh(ctx context.Context, oldID string) (Challenge, error) {
	if _, err := internal.ParseChallengeID(oldID); err == nil {
		if err := s.store.Remove(ctx, oldID); err != nil {
			return Challenge{}, err
		}
	}
	return s.Generate(ctx)
}

func (s *Service) text(r *rand.Rand) string {
	if s.cfg.NewText != nil {
		return s.cfg.NewText(r)
	}

	var b strings.Builder
	b.Grow(s.cfg.Length)
	for i := 0; i < s.cfg.Length; i++ {
		b.WriteByte(s.cfg.Alphabet[r.IntN(len(s.cfg.Alphabet))])
	}
	return b.String()
}

func (s *Service) render(ctx context.Context, text string, r *rand.Rand) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	start := time.Now()
	image, err := s.cfg.Renderer.Render(text, r)
	if err != nil {
		return nil, &RenderingError{Err: err}
	}
	if s.cfg.OnRender != nil {
		s.cfg.OnRender(time.Since(start))
	}
	return image, nil
}
