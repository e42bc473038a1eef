package authgate

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSessionKey = []byte("0123456789abcdef0123456789abcdef")

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.PrivateKey = testSessionKey
	cfg.Account.EnumerationDelayMin = 0
	cfg.Account.EnumerationDelayMax = 0
	cfg.Mail.VerifyURL = "https://app.example.com/verify"
	cfg.Mail.ResetURL = "https://app.example.com/reset"
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// answerRecorder stands in for the PNG renderer and remembers the last
// answer it was asked to draw.
type answerRecorder struct {
	mu   sync.Mutex
	last string
}

func (a *answerRecorder) Render(text string, _ *rand.Rand) ([]byte, error) {
	a.mu.Lock()
	a.last = text
	a.mu.Unlock()
	return []byte("\x89PNG-test"), nil
}

func (a *answerRecorder) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

type mailRecorder struct {
	messages chan MailMessage
	fail     error
}

func newMailRecorder() *mailRecorder {
	return &mailRecorder{messages: make(chan MailMessage, 32)}
}

func (m *mailRecorder) Send(_ context.Context, msg MailMessage) error {
	if m.fail != nil {
		return m.fail
	}
	m.messages <- msg
	return nil
}

func (m *mailRecorder) next(t testing.TB) MailMessage {
	t.Helper()
	select {
	case msg := <-m.messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("expected a mail message")
		return MailMessage{}
	}
}

type testUserProvider struct {
	mu    sync.Mutex
	users map[string]UserRecord
}

func newTestUserProvider() *testUserProvider {
	return &testUserProvider{users: map[string]UserRecord{}}
}

func (p *testUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return UserRecord{}, ErrProviderNotFound
}

func (p *testUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return UserRecord{}, ErrProviderNotFound
	}
	return u, nil
}

func (p *testUserProvider) FindUserByToken(_ context.Context, kind TokenKind, token string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.users {
		if slot := u.Token(kind); slot != nil && token != "" && slot.Value == token {
			return u, nil
		}
	}
	return UserRecord{}, ErrProviderNotFound
}

func (p *testUserProvider) CreateUser(_ context.Context, user UserRecord) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.users {
		if strings.EqualFold(u.Email, user.Email) {
			return UserRecord{}, ErrProviderDuplicateEmail
		}
	}
	p.users[user.UserID] = user
	return user, nil
}

func (p *testUserProvider) UpdateUser(_ context.Context, userID string, mutate func(*UserRecord) error) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return UserRecord{}, ErrProviderNotFound
	}
	if err := mutate(&u); err != nil {
		return UserRecord{}, err
	}
	p.users[userID] = u
	return u, nil
}

func (p *testUserProvider) byEmail(t *testing.T, email string) UserRecord {
	t.Helper()
	u, err := p.GetUserByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("user %q not found: %v", email, err)
	}
	return u
}

type harnessOptions struct {
	redis  bool
	mutate func(*Config)
	sink   AuditSink
	mailer Mailer
}

type testHarness struct {
	engine  *Engine
	users   *testUserProvider
	mail    *mailRecorder
	clock   *testClock
	answers *answerRecorder
	mr      *miniredis.Miniredis
}

func newTestHarness(t testing.TB, opts harnessOptions) *testHarness {
	t.Helper()

	cfg := testConfig()
	if opts.mutate != nil {
		opts.mutate(&cfg)
	}

	h := &testHarness{
		users:   newTestUserProvider(),
		mail:    newMailRecorder(),
		clock:   newTestClock(),
		answers: &answerRecorder{},
	}

	b := New().
		WithConfig(cfg).
		WithClock(h.clock.Now).
		WithUserProvider(h.users).
		WithMailer(h.mail).
		WithCaptchaRenderer(h.answers)
	if opts.redis {
		mr, rdb := newTestRedis(t)
		h.mr = mr
		b = b.WithRedis(rdb)
		t.Cleanup(mr.Close)
	}
	if opts.sink != nil {
		b = b.WithAuditSink(opts.sink)
	}
	if opts.mailer != nil {
		b = b.WithMailer(opts.mailer)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	h.engine = engine
	t.Cleanup(engine.Close)
	return h
}

// solveCaptcha issues a challenge and returns its id with the right answer.
func (h *testHarness) solveCaptcha(t testing.TB) (string, string) {
	t.Helper()
	ch, err := h.engine.GenerateCaptcha(context.Background())
	if err != nil {
		t.Fatalf("GenerateCaptcha failed: %v", err)
	}
	return ch.ID, h.answers.Last()
}

// register creates email with password and drains the verification mail.
func (h *testHarness) register(t testing.TB, email, password string) (RegisterResult, MailMessage) {
	t.Helper()
	id, answer := h.solveCaptcha(t)
	res, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
		FirstName:       "Ada",
		CaptchaID:       id,
		CaptchaAnswer:   answer,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return res, h.mail.next(t)
}

func (h *testHarness) login(t testing.TB, email, password string) (LoginResult, error) {
	t.Helper()
	id, answer := h.solveCaptcha(t)
	return h.engine.Login(context.Background(), LoginRequest{
		Email:         email,
		Password:      password,
		CaptchaID:     id,
		CaptchaAnswer: answer,
	})
}

func waitForMetric(t *testing.T, e *Engine, id MetricID, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Metrics().Value(id) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("metric %d never reached %d (got %d)", id, want, e.Metrics().Value(id))
}

func TestBuildRequiresUserProvider(t *testing.T) {
	cfg := testConfig()
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected Build to fail without a user provider")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Session.PrivateKey = nil
	if _, err := New().WithConfig(cfg).WithUserProvider(newTestUserProvider()).Build(); err == nil {
		t.Fatal("expected Build to fail without a session key")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithUserProvider(newTestUserProvider())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.GenerateCaptcha(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if err := e.ForgotPassword(context.Background(), "a@example.com"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Login(context.Background(), LoginRequest{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
}

func TestEngineCloseIdempotent(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.engine.Close()
	h.engine.Close()
}
