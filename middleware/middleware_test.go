package middleware

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/captcha"
	"github.com/MrEthical07/authgate/userstore/memory"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type answers struct {
	mu   sync.Mutex
	last string
}

func (a *answers) renderer() captcha.Renderer {
	return captcha.RendererFunc(func(text string, _ *rand.Rand) ([]byte, error) {
		a.mu.Lock()
		a.last = text
		a.mu.Unlock()
		return []byte("png"), nil
	})
}

func (a *answers) get() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// loggedInEngine returns an engine and a valid access token for it.
func loggedInEngine(t *testing.T) (*authgate.Engine, string) {
	t.Helper()
	cfg := authgate.DefaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	a := &answers{}
	engine, err := authgate.New().
		WithConfig(cfg).
		WithUserProvider(memory.New()).
		WithCaptchaRenderer(a.renderer()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ctx := context.Background()
	ch, err := engine.GenerateCaptcha(ctx)
	require.NoError(t, err)
	_, err = engine.Register(ctx, authgate.RegisterRequest{
		Email: "mw@example.com", Password: "correct-horse", ConfirmPassword: "correct-horse",
		CaptchaID: ch.ID, CaptchaAnswer: a.get(),
	})
	require.NoError(t, err)

	ch, err = engine.GenerateCaptcha(ctx)
	require.NoError(t, err)
	res, err := engine.Login(ctx, authgate.LoginRequest{
		Email: "mw@example.com", Password: "correct-horse",
		CaptchaID: ch.ID, CaptchaAnswer: a.get(),
	})
	require.NoError(t, err)
	return engine, res.AccessToken
}

func TestRequireSession(t *testing.T) {
	engine, token := loggedInEngine(t)

	var seen string
	h := RequireSession(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := SessionFromContext(r.Context())
		require.True(t, ok)
		seen = claims.Email
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"lower-case scheme", "bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"tampered", "Bearer " + token + "x", http.StatusUnauthorized},
		{"basic", "Basic abc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"kind":"invalid_credentials"`)
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
	assert.Equal(t, "mw@example.com", seen)
}

func TestRequireSessionNilEngine(t *testing.T) {
	h := RequireSession(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestID(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = authgate.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", got)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, got, 36)
	assert.Equal(t, got, rec.Header().Get(RequestIDHeader))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", RemoteIP(req, false))
	assert.Equal(t, "203.0.113.9", RemoteIP(req, true))

	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "192.0.2.10", RemoteIP(req, true))

	var got string
	ClientIP(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = authgate.ClientIPFromContext(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "192.0.2.10", got)
}

func TestAccessLog(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fine", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/boom", nil))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, http.StatusOK, entries[0].Data["status"])
	assert.Equal(t, 2, entries[0].Data["bytes"])
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, "/boom", entries[1].Data["path"])
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(IPRateLimiterConfig{Rate: rate.Limit(0.001), Burst: 2, IdleTTL: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	h := l.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(authgate.WithClientIP(req.Context(), ip))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("198.51.100.1").Code)
	assert.Equal(t, http.StatusOK, call("198.51.100.1").Code)
	limited := call("198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), `"kind":"rate_limited"`)

	assert.Equal(t, http.StatusOK, call("198.51.100.2").Code)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, l.Sweep())
}
