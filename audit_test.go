package authgate

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// drain closes the engine so every queued event is delivered, then returns
// what the sink received.
func drain(t *testing.T, h *testHarness, sink *ChannelSink) []AuditEvent {
	t.Helper()
	h.engine.Close()

	var events []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func findEvent(events []AuditEvent, eventType string) (AuditEvent, bool) {
	for _, ev := range events {
		if ev.EventType == eventType {
			return ev, true
		}
	}
	return AuditEvent{}, false
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	h := newTestHarness(t, harnessOptions{})
	h.register(t, "dana@example.com", "correct-horse")
	_, _ = h.login(t, "dana@example.com", "wrong-horse")
	h.engine.Close()

	if h.engine.audit != nil {
		t.Fatal("expected no audit dispatcher without a sink")
	}
}

func TestAuditEnabledWithoutSinkUsesLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cfg := testConfig()
	cfg.Audit.Enabled = true

	engine, err := New().
		WithConfig(cfg).
		WithLogger(logger).
		WithUserProvider(newTestUserProvider()).
		WithCaptchaRenderer(&answerRecorder{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := engine.GenerateCaptcha(context.Background()); err != nil {
		t.Fatalf("GenerateCaptcha failed: %v", err)
	}
	engine.Close()

	for _, entry := range hook.AllEntries() {
		if entry.Message == "audit" && entry.Data["event"] == auditEventCaptchaIssued {
			if entry.Level != logrus.InfoLevel {
				t.Fatalf("expected info level, got %s", entry.Level)
			}
			return
		}
	}
	t.Fatal("expected captcha_issued audit entry in the log")
}

func TestAuditCaptchaEventCarriesRequestFields(t *testing.T) {
	sink := NewChannelSink(64)
	h := newTestHarness(t, harnessOptions{sink: sink})

	ctx := WithRequestID(WithClientIP(context.Background(), "198.51.100.33"), "req-1")
	ch, err := h.engine.GenerateCaptcha(ctx)
	if err != nil {
		t.Fatalf("GenerateCaptcha failed: %v", err)
	}
	if ok, _ := h.engine.ValidateCaptcha(ctx, ch.ID, "nope"); ok {
		t.Fatal("wrong answer accepted")
	}

	events := drain(t, h, sink)
	issued, ok := findEvent(events, auditEventCaptchaIssued)
	if !ok {
		t.Fatal("expected captcha_issued")
	}
	if issued.CaptchaID != ch.ID || issued.IP != "198.51.100.33" || issued.RequestID != "req-1" || !issued.Success {
		t.Fatalf("unexpected event %+v", issued)
	}
	if !issued.Timestamp.Equal(h.clock.Now()) {
		t.Fatalf("expected engine clock timestamp, got %v", issued.Timestamp)
	}

	validated, ok := findEvent(events, auditEventCaptchaValidated)
	if !ok {
		t.Fatal("expected captcha_validated")
	}
	if validated.Success || validated.Error != string(KindInvalidCaptcha) {
		t.Fatalf("unexpected event %+v", validated)
	}
}

func TestAuditLoginFailureAndRateLimit(t *testing.T) {
	sink := NewChannelSink(64)
	h := newTestHarness(t, harnessOptions{redis: true, sink: sink, mutate: func(c *Config) {
		c.RateLimits.LoginFailures = 1
	}})
	h.register(t, "eli@example.com", "correct-horse")

	_, _ = h.login(t, "eli@example.com", "wrong-horse")
	_, _ = h.login(t, "eli@example.com", "wrong-horse")

	events := drain(t, h, sink)
	failure, ok := findEvent(events, auditEventLoginFailure)
	if !ok || failure.Success || failure.Error != string(KindInvalidCredentials) {
		t.Fatalf("unexpected login failure event %+v (found=%v)", failure, ok)
	}
	limited, ok := findEvent(events, auditEventRateLimitTriggered)
	if !ok || limited.Metadata["scope"] == "" {
		t.Fatalf("expected rate limit event with scope, got %+v (found=%v)", limited, ok)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(128)
	h := newTestHarness(t, harnessOptions{sink: sink})

	const pw = "correct-horse-battery"
	_, verify := h.register(t, "fay@example.com", pw)
	reset := requestReset(t, h, "fay@example.com")
	if err := h.engine.ResetPassword(context.Background(), reset.Token, pw+"-2"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if err := h.engine.VerifyEmail(context.Background(), verify.Token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	id, answer := h.solveCaptcha(t)
	if _, err := h.engine.Login(context.Background(), LoginRequest{
		Email:         "fay@example.com",
		Password:      pw + "-2",
		CaptchaID:     id,
		CaptchaAnswer: answer,
	}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	hash := h.users.byEmail(t, "fay@example.com").PasswordHash

	events := drain(t, h, sink)
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}

	needles := []string{pw, verify.Token, reset.Token, hash}
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		for _, needle := range needles {
			if strings.Contains(string(raw), needle) {
				t.Fatalf("secret leaked in %s event", ev.EventType)
			}
		}
		for _, v := range ev.Metadata {
			if v == answer {
				t.Fatalf("captcha answer leaked in %s event", ev.EventType)
			}
		}
	}
}

func TestAuditDroppedWhenBufferFull(t *testing.T) {
	gate := make(chan struct{})
	sink := auditSinkFunc(func(context.Context, AuditEvent) { <-gate })

	h := newTestHarness(t, harnessOptions{sink: sink, mutate: func(c *Config) {
		c.Audit.BufferSize = 1
		c.Audit.DropIfFull = true
	}})

	start := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := h.engine.GenerateCaptcha(context.Background()); err != nil {
			t.Fatalf("GenerateCaptcha failed: %v", err)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected audit emission never to block the caller")
	}
	if h.engine.AuditDropped() == 0 {
		t.Fatal("expected dropped audit events")
	}
	close(gate)
}

type auditSinkFunc func(context.Context, AuditEvent)

func (f auditSinkFunc) Emit(ctx context.Context, ev AuditEvent) { f(ctx, ev) }

func TestJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EventType: auditEventLoginSuccess,
		UserID:    "u1",
		IP:        "127.0.0.1",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventCaptchaIssued, CaptchaID: "c1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if first.UserID != "u1" || first.EventType != auditEventLoginSuccess {
		t.Fatalf("unexpected decoded event %+v", first)
	}
	if !strings.Contains(lines[1], `"captcha_id":"c1"`) {
		t.Fatalf("expected captcha id in %q", lines[1])
	}
}

func TestLogrusSinkLevels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewLogrusSink(logger)

	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLoginSuccess, UserID: "u1", Success: true})
	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventLoginFailure,
		Error:     string(KindInvalidCredentials),
		Metadata:  map[string]string{"reason": "mismatch"},
	})

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != logrus.InfoLevel || entries[0].Data["user_id"] != "u1" {
		t.Fatalf("unexpected success entry %+v", entries[0].Data)
	}
	if entries[1].Level != logrus.WarnLevel || entries[1].Data["meta_reason"] != "mismatch" {
		t.Fatalf("unexpected failure entry %+v", entries[1].Data)
	}
}

func TestNilSinksAreSafe(t *testing.T) {
	var js *JSONWriterSink
	js.Emit(context.Background(), AuditEvent{})
	var ls *LogrusSink
	ls.Emit(context.Background(), AuditEvent{})
	NoOpSink{}.Emit(context.Background(), AuditEvent{})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
