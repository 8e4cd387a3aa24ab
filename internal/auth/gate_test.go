package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"pagepush/api/internal/logger"
	"pagepush/api/internal/rbac"
)

const testKey = "pp_live_123"

func newTestGate(t *testing.T, creds Credentials, limiter Limiter) *Gate {
	t.Helper()
	gate, err := NewGate(creds, limiter, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	return gate
}

func signedRequest(secret string, ts int64, body string) Request {
	timestamp := strconv.FormatInt(ts, 10)
	return Request{
		Bearer:    testKey,
		Timestamp: timestamp,
		Signature: Sign([]byte(secret), timestamp, []byte(body)),
		Body:      []byte(body),
		IP:        "198.51.100.4",
		Mutating:  true,
	}
}

func TestAuthenticateKeyResolution(t *testing.T) {
	gate := newTestGate(t, Credentials{APIKey: testKey}, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		req    Request
		source string
		err    error
	}{
		{name: "bearer", req: Request{Bearer: testKey}, source: "bearer"},
		{name: "header", req: Request{HeaderKey: testKey}, source: "header"},
		{name: "query", req: Request{QueryKey: testKey}, source: "query"},
		{name: "bearer wins over header", req: Request{Bearer: "wrong", HeaderKey: testKey}, err: ErrUnauthorized},
		{name: "missing", req: Request{}, err: ErrUnauthorized},
		{name: "mismatch", req: Request{HeaderKey: "nope"}, err: ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ac, err := gate.Authenticate(ctx, tc.req)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if tc.err == nil && (ac.KeySource != tc.source || ac.Role != rbac.RolePublisher) {
				t.Fatalf("unexpected context %+v", ac)
			}
		})
	}
}

func TestAuthenticateWithoutStoredKey(t *testing.T) {
	gate := newTestGate(t, Credentials{}, nil)
	if _, err := gate.Authenticate(context.Background(), Request{Bearer: "anything"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthenticateHashedAndReadKeys(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	gate := newTestGate(t, Credentials{APIKeyHash: string(hash), APIKey: "ignored", ReadKey: "reader-key"}, nil)
	ctx := context.Background()

	ac, err := gate.Authenticate(ctx, Request{Bearer: testKey})
	if err != nil || ac.Role != rbac.RolePublisher {
		t.Fatalf("hashed key: ac=%+v err=%v", ac, err)
	}
	if _, err := gate.Authenticate(ctx, Request{Bearer: "ignored"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("plain key must be ignored when a hash is set, got %v", err)
	}
	ac, err = gate.Authenticate(ctx, Request{Bearer: "reader-key"})
	if err != nil || ac.Role != rbac.RoleReader {
		t.Fatalf("read key: ac=%+v err=%v", ac, err)
	}
}

func TestAuthenticateSignature(t *testing.T) {
	secret := "s3cret"
	now := time.Unix(1_700_000_000, 0)
	gate := newTestGate(t, Credentials{APIKey: testKey, Secret: secret, Window: 300 * time.Second}, nil)
	gate.now = func() time.Time { return now }
	ctx := context.Background()
	body := `{"page":{"title":"Hi"}}`

	t.Run("valid", func(t *testing.T) {
		ac, err := gate.Authenticate(ctx, signedRequest(secret, now.Unix(), body))
		if err != nil || !ac.HMACVerified {
			t.Fatalf("ac=%+v err=%v", ac, err)
		}
	})
	t.Run("stale timestamp with correct signature", func(t *testing.T) {
		_, err := gate.Authenticate(ctx, signedRequest(secret, now.Unix()-400, body))
		if !errors.Is(err, ErrRequestExpired) {
			t.Fatalf("expected expired, got %v", err)
		}
	})
	t.Run("future timestamp", func(t *testing.T) {
		_, err := gate.Authenticate(ctx, signedRequest(secret, now.Unix()+400, body))
		if !errors.Is(err, ErrRequestExpired) {
			t.Fatalf("expected expired, got %v", err)
		}
	})
	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(secret, now.Unix(), body)
		req.Body = []byte(`{"page":{"title":"Evil"}}`)
		if _, err := gate.Authenticate(ctx, req); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected invalid signature, got %v", err)
		}
	})
	t.Run("timestamp without signature", func(t *testing.T) {
		req := signedRequest(secret, now.Unix(), body)
		req.Signature = ""
		if _, err := gate.Authenticate(ctx, req); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected invalid signature, got %v", err)
		}
	})
	t.Run("unsigned mutating request", func(t *testing.T) {
		ac, err := gate.Authenticate(ctx, Request{Bearer: testKey, Mutating: true})
		if err != nil || ac.HMACVerified {
			t.Fatalf("ac=%+v err=%v", ac, err)
		}
	})
	t.Run("read requests skip signature", func(t *testing.T) {
		req := signedRequest("wrong", now.Unix(), body)
		req.Mutating = false
		if _, err := gate.Authenticate(ctx, req); err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	})
}

func TestAuthenticateRequireSignature(t *testing.T) {
	gate := newTestGate(t, Credentials{APIKey: testKey, Secret: "x", RequireSignature: true}, nil)
	_, err := gate.Authenticate(context.Background(), Request{Bearer: testKey, Mutating: true})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestAuthenticateAllowlist(t *testing.T) {
	gate := newTestGate(t, Credentials{APIKey: testKey, Allowlist: []string{"10.0.0.0/8", "203.0.113.7"}}, nil)
	ctx := context.Background()

	for _, ip := range []string{"10.1.2.3", "203.0.113.7"} {
		if _, err := gate.Authenticate(ctx, Request{Bearer: testKey, IP: ip}); err != nil {
			t.Fatalf("%s should be allowed: %v", ip, err)
		}
	}
	if _, err := gate.Authenticate(ctx, Request{Bearer: testKey, IP: "192.168.1.1"}); !errors.Is(err, ErrIPNotAllowed) {
		t.Fatalf("expected ip not allowed, got %v", err)
	}
}

func TestReloadRejectsBadAllowlist(t *testing.T) {
	if _, err := NewGate(Credentials{Allowlist: []string{"10.0.0.0/99"}}, nil, logger.NewNopLogger()); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}

	gate := newTestGate(t, Credentials{APIKey: "old"}, nil)
	if err := gate.Reload(Credentials{APIKey: "new", Allowlist: []string{"not-an-ip"}}); err == nil {
		t.Fatal("expected reload error")
	}
	if _, err := gate.Authenticate(context.Background(), Request{Bearer: "old"}); err != nil {
		t.Fatalf("old credentials should still apply: %v", err)
	}
	if err := gate.Reload(Credentials{APIKey: "new"}); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if _, err := gate.Authenticate(context.Background(), Request{Bearer: "new"}); err != nil {
		t.Fatalf("new credentials should apply: %v", err)
	}
}

func TestAuthenticateRateLimit(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	gate := newTestGate(t, Credentials{APIKey: testKey}, limiter)
	ctx := context.Background()
	req := Request{Bearer: testKey, IP: "198.51.100.9"}

	for i := 0; i < 3; i++ {
		if _, err := gate.Authenticate(ctx, req); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := gate.Authenticate(ctx, req); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected rate limited, got %v", err)
		}
	}
	if w := limiter.windows[req.IP]; w.count != 3 {
		t.Fatalf("denied requests must not advance the counter, count=%d", w.count)
	}

	other := Request{Bearer: testKey, IP: "198.51.100.10"}
	if _, err := gate.Authenticate(ctx, other); err != nil {
		t.Fatalf("other IPs have their own window: %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := gate.Authenticate(ctx, req); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestFailedAttemptsAreCounted(t *testing.T) {
	limiter := NewMemoryLimiter(100, time.Minute)
	core, logs := observer.New(zapcore.InfoLevel)
	gate, err := NewGate(Credentials{APIKey: testKey}, limiter, logger.FromZap(zap.New(core)))
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = gate.Authenticate(ctx, Request{Bearer: "bad", IP: "192.0.2.1"})
	}
	_, _ = gate.Authenticate(ctx, Request{Bearer: "bad", IP: "192.0.2.9"})
	if gate.Failures() != 3 {
		t.Fatalf("expected 3 failures, got %d", gate.Failures())
	}

	rejected := logs.FilterMessage("authentication rejected").All()
	if len(rejected) != 3 {
		t.Fatalf("expected 3 rejection entries, got %d", len(rejected))
	}
	want := []int64{1, 2, 1}
	for i, entry := range rejected {
		if got := entry.ContextMap()["failed_attempts"]; got != want[i] {
			t.Fatalf("entry %d failed_attempts = %v, want %d", i, got, want[i])
		}
	}
}

func TestFromHTTP(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/publish?api_key=q", nil)
	r.RemoteAddr = "192.0.2.50:41000"
	r.Header.Set("Authorization", "Bearer  b-key ")
	r.Header.Set("X-Api-Key", "h-key")
	r.Header.Set("X-Signature", "abc")
	r.Header.Set("X-Timestamp", "123")

	req := FromHTTP(r, []byte("{}"), true)
	key, source := req.key()
	if key != "b-key" || source != "bearer" {
		t.Fatalf("key()=%q,%q", key, source)
	}
	if req.IP != "192.0.2.50" || req.QueryKey != "q" || req.Signature != "abc" || req.Timestamp != "123" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestReason(t *testing.T) {
	if Reason(ErrRequestExpired) != "request_expired" {
		t.Fatal("unexpected reason")
	}
	if Reason(errors.New("x")) != "error" {
		t.Fatal("unexpected fallback reason")
	}
}
