// Package auth authenticates publish API callers: API key, optional request
// signature, per-IP rate limiting and an optional IP allow-list.
package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"pagepush/api/internal/logger"
	"pagepush/api/internal/rbac"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrRequestExpired   = errors.New("request expired")
	ErrRateLimited      = errors.New("rate limited")
	ErrIPNotAllowed     = errors.New("ip not allowed")
)

// Reason maps an auth error to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrRequestExpired):
		return "request_expired"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrIPNotAllowed):
		return "ip_not_allowed"
	}
	return "error"
}

// Request carries the parts of an inbound request the gate looks at.
type Request struct {
	Bearer    string
	HeaderKey string
	QueryKey  string
	Signature string
	Timestamp string
	Body      []byte
	IP        string
	Mutating  bool
}

// FromHTTP extracts a Request. body must be the raw bytes the client signed.
func FromHTTP(r *http.Request, body []byte, mutating bool) Request {
	req := Request{
		HeaderKey: strings.TrimSpace(r.Header.Get("X-Api-Key")),
		QueryKey:  strings.TrimSpace(r.URL.Query().Get("api_key")),
		Signature: strings.TrimSpace(r.Header.Get("X-Signature")),
		Timestamp: strings.TrimSpace(r.Header.Get("X-Timestamp")),
		Body:      body,
		IP:        clientIP(r.RemoteAddr),
		Mutating:  mutating,
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); strings.HasPrefix(header, "Bearer ") {
		req.Bearer = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return req
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// key returns the first supplied key and the channel it came from.
func (r Request) key() (string, string) {
	switch {
	case r.Bearer != "":
		return r.Bearer, "bearer"
	case r.HeaderKey != "":
		return r.HeaderKey, "header"
	case r.QueryKey != "":
		return r.QueryKey, "query"
	}
	return "", ""
}

// Context is the per-request authentication result.
type Context struct {
	Identity     string
	Role         rbac.Role
	KeySource    string
	HMACVerified bool
	IP           string
}

type contextKey struct{}

func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(Context)
	return ac, ok
}

// Gate holds credentials behind an atomic pointer so Reload can swap them
// while requests are in flight.
type Gate struct {
	creds    atomic.Pointer[compiled]
	limiter  Limiter
	log      logger.Logger
	now      func() time.Time
	failures atomic.Int64
}

func NewGate(creds Credentials, limiter Limiter, log logger.Logger) (*Gate, error) {
	c, err := compile(creds)
	if err != nil {
		return nil, err
	}
	g := &Gate{limiter: limiter, log: log, now: time.Now}
	g.creds.Store(c)
	return g, nil
}

// Reload swaps in new credentials. Invalid credentials leave the old ones.
func (g *Gate) Reload(creds Credentials) error {
	c, err := compile(creds)
	if err != nil {
		return err
	}
	g.creds.Store(c)
	return nil
}

// Failures returns the number of failed attempts seen by this process.
func (g *Gate) Failures() int64 {
	return g.failures.Load()
}

// Authenticate runs the allow-list, rate limit, key and signature checks in
// that order.
func (g *Gate) Authenticate(ctx context.Context, req Request) (Context, error) {
	creds := g.creds.Load()

	if !creds.ipAllowed(req.IP) {
		return Context{}, g.fail(ctx, req.IP, ErrIPNotAllowed)
	}

	if g.limiter != nil {
		decision, err := g.limiter.Allow(ctx, req.IP)
		if err != nil {
			g.log.Warn("rate limiter unavailable, allowing request", logger.String("ip", req.IP), logger.Error(err))
		} else if !decision.Allowed {
			return Context{}, ErrRateLimited
		}
	}

	key, source := req.key()
	if !creds.configured() || key == "" {
		return Context{}, g.fail(ctx, req.IP, ErrUnauthorized)
	}
	role, ok := creds.match(key)
	if !ok {
		return Context{}, g.fail(ctx, req.IP, ErrUnauthorized)
	}

	ac := Context{Identity: "api-key:" + string(role), Role: role, KeySource: source, IP: req.IP}
	if !req.Mutating {
		return ac, nil
	}

	switch {
	case req.Signature == "" && req.Timestamp == "":
		if creds.RequireSignature {
			return Context{}, g.fail(ctx, req.IP, ErrInvalidSignature)
		}
	case req.Signature == "" || req.Timestamp == "":
		return Context{}, g.fail(ctx, req.IP, ErrInvalidSignature)
	default:
		if err := verifySignature([]byte(creds.Secret), req.Timestamp, req.Signature, req.Body, g.now(), creds.Window); err != nil {
			return Context{}, g.fail(ctx, req.IP, err)
		}
		ac.HMACVerified = true
	}
	return ac, nil
}

func (g *Gate) fail(ctx context.Context, ip string, err error) error {
	g.failures.Add(1)
	var attempts int64
	if g.limiter != nil {
		n, recErr := g.limiter.RecordFailure(ctx, ip)
		if recErr != nil {
			g.log.Warn("record auth failure", logger.String("ip", ip), logger.Error(recErr))
		}
		attempts = n
	}
	g.log.Info("authentication rejected",
		logger.String("ip", ip),
		logger.String("reason", Reason(err)),
		logger.Int64("failed_attempts", attempts),
	)
	return err
}
