package auth

import (
	"crypto/hmac"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pagepush/api/internal/rbac"
)

// Credentials is the reloadable part of the gate's configuration.
type Credentials struct {
	// APIKey is compared in constant time. APIKeyHash, a bcrypt hash, takes
	// precedence when both are set.
	APIKey     string
	APIKeyHash string
	// ReadKey grants read-only access to the export endpoints.
	ReadKey          string
	Secret           string
	RequireSignature bool
	Window           time.Duration
	// Allowlist holds IPs or CIDRs. Empty disables the check.
	Allowlist []string
}

type compiled struct {
	Credentials
	nets []*net.IPNet
	ips  []net.IP
}

func compile(c Credentials) (*compiled, error) {
	out := &compiled{Credentials: c}
	if out.Window <= 0 {
		out.Window = 300 * time.Second
	}
	for _, entry := range c.Allowlist {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("parse allow-list entry %q: %w", entry, err)
			}
			out.nets = append(out.nets, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("parse allow-list entry %q: invalid IP", entry)
		}
		out.ips = append(out.ips, ip)
	}
	return out, nil
}

func (c *compiled) allowlistEnabled() bool {
	return len(c.nets) > 0 || len(c.ips) > 0
}

func (c *compiled) ipAllowed(raw string) bool {
	if !c.allowlistEnabled() {
		return true
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return false
	}
	for _, allowed := range c.ips {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, network := range c.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (c *compiled) configured() bool {
	return c.APIKey != "" || c.APIKeyHash != ""
}

// match resolves a supplied key to a role.
func (c *compiled) match(key string) (rbac.Role, bool) {
	if c.APIKeyHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(c.APIKeyHash), []byte(key)) == nil {
			return rbac.RolePublisher, true
		}
	} else if c.APIKey != "" && hmac.Equal([]byte(key), []byte(c.APIKey)) {
		return rbac.RolePublisher, true
	}
	if c.ReadKey != "" && hmac.Equal([]byte(key), []byte(c.ReadKey)) {
		return rbac.RoleReader, true
	}
	return "", false
}

// HashKey returns a bcrypt hash suitable for PAGEPUSH_API_KEY_HASH.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(hash), nil
}
