// Package idempotency caches publish responses by client-supplied key so a
// retried request returns the first response instead of publishing again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrInProgress is returned when another request holds the key's reservation.
var ErrInProgress = errors.New("idempotent request already in progress")

// reservationTTL bounds how long a crashed request can block its key.
const reservationTTL = 2 * time.Minute

// Entry is a stored response.
type Entry struct {
	KeyHash   string          `json:"key_hash"`
	Status    int             `json:"status"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Store persists entries and reservations by key hash. Lookup returns nil
// on a miss. Reserve must be an atomic insert-if-absent.
type Store interface {
	Lookup(ctx context.Context, keyHash string) (*Entry, error)
	Reserve(ctx context.Context, keyHash string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, entry Entry, ttl time.Duration) error
	Release(ctx context.Context, keyHash string) error
}

// HashKey derives the storage token for a client key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func New(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the cached entry for key. A blank key is a miss.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	return c.store.Lookup(ctx, HashKey(key))
}

// Begin returns the cached entry when one exists. Otherwise it reserves key
// for the caller, who must finish with Complete or Abort. ErrInProgress means
// another request holds the reservation.
func (c *Cache) Begin(ctx context.Context, key string) (*Entry, error) {
	hash := HashKey(key)
	if entry, err := c.store.Lookup(ctx, hash); err != nil || entry != nil {
		return entry, err
	}
	reserved, err := c.store.Reserve(ctx, hash, reservationTTL)
	if err != nil {
		return nil, err
	}
	if !reserved {
		if entry, err := c.store.Lookup(ctx, hash); err != nil || entry != nil {
			return entry, err
		}
		return nil, ErrInProgress
	}
	// The holder before us may have finished between our lookup and reserve.
	if entry, err := c.store.Lookup(ctx, hash); err != nil || entry != nil {
		_ = c.store.Release(ctx, hash)
		return entry, err
	}
	return nil, nil
}

// Store saves response under key for the cache TTL.
func (c *Cache) Store(ctx context.Context, key string, status int, response []byte) error {
	now := c.now().UTC()
	return c.store.Save(ctx, Entry{
		KeyHash:   HashKey(key),
		Status:    status,
		Response:  json.RawMessage(response),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}, c.ttl)
}

// Complete stores the response and drops the reservation.
func (c *Cache) Complete(ctx context.Context, key string, status int, response []byte) error {
	if err := c.Store(ctx, key, status, response); err != nil {
		_ = c.store.Release(ctx, HashKey(key))
		return err
	}
	return c.store.Release(ctx, HashKey(key))
}

// Abort drops the reservation so the client can retry.
func (c *Cache) Abort(ctx context.Context, key string) error {
	return c.store.Release(ctx, HashKey(key))
}
