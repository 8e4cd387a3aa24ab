package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is used when Redis is not configured. Reservation relies on
// the primary key of idempotency_keys.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Lookup(ctx context.Context, keyHash string) (*Entry, error) {
	var entry Entry
	var response []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT key_hash, http_status, response, created_at, expires_at
		FROM idempotency_keys
		WHERE key_hash = $1 AND state = 'done' AND expires_at > NOW()
	`, keyHash).Scan(&entry.KeyHash, &entry.Status, &response, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	entry.Response = response
	return &entry, nil
}

func (s *PostgresStore) Reserve(ctx context.Context, keyHash string, ttl time.Duration) (bool, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key_hash = $1 AND expires_at <= NOW()`, keyHash); err != nil {
		return false, fmt.Errorf("expire idempotency key: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key_hash, state, expires_at)
		VALUES ($1, 'pending', NOW() + $2 * INTERVAL '1 second')
		ON CONFLICT (key_hash) DO NOTHING
	`, keyHash, int64(ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Save(ctx context.Context, entry Entry, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key_hash, state, http_status, response, created_at, expires_at)
		VALUES ($1, 'done', $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO UPDATE
		SET state = 'done', http_status = EXCLUDED.http_status, response = EXCLUDED.response,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, entry.KeyHash, entry.Status, []byte(entry.Response), entry.CreatedAt, entry.CreatedAt.Add(ttl))
	if err != nil {
		return fmt.Errorf("save idempotency entry: %w", err)
	}
	return nil
}

// Release drops a pending reservation. Completed entries are kept.
func (s *PostgresStore) Release(ctx context.Context, keyHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key_hash = $1 AND state = 'pending'`, keyHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
