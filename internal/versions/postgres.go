package versions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresBackend stores snapshots in page_versions. Snapshot and prune run
// in one transaction holding a per-page advisory lock.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Append(ctx context.Context, pageID string, snap Snapshot, keep int) (int64, error) {
	seo, err := json.Marshal(snap.SEO)
	if err != nil {
		return 0, fmt.Errorf("marshal seo meta: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pageID); err != nil {
		return 0, fmt.Errorf("lock page versions: %w", err)
	}

	var versionID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO page_versions (page_id, version_id, title, content_html, seo_meta, created_at, block_tree)
		SELECT $1, GREATEST($2::bigint, COALESCE(MAX(version_id), 0) + 1), $3, $4, $5, $6, $7
		FROM page_versions
		WHERE page_id = $1
		RETURNING version_id
	`, pageID, snap.VersionID, snap.Title, snap.ContentHTML, seo, snap.CreatedAt, nullableJSON(snap.BlockTree)).Scan(&versionID)
	if err != nil {
		return 0, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM page_versions
		WHERE page_id = $1 AND version_id NOT IN (
			SELECT version_id FROM page_versions
			WHERE page_id = $1
			ORDER BY version_id DESC
			LIMIT $2
		)
	`, pageID, keep); err != nil {
		return 0, fmt.Errorf("prune versions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit version: %w", err)
	}
	return versionID, nil
}

func (p *PostgresBackend) List(ctx context.Context, pageID string) ([]Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT version_id, title, content_html, seo_meta, created_at, block_tree
		FROM page_versions
		WHERE page_id = $1
		ORDER BY version_id DESC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	items := make([]Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, snap)
	}
	return items, rows.Err()
}

func (p *PostgresBackend) Get(ctx context.Context, pageID string, versionID int64) (Snapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT version_id, title, content_html, seo_meta, created_at, block_tree
		FROM page_versions
		WHERE page_id = $1 AND version_id = $2
	`, pageID, versionID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrVersionNotFound
	}
	return snap, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var snap Snapshot
	var seo, tree []byte
	if err := row.Scan(&snap.VersionID, &snap.Title, &snap.ContentHTML, &seo, &snap.CreatedAt, &tree); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("scan version: %w", err)
	}
	if len(seo) > 0 {
		if err := json.Unmarshal(seo, &snap.SEO); err != nil {
			return Snapshot{}, fmt.Errorf("decode seo meta: %w", err)
		}
	}
	if len(tree) > 0 {
		snap.BlockTree = json.RawMessage(tree)
	}
	return snap, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
