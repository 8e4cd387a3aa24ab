package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const pageColumns = `id, slug, title, content_html, block_tree, page_settings, status, parent_id, template, featured_media_id, created_at, updated_at`

// FindPageBySlug returns nil when no page has slug.
func (s *PostgresStore) FindPageBySlug(ctx context.Context, slug string) (*Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE slug=$1`, slug)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find page by slug: %w", err)
	}
	return &page, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, pageID)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// WritePage inserts page, assigning an id when it has none, or updates the
// existing row in place. It returns the page id.
func (s *PostgresStore) WritePage(ctx context.Context, page Page) (string, error) {
	if page.ID == "" {
		page.ID = uuid.NewString()
	}
	if strings.TrimSpace(page.Status) == "" {
		page.Status = "draft"
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pages (id, slug, title, content_html, block_tree, page_settings, status, parent_id, template)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET slug = EXCLUDED.slug,
			title = EXCLUDED.title,
			content_html = EXCLUDED.content_html,
			block_tree = EXCLUDED.block_tree,
			page_settings = EXCLUDED.page_settings,
			status = EXCLUDED.status,
			parent_id = EXCLUDED.parent_id,
			template = EXCLUDED.template,
			updated_at = NOW()
		RETURNING id
	`, page.ID, page.Slug, page.Title, page.ContentHTML, jsonOr(page.BlockTree, "[]"), jsonOr(page.Settings, "{}"),
		page.Status, page.ParentID, page.Template).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("write page: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SetPrimaryImage(ctx context.Context, pageID, mediaID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages SET featured_media_id=$2, updated_at=NOW() WHERE id=$1
	`, pageID, mediaID)
	if err != nil {
		return fmt.Errorf("set primary image: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPages returns pages newest first. A non-empty query filters by title
// or slug.
func (s *PostgresStore) ListPages(ctx context.Context, query string, limit int) ([]Page, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	query = strings.TrimSpace(query)
	if query == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+pageColumns+` FROM pages ORDER BY updated_at DESC LIMIT $1
		`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+pageColumns+` FROM pages
			WHERE title ILIKE $1 OR slug ILIKE $1 OR content_html ILIKE $1
			ORDER BY updated_at DESC LIMIT $2
		`, "%"+query+"%", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

// GetMeta returns the page's metadata key/value pairs.
func (s *PostgresStore) GetMeta(ctx context.Context, pageID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT meta_key, meta_value FROM page_meta WHERE page_id=$1`, pageID)
	if err != nil {
		return nil, fmt.Errorf("get page meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan page meta: %w", err)
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

// SetMeta upserts every pair in meta. An empty value deletes the key.
func (s *PostgresStore) SetMeta(ctx context.Context, pageID string, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin meta tx: %w", err)
	}
	defer tx.Rollback()

	for _, key := range sortedKeys(meta) {
		value := meta[key]
		if value == "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM page_meta WHERE page_id=$1 AND meta_key=$2`, pageID, key); err != nil {
				return fmt.Errorf("delete page meta %s: %w", key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO page_meta (page_id, meta_key, meta_value)
			VALUES ($1, $2, $3)
			ON CONFLICT (page_id, meta_key) DO UPDATE
			SET meta_value = EXCLUDED.meta_value, updated_at = NOW()
		`, pageID, key, value); err != nil {
			return fmt.Errorf("set page meta %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit page meta: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertScheduled(ctx context.Context, item ScheduledPublish) (ScheduledPublish, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Status = ScheduledPending
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_publishes (id, publish_at, request, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, item.ID, item.PublishAt, []byte(item.Request), item.Status).Scan(&item.CreatedAt)
	if err != nil {
		return ScheduledPublish{}, fmt.Errorf("insert scheduled publish: %w", err)
	}
	return item, nil
}

// ClaimDueScheduled marks up to limit pending requests due at or before now
// as running and returns them. Concurrent claimers never receive the same row.
func (s *PostgresStore) ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]ScheduledPublish, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE scheduled_publishes
		SET status='running', attempts=attempts+1, updated_at=NOW()
		WHERE id IN (
			SELECT id FROM scheduled_publishes
			WHERE status='pending' AND publish_at <= $1
			ORDER BY publish_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, publish_at, request, status, attempts, created_at
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim scheduled publishes: %w", err)
	}
	defer rows.Close()

	items := make([]ScheduledPublish, 0)
	for rows.Next() {
		var item ScheduledPublish
		var request []byte
		if err := rows.Scan(&item.ID, &item.PublishAt, &request, &item.Status, &item.Attempts, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled publish: %w", err)
		}
		item.Request = request
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled publishes: %w", err)
	}
	return items, nil
}

// FinishScheduled records the outcome of a claimed request. A non-empty
// errMsg marks it failed.
func (s *PostgresStore) FinishScheduled(ctx context.Context, id, pageID, errMsg string) error {
	status := ScheduledDone
	if errMsg != "" {
		status = ScheduledFailed
	}
	var page any
	if pageID != "" {
		page = pageID
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_publishes
		SET status=$2, page_id=$3, last_error=$4, updated_at=NOW()
		WHERE id=$1
	`, id, status, page, errMsg)
	if err != nil {
		return fmt.Errorf("finish scheduled publish: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (Page, error) {
	var (
		page      Page
		blockTree []byte
		settings  []byte
		parentID  sql.NullString
		mediaID   sql.NullString
	)
	err := row.Scan(&page.ID, &page.Slug, &page.Title, &page.ContentHTML, &blockTree, &settings, &page.Status,
		&parentID, &page.Template, &mediaID, &page.CreatedAt, &page.UpdatedAt)
	if err != nil {
		return Page{}, err
	}
	page.BlockTree = blockTree
	page.Settings = settings
	if parentID.Valid {
		page.ParentID = &parentID.String
	}
	if mediaID.Valid {
		page.FeaturedMediaID = &mediaID.String
	}
	return page, nil
}

func jsonOr(raw json.RawMessage, fallback string) []byte {
	if len(raw) == 0 {
		return []byte(fallback)
	}
	return []byte(raw)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
