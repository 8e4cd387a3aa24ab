package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS searches the pages table directly.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks pages with plainto_tsquery over title and body text. An empty
// query lists pages newest first.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := normalizeLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const document = `to_tsvector('english', p.title || ' ' || regexp_replace(p.content_html, '<[^>]+>', ' ', 'g'))`
	var (
		where []string
		args  []any
		rank  = "0"
	)
	text := strings.TrimSpace(q.Text)
	if text != "" {
		args = append(args, text)
		where = append(where, fmt.Sprintf("%s @@ plainto_tsquery('english', $%d)", document, len(args)))
		rank = fmt.Sprintf("ts_rank(%s, plainto_tsquery('english', $1))", document)
	}
	if q.Status != "" {
		args = append(args, q.Status)
		where = append(where, fmt.Sprintf("p.status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM pages p `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.slug, p.title, left(regexp_replace(p.content_html, '<[^>]+>', ' ', 'g'), 200), p.status, p.updated_at
		FROM pages p
		%s
		ORDER BY %s DESC, p.updated_at DESC
		LIMIT %d OFFSET %d`, clause, rank, limit, offset)
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Slug, &r.Title, &r.Snippet, &r.Status, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Snippet = strings.Join(strings.Fields(r.Snippet), " ")
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every page for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, slug, title, regexp_replace(content_html, '<[^>]+>', ' ', 'g'), status, updated_at
		FROM pages
	`)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	records := make([]PageRecord, 0)
	for rows.Next() {
		var rec PageRecord
		var updated time.Time
		if err := rows.Scan(&rec.ID, &rec.Slug, &rec.Title, &rec.Text, &rec.Status, &updated); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		rec.Text = strings.Join(strings.Fields(rec.Text), " ")
		rec.UpdatedAt = updated.Unix()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return records, nil
}
