// Package search backs the read-only page export listing. Meilisearch is
// used when configured and healthy; PostgreSQL full-text search otherwise.
package search

import (
	"context"
	"time"
)

// Result is a single page hit.
type Result struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Query struct {
	Text   string
	Status string
	Limit  int
	Offset int
}

// Response is the envelope returned by the listing endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a page search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// PageRecord is the data indexed for a page.
type PageRecord struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Status    string `json:"status"`
	UpdatedAt int64  `json:"updatedAt"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
