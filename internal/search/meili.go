package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"pagepush/api/internal/logger"
)

const idxPages = "pagepush_pages"

// Meili implements Searcher over a Meilisearch page index.
type Meili struct {
	client  meili.ServiceManager
	log     logger.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects and configures the page index. An unreachable server
// leaves the client unhealthy; the health loop picks it up later.
func NewMeili(url, apiKey string, log logger.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn("meilisearch unavailable", logger.String("url", url), logger.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxPages, PrimaryKey: "id"}); err != nil {
		m.log.Debug("create index (may already exist)", logger.String("index", idxPages), logger.Error(err))
	}
	index := m.client.Index(idxPages)
	filterable := []interface{}{"status", "slug"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", logger.String("index", idxPages), logger.Error(err))
	}
	searchable := []string{"title", "slug", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", logger.String("index", idxPages), logger.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	req := &meili.SearchRequest{
		IndexUID:              idxPages,
		Query:                 q.Text,
		Limit:                 int64(normalizeLimit(q.Limit)),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title", "text"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.Status != "" {
		req.Filter = []string{fmt.Sprintf("status = %q", q.Status)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{req},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0)
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:     decodeString(hit, "id"),
		Slug:   decodeString(hit, "slug"),
		Status: decodeString(hit, "status"),
	}
	r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	r.Snippet = snippet(firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text")), 200)
	if raw, ok := hit["updatedAt"]; ok {
		var unix int64
		if err := json.Unmarshal(raw, &unix); err == nil && unix > 0 {
			r.UpdatedAt = time.Unix(unix, 0).UTC()
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

func (m *Meili) IndexPage(page PageRecord) error {
	_, err := m.client.Index(idxPages).AddDocuments([]PageRecord{page}, nil)
	return err
}

func (m *Meili) IndexPages(pages []PageRecord) error {
	if len(pages) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPages).AddDocuments(pages, nil)
	return err
}
