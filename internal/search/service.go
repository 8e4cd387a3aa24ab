package search

import (
	"context"

	"pagepush/api/internal/logger"
)

// Service tries Meilisearch first and falls back to PgFTS.
type Service struct {
	meili *Meili
	pgfts Searcher
	log   logger.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts Searcher, log logger.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: results, Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn("meilisearch error, falling back to postgres", logger.Error(err))
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error("postgres search failed", logger.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "postgres"}
	}
	if results == nil {
		results = []Result{}
	}
	return Response{Results: results, Total: total, Query: q.Text, Backend: "postgres"}
}

// IndexPage pushes page to Meilisearch without blocking the caller.
func (s *Service) IndexPage(page PageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPage(page); err != nil {
			s.log.Warn("index page failed", logger.String("page_id", page.ID), logger.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every stored page into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	loader, ok := s.pgfts.(*PgFTS)
	if !ok {
		return
	}
	pages, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn("reindex load failed", logger.Error(err))
		return
	}
	if err := s.meili.IndexPages(pages); err != nil {
		s.log.Warn("reindex pages failed", logger.Error(err))
		return
	}
	s.log.Info("reindexed pages", logger.Int("count", len(pages)))
}
