package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pagepush/api/internal/converter"
	"pagepush/api/internal/logger"
	"pagepush/api/internal/search"
	"pagepush/api/internal/store"
	"pagepush/api/internal/versions"
)

func (s *Service) requirePage(ctx context.Context, slug string) (*store.Page, error) {
	page, err := s.store.FindPageBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("find page %q: %w", slug, err)
	}
	if page == nil {
		return nil, domainError(http.StatusNotFound, CodePageNotFound, fmt.Sprintf("No page with slug %q", slug), nil)
	}
	return page, nil
}

// Rollback writes a stored version back to the page. The current state is
// snapshotted first, so a rollback can itself be rolled back.
func (s *Service) Rollback(ctx context.Context, slug string, versionID int64) (RollbackResponse, error) {
	if s.versions == nil {
		return RollbackResponse{}, domainError(http.StatusNotFound, CodeVersionNotFound, "Version history is not enabled", nil)
	}
	unlock := s.lockSlug(slug)
	defer unlock()

	page, err := s.requirePage(ctx, slug)
	if err != nil {
		return RollbackResponse{}, err
	}
	current, err := s.currentState(ctx, *page)
	if err != nil {
		return RollbackResponse{}, err
	}
	restored, err := s.versions.Restore(ctx, page.ID, versionID, current)
	if errors.Is(err, versions.ErrVersionNotFound) {
		s.metrics.Rollback("not_found")
		return RollbackResponse{}, domainError(http.StatusNotFound, CodeVersionNotFound, fmt.Sprintf("Version %d not found for page %q", versionID, slug), nil)
	}
	if err != nil {
		s.metrics.Rollback("error")
		return RollbackResponse{}, fmt.Errorf("restore version %d: %w", versionID, err)
	}

	tree, warnings, err := s.restoredTree(restored)
	if err != nil {
		return RollbackResponse{}, err
	}

	updated := *page
	updated.Title = restored.Title
	updated.ContentHTML = restored.ContentHTML
	updated.BlockTree = tree
	if _, err := s.store.WritePage(ctx, updated); err != nil {
		s.metrics.Rollback("write_failed")
		s.log.Error("host write failed", logger.String("slug", slug), logger.Int64("version_id", versionID), logger.Error(err))
		return RollbackResponse{}, domainError(http.StatusBadGateway, CodeHostWriteFailed, "The page could not be written", nil)
	}

	meta := make(map[string]string, len(versions.SEOFields))
	for _, key := range versions.SEOFields {
		meta[key] = restored.SEO[key]
	}
	if err := s.store.SetMeta(ctx, page.ID, meta); err != nil {
		s.log.Warn("seo meta restore failed", logger.String("page_id", page.ID), logger.Error(err))
		warnings = append(warnings, Warning{Code: WarnMetaWriteFailed, Message: "SEO fields could not be restored"})
	}

	s.recordWarnings(slug, warnings)
	s.index(updated)
	s.metrics.Rollback("success")
	s.log.Info("page rolled back", logger.String("page_id", page.ID), logger.Int64("version_id", versionID))

	parentSlug := ""
	if page.ParentID != nil {
		parentSlug = s.parentSlug(ctx, *page.ParentID)
	}
	if warnings == nil {
		warnings = []Warning{}
	}
	return RollbackResponse{
		Success:         true,
		PageID:          page.ID,
		PageURL:         pageURL(s.cfg.SiteURL, parentSlug, page.Slug),
		Action:          ActionRolledBack,
		RestoredVersion: versionID,
		Warnings:        warnings,
		Timestamp:       s.now().UTC().Format(time.RFC3339),
	}, nil
}

// restoredTree returns the block tree recorded with the version. Versions
// without one are converted again from their HTML.
func (s *Service) restoredTree(restored versions.State) (json.RawMessage, []Warning, error) {
	if len(restored.BlockTree) > 0 {
		if _, err := converter.ParseDocument(restored.BlockTree); err == nil {
			var tree bytes.Buffer
			if err := json.Compact(&tree, restored.BlockTree); err == nil {
				return tree.Bytes(), nil, nil
			}
		}
	}
	var warnings []Warning
	result := s.converter.Convert(restored.ContentHTML)
	for _, w := range result.Warnings {
		warnings = append(warnings, Warning{Code: w.Code, Message: w.Message})
	}
	doc, _ := converter.EnsureH1(result.Document, restored.Title)
	tree, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode block tree: %w", err)
	}
	return tree, warnings, nil
}

func (s *Service) ListVersions(ctx context.Context, slug string) ([]versions.Meta, error) {
	page, err := s.requirePage(ctx, slug)
	if err != nil {
		return nil, err
	}
	if s.versions == nil {
		return []versions.Meta{}, nil
	}
	items, err := s.versions.List(ctx, page.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	if items == nil {
		items = []versions.Meta{}
	}
	return items, nil
}

// Schedule validates the embedded publish request now and stores it for the
// scheduler to replay at PublishAt.
func (s *Service) Schedule(ctx context.Context, in ScheduleRequest) (ScheduleResponse, error) {
	var issues []FieldIssue
	if in.PublishAt.IsZero() {
		issues = append(issues, FieldIssue{Field: "publish_at", Rule: "required", Message: "publish_at is required"})
	}
	if len(in.Request) == 0 {
		issues = append(issues, FieldIssue{Field: "request", Rule: "required", Message: "request is required"})
	}
	if len(issues) > 0 {
		return ScheduleResponse{}, validationFailed(issues...)
	}

	var req PublishRequest
	if err := json.Unmarshal(in.Request, &req); err != nil {
		return ScheduleResponse{}, validationFailed(FieldIssue{Field: "request", Rule: "json", Message: "request must be a publish request object"})
	}
	if err := validatePublish(req); err != nil {
		return ScheduleResponse{}, err
	}

	saved, err := s.store.InsertScheduled(ctx, store.ScheduledPublish{
		PublishAt: in.PublishAt.UTC(),
		Request:   in.Request,
	})
	if err != nil {
		return ScheduleResponse{}, err
	}
	s.log.Info("publish scheduled", logger.String("schedule_id", saved.ID), logger.String("slug", req.Slug()))
	return ScheduleResponse{
		ID:        saved.ID,
		Slug:      req.Slug(),
		PublishAt: saved.PublishAt,
		Status:    saved.Status,
	}, nil
}

// ReplayScheduled runs a stored request through Publish. It matches
// scheduler.PublishFunc.
func (s *Service) ReplayScheduled(ctx context.Context, raw json.RawMessage) (string, error) {
	var req PublishRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", fmt.Errorf("decode scheduled request: %w", err)
	}
	resp, err := s.Publish(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.PageID, nil
}

// Convert is a dry run of the converter; nothing is written.
func (s *Service) Convert(in ConvertRequest) (ConvertResponse, error) {
	if strings.TrimSpace(in.HTML) == "" {
		return ConvertResponse{}, validationFailed(FieldIssue{Field: "html", Rule: "required", Message: "html is required"})
	}
	result := s.converter.Convert(in.HTML)
	doc := result.Document
	if in.EnsureH1 {
		doc, _ = converter.EnsureH1(doc, strings.TrimSpace(in.Title))
	}
	tree, err := json.Marshal(doc)
	if err != nil {
		return ConvertResponse{}, fmt.Errorf("encode block tree: %w", err)
	}
	warnings := make([]Warning, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		warnings = append(warnings, Warning{Code: w.Code, Message: w.Message})
	}
	return ConvertResponse{BlockTree: tree, Nodes: doc.Count(), Warnings: warnings}, nil
}

type CapabilitiesResponse struct {
	Families []string        `json:"families"`
	Kinds    map[string]bool `json:"kinds"`
}

func (s *Service) Capabilities() CapabilitiesResponse {
	caps := s.converter.Capabilities()
	return CapabilitiesResponse{Families: caps.Families(), Kinds: caps.Kinds()}
}

func (s *Service) ExportPage(ctx context.Context, slug string) (PageExport, error) {
	page, err := s.requirePage(ctx, slug)
	if err != nil {
		return PageExport{}, err
	}
	meta, err := s.store.GetMeta(ctx, page.ID)
	if err != nil {
		return PageExport{}, fmt.Errorf("read page meta: %w", err)
	}
	parentSlug := ""
	if page.ParentID != nil {
		parentSlug = s.parentSlug(ctx, *page.ParentID)
	}
	return PageExport{
		ID:              page.ID,
		Slug:            page.Slug,
		Title:           page.Title,
		Status:          page.Status,
		URL:             pageURL(s.cfg.SiteURL, parentSlug, page.Slug),
		ContentHTML:     page.ContentHTML,
		BlockTree:       rawOr(page.BlockTree, "[]"),
		Settings:        rawOr(page.Settings, "{}"),
		SEO:             versions.CurateSEO(meta),
		ParentID:        page.ParentID,
		Template:        page.Template,
		FeaturedMediaID: page.FeaturedMediaID,
		UpdatedAt:       page.UpdatedAt,
	}, nil
}

// ListPages searches when a query is given and a search index is wired,
// and lists straight from the page store otherwise.
func (s *Service) ListPages(ctx context.Context, q search.Query) (search.Response, error) {
	if strings.TrimSpace(q.Text) != "" && s.search != nil {
		return s.search.Search(ctx, q), nil
	}
	pages, err := s.store.ListPages(ctx, q.Text, q.Limit)
	if err != nil {
		return search.Response{}, err
	}
	results := make([]search.Result, 0, len(pages))
	for _, page := range pages {
		if q.Status != "" && page.Status != q.Status {
			continue
		}
		results = append(results, search.Result{
			ID:        page.ID,
			Slug:      page.Slug,
			Title:     page.Title,
			Status:    page.Status,
			UpdatedAt: page.UpdatedAt,
		})
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text, Backend: "store"}, nil
}

func rawOr(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}
