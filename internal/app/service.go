package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"pagepush/api/internal/config"
	"pagepush/api/internal/converter"
	"pagepush/api/internal/idempotency"
	"pagepush/api/internal/logger"
	"pagepush/api/internal/media"
	"pagepush/api/internal/merger"
	"pagepush/api/internal/metrics"
	"pagepush/api/internal/search"
	"pagepush/api/internal/store"
	"pagepush/api/internal/util"
	"pagepush/api/internal/versions"
)

// PageStore is the host collaborator the publisher reads and writes pages
// through.
type PageStore interface {
	FindPageBySlug(ctx context.Context, slug string) (*store.Page, error)
	GetPage(ctx context.Context, pageID string) (store.Page, error)
	WritePage(ctx context.Context, page store.Page) (string, error)
	SetPrimaryImage(ctx context.Context, pageID, mediaID string) error
	GetMeta(ctx context.Context, pageID string) (map[string]string, error)
	SetMeta(ctx context.Context, pageID string, meta map[string]string) error
	ListPages(ctx context.Context, query string, limit int) ([]store.Page, error)
	InsertScheduled(ctx context.Context, item store.ScheduledPublish) (store.ScheduledPublish, error)
	Ping(ctx context.Context) error
}

type ImageUploader interface {
	Upload(ctx context.Context, sourceURL string) (media.Uploaded, error)
}

type PageIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPage(page search.PageRecord)
}

// Deps wires a Service. Media and Search are optional.
type Deps struct {
	Config      config.Config
	Store       PageStore
	Idempotency *idempotency.Cache
	Converter   *converter.Converter
	Merger      *merger.Merger
	Versions    *versions.Store
	Media       ImageUploader
	Search      PageIndex
	Metrics     *metrics.Collector
	Logger      logger.Logger
}

type Service struct {
	cfg       config.Config
	store     PageStore
	idem      *idempotency.Cache
	converter *converter.Converter
	merger    *merger.Merger
	versions  *versions.Store
	media     ImageUploader
	search    PageIndex
	metrics   *metrics.Collector
	log       logger.Logger
	now       func() time.Time

	lockMu sync.Mutex
	locks  map[string]*slugMutex
}

func New(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.New()
	}
	conv := deps.Converter
	if conv == nil {
		conv = converter.New(converter.NewCapabilitySet(deps.Config.WidgetFamilies...))
	}
	merge := deps.Merger
	if merge == nil {
		merge = merger.New(merger.Policy(deps.Config.SafeNoMarkers))
	}
	return &Service{
		cfg:       deps.Config,
		store:     deps.Store,
		idem:      deps.Idempotency,
		converter: conv,
		merger:    merge,
		versions:  deps.Versions,
		media:     deps.Media,
		search:    deps.Search,
		metrics:   collector,
		log:       log,
		now:       time.Now,
		locks:     make(map[string]*slugMutex),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type slugMutex struct {
	sync.Mutex
	refs int
}

// lockSlug serializes locate-through-write for one slug inside this process.
// The entry is dropped once the last holder or waiter releases it.
func (s *Service) lockSlug(slug string) (unlock func()) {
	s.lockMu.Lock()
	lock, ok := s.locks[slug]
	if !ok {
		lock = &slugMutex{}
		s.locks[slug] = lock
	}
	lock.refs++
	s.lockMu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		s.lockMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, slug)
		}
		s.lockMu.Unlock()
	}
}

// Publish runs one request through the pipeline. A request carrying an
// idempotency key that already completed returns the stored response with
// Cached set and performs no write.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (PublishResponse, error) {
	started := s.now()
	if err := validatePublish(req); err != nil {
		s.metrics.ObservePublish("none", "invalid", s.now().Sub(started))
		return PublishResponse{}, err
	}

	var warnings []Warning
	key := strings.TrimSpace(req.Options.IdempotencyKey)
	if key != "" && s.idem != nil {
		cached, err := s.idem.Begin(ctx, key)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			s.metrics.ObservePublish("none", "in_progress", s.now().Sub(started))
			return PublishResponse{}, domainError(http.StatusConflict, CodeRequestInProgress, "A request with this idempotency key is still running", nil)
		case err != nil:
			s.log.Warn("idempotency reservation unavailable", logger.Error(err))
			warnings = append(warnings, Warning{Code: WarnIdempotencyOffline, Message: "idempotency cache unavailable; the request ran without replay protection"})
			key = ""
		case cached != nil:
			return s.replay(cached)
		}
	}

	resp, err := s.publish(ctx, req, started, warnings)
	if err != nil {
		if key != "" {
			if abortErr := s.idem.Abort(context.WithoutCancel(ctx), key); abortErr != nil {
				s.log.Warn("idempotency release failed", logger.Error(abortErr))
			}
		}
		s.metrics.ObservePublish("none", resultLabel(err), s.now().Sub(started))
		return PublishResponse{}, err
	}

	if key != "" {
		payload, err := json.Marshal(resp)
		if err == nil {
			err = s.idem.Complete(context.WithoutCancel(ctx), key, PublishStatus(resp), payload)
		}
		if err != nil {
			s.log.Warn("idempotency store failed", logger.String("page_id", resp.PageID), logger.Error(err))
		}
	}
	s.metrics.ObservePublish(resp.Action, "success", s.now().Sub(started))
	return resp, nil
}

// PublishStatus is the HTTP status a publish response is served with.
func PublishStatus(resp PublishResponse) int {
	if resp.Action == ActionCreated {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (s *Service) replay(entry *idempotency.Entry) (PublishResponse, error) {
	var resp PublishResponse
	if err := json.Unmarshal(entry.Response, &resp); err != nil {
		return PublishResponse{}, fmt.Errorf("decode cached response: %w", err)
	}
	resp.Cached = true
	s.metrics.IdempotencyHit()
	return resp, nil
}

func resultLabel(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case CodeValidationFailed:
			return "invalid"
		case CodeHostWriteFailed:
			return "write_failed"
		}
	}
	return "error"
}

func (s *Service) publish(ctx context.Context, req PublishRequest, started time.Time, warnings []Warning) (PublishResponse, error) {
	slug := req.Slug()
	mode, err := merger.ParseMode(req.Page.UpdateMode)
	if err != nil {
		return PublishResponse{}, validationFailed(FieldIssue{Field: "page.update_mode", Rule: "oneof", Message: err.Error()})
	}

	unlock := s.lockSlug(slug)
	defer unlock()

	existing, err := s.store.FindPageBySlug(ctx, slug)
	if err != nil {
		return PublishResponse{}, fmt.Errorf("find page %q: %w", slug, err)
	}

	parent, parentWarn, err := s.resolveParent(ctx, req.Page.ParentSlug, slug)
	if err != nil {
		return PublishResponse{}, err
	}
	warnings = append(warnings, parentWarn...)

	existingHTML := ""
	if existing != nil {
		existingHTML = existing.ContentHTML
	}
	html := existingHTML
	switch {
	case strings.TrimSpace(req.Content.HTML) != "":
		merged, err := s.merger.Merge(existingHTML, req.Content.HTML, mode)
		if errors.Is(err, merger.ErrNoMarkers) {
			return PublishResponse{}, validationFailed(FieldIssue{
				Field:   "content.html",
				Rule:    "markers",
				Message: "a safe update needs at least one marker region; send update_mode=full to replace the page",
			})
		}
		if err != nil {
			return PublishResponse{}, fmt.Errorf("merge content: %w", err)
		}
		html = merged.HTML
		for _, w := range merged.Warnings {
			warnings = append(warnings, Warning{Code: w.Code, Message: w.Message})
		}
	case mode == merger.ModeFull:
		html = ""
	}

	// Uploads are the first side effect; everything that can reject the
	// request has run by now.
	uploads, galleryURLs, featured, mediaWarn := s.uploadImages(ctx, req.Images)
	warnings = append(warnings, mediaWarn...)

	if len(req.Schema) > 0 {
		blocks, err := schemaBlocks(req.Schema)
		if err != nil {
			return PublishResponse{}, validationFailed(FieldIssue{Field: "schema", Rule: "json", Message: err.Error()})
		}
		if len(blocks) > 0 {
			html = merger.UpsertRegion(html, regionSchema, strings.Join(blocks, "\n"))
		}
	}
	if len(galleryURLs) > 0 {
		html = merger.UpsertRegion(html, regionGallery, renderGallery(galleryURLs, req.Page.Title))
	}

	doc, convWarnings, err := s.buildDocument(req, html)
	if err != nil {
		return PublishResponse{}, err
	}
	warnings = append(warnings, convWarnings...)
	tree, err := json.Marshal(doc)
	if err != nil {
		return PublishResponse{}, fmt.Errorf("encode block tree: %w", err)
	}

	page := store.Page{
		Slug:        slug,
		Title:       strings.TrimSpace(req.Page.Title),
		ContentHTML: html,
		BlockTree:   tree,
		Status:      req.Page.Status,
		Template:    req.Page.Template,
	}
	if parent != nil {
		page.ParentID = &parent.ID
	}
	action := ActionCreated
	var versionID int64
	if existing != nil {
		action = ActionUpdated
		page.ID = existing.ID
		page.FeaturedMediaID = existing.FeaturedMediaID
		if page.Status == "" {
			page.Status = existing.Status
		}
		if page.Template == "" {
			page.Template = existing.Template
		}
		if req.Page.ParentSlug == "" {
			page.ParentID = existing.ParentID
		}

		snap, err := s.snapshot(ctx, *existing)
		if err != nil {
			return PublishResponse{}, fmt.Errorf("snapshot page %s: %w", existing.ID, err)
		}
		versionID = snap.VersionID
	}
	page.Settings, err = pageSettings(existing, req.Content.CustomCSS)
	if err != nil {
		return PublishResponse{}, err
	}

	pageID, err := s.store.WritePage(ctx, page)
	if err != nil {
		s.log.Error("host write failed", logger.String("slug", slug), logger.Error(err))
		return PublishResponse{}, domainError(http.StatusBadGateway, CodeHostWriteFailed, "The page could not be written", nil)
	}
	page.ID = pageID

	if meta := req.SEO.Meta(); len(meta) > 0 {
		if err := s.store.SetMeta(ctx, pageID, meta); err != nil {
			s.log.Warn("seo meta write failed", logger.String("page_id", pageID), logger.Error(err))
			warnings = append(warnings, Warning{Code: WarnMetaWriteFailed, Message: "SEO fields could not be saved"})
		}
	}
	if featured != nil {
		if err := s.store.SetPrimaryImage(ctx, pageID, featured.ID); err != nil {
			s.log.Warn("primary image write failed", logger.String("page_id", pageID), logger.Error(err))
			warnings = append(warnings, Warning{Code: WarnPrimaryImageFailed, Message: "featured image uploaded but not attached"})
		}
	}

	s.recordWarnings(slug, warnings)
	s.index(page)

	parentSlug := ""
	if parent != nil {
		parentSlug = parent.Slug
	} else if page.ParentID != nil {
		parentSlug = s.parentSlug(ctx, *page.ParentID)
	}
	if uploads == nil {
		uploads = []media.Uploaded{}
	}
	if warnings == nil {
		warnings = []Warning{}
	}
	return PublishResponse{
		Success:        true,
		PageID:         pageID,
		PageURL:        pageURL(s.cfg.SiteURL, parentSlug, slug),
		Action:         action,
		VersionID:      versionID,
		UploadedMedia:  uploads,
		Warnings:       warnings,
		ResponseTimeMS: s.now().Sub(started).Milliseconds(),
		Timestamp:      s.now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) resolveParent(ctx context.Context, parentSlug, slug string) (*store.Page, []Warning, error) {
	parentSlug = strings.TrimSpace(parentSlug)
	if parentSlug == "" {
		return nil, nil, nil
	}
	if parentSlug == slug {
		return nil, []Warning{{Code: WarnParentNotFound, Message: "a page cannot be its own parent; written at top level"}}, nil
	}
	parent, err := s.store.FindPageBySlug(ctx, parentSlug)
	if err != nil {
		return nil, nil, fmt.Errorf("find parent %q: %w", parentSlug, err)
	}
	if parent == nil {
		return nil, []Warning{{Code: WarnParentNotFound, Message: fmt.Sprintf("parent page %q not found; written at top level", parentSlug)}}, nil
	}
	return parent, nil, nil
}

func (s *Service) parentSlug(ctx context.Context, parentID string) string {
	parent, err := s.store.GetPage(ctx, parentID)
	if err != nil {
		return ""
	}
	return parent.Slug
}

// uploadImages stores the featured and gallery images. Failures only warn;
// gallery entries that fail keep their source URL.
func (s *Service) uploadImages(ctx context.Context, images ImagesInput) ([]media.Uploaded, []string, *media.Uploaded, []Warning) {
	if images.FeaturedURL == "" && len(images.Gallery) == 0 {
		return nil, nil, nil, nil
	}
	if s.media == nil {
		var warnings []Warning
		if images.FeaturedURL != "" {
			warnings = append(warnings, Warning{Code: WarnMediaDisabled, Message: "media storage is not configured; featured image skipped"})
		}
		return nil, images.Gallery, nil, warnings
	}

	var (
		uploads  []media.Uploaded
		gallery  []string
		featured *media.Uploaded
		warnings []Warning
	)
	if images.FeaturedURL != "" {
		up, err := s.media.Upload(ctx, images.FeaturedURL)
		if err != nil {
			s.log.Warn("featured image upload failed", logger.String("url", images.FeaturedURL), logger.Error(err))
			warnings = append(warnings, Warning{Code: WarnMediaUploadFailed, Message: fmt.Sprintf("featured image %s: %v", images.FeaturedURL, err)})
		} else {
			uploads = append(uploads, up)
			featured = &up
		}
	}
	for _, src := range images.Gallery {
		up, err := s.media.Upload(ctx, src)
		if err != nil {
			s.log.Warn("gallery image upload failed", logger.String("url", src), logger.Error(err))
			warnings = append(warnings, Warning{Code: WarnMediaUploadFailed, Message: fmt.Sprintf("gallery image %s: %v", src, err)})
			gallery = append(gallery, src)
			continue
		}
		uploads = append(uploads, up)
		gallery = append(gallery, up.URL)
	}
	return uploads, gallery, featured, warnings
}

// buildDocument converts html, or takes the caller's raw block tree as is.
func (s *Service) buildDocument(req PublishRequest, html string) (converter.Document, []Warning, error) {
	var (
		doc      converter.Document
		warnings []Warning
	)
	if req.hasRawTree() {
		parsed, err := converter.ParseDocument(req.Content.RawBlockTree)
		if err != nil {
			return converter.Document{}, nil, validationFailed(FieldIssue{Field: "content.raw_block_tree", Rule: "tree", Message: err.Error()})
		}
		doc = parsed
	} else {
		result := s.converter.Convert(html)
		doc = result.Document
		for _, w := range result.Warnings {
			if w.Code == converter.WarnConversionFallback {
				s.metrics.ConversionFallback()
			}
			warnings = append(warnings, Warning{Code: w.Code, Message: w.Message})
		}
	}
	if req.ensureH1() {
		doc, _ = converter.EnsureH1(doc, strings.TrimSpace(req.Page.Title))
	}
	return doc, warnings, nil
}

// pageSettings carries existing page settings forward with custom_css
// replaced by the request's value.
func pageSettings(existing *store.Page, customCSS string) (json.RawMessage, error) {
	settings := map[string]any{}
	if existing != nil && len(existing.Settings) > 0 {
		if err := json.Unmarshal(existing.Settings, &settings); err != nil || settings == nil {
			settings = map[string]any{}
		}
	}
	if css := strings.TrimSpace(customCSS); css != "" {
		settings["custom_css"] = css
	} else {
		delete(settings, "custom_css")
	}
	encoded, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode page settings: %w", err)
	}
	return encoded, nil
}

func (s *Service) currentState(ctx context.Context, page store.Page) (versions.State, error) {
	meta, err := s.store.GetMeta(ctx, page.ID)
	if err != nil {
		return versions.State{}, fmt.Errorf("read page meta: %w", err)
	}
	return versions.State{
		ContentHTML: page.ContentHTML,
		Title:       page.Title,
		SEO:         versions.CurateSEO(meta),
		BlockTree:   page.BlockTree,
	}, nil
}

func (s *Service) snapshot(ctx context.Context, page store.Page) (versions.Snapshot, error) {
	if s.versions == nil {
		return versions.Snapshot{}, nil
	}
	state, err := s.currentState(ctx, page)
	if err != nil {
		return versions.Snapshot{}, err
	}
	return s.versions.Snapshot(ctx, page.ID, state)
}

func (s *Service) recordWarnings(slug string, warnings []Warning) {
	for _, w := range warnings {
		s.metrics.Warning(w.Code)
		switch w.Code {
		case converter.WarnConversionFallback, merger.WarnNoMarkers:
			s.log.Warn("publish warning", logger.String("slug", slug), logger.String("code", w.Code), logger.String("message", w.Message))
		}
	}
}

func (s *Service) index(page store.Page) {
	if s.search == nil {
		return
	}
	s.search.IndexPage(search.PageRecord{
		ID:        page.ID,
		Slug:      page.Slug,
		Title:     page.Title,
		Text:      page.ContentHTML,
		Status:    page.Status,
		UpdatedAt: s.now().Unix(),
	})
}

func pageURL(base, parentSlug, slug string) string {
	return util.PageURL(base, parentSlug, slug)
}
