package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"pagepush/api/internal/config"
	"pagepush/api/internal/idempotency"
	"pagepush/api/internal/logger"
	"pagepush/api/internal/media"
	"pagepush/api/internal/merger"
	"pagepush/api/internal/metrics"
	"pagepush/api/internal/search"
	"pagepush/api/internal/store"
	"pagepush/api/internal/versions"
)

type fakeStore struct {
	mu        sync.Mutex
	pages     map[string]store.Page
	meta      map[string]map[string]string
	scheduled []store.ScheduledPublish
	writes    int
	nextID    int

	writePageFn func(store.Page) error
	setMetaFn   func(string, map[string]string) error
	pingFn      func() error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pages: make(map[string]store.Page),
		meta:  make(map[string]map[string]string),
	}
}

func (f *fakeStore) FindPageBySlug(_ context.Context, slug string) (*store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, page := range f.pages {
		if page.Slug == slug {
			copied := page
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetPage(_ context.Context, pageID string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return store.Page{}, store.ErrNotFound
	}
	return page, nil
}

func (f *fakeStore) WritePage(_ context.Context, page store.Page) (string, error) {
	if f.writePageFn != nil {
		if err := f.writePageFn(page); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if page.ID == "" {
		f.nextID++
		page.ID = fmt.Sprintf("page-%d", f.nextID)
		page.CreatedAt = time.Now()
	}
	if page.Status == "" {
		page.Status = "draft"
	}
	page.UpdatedAt = time.Now()
	f.pages[page.ID] = page
	f.writes++
	return page.ID, nil
}

func (f *fakeStore) SetPrimaryImage(_ context.Context, pageID, mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return store.ErrNotFound
	}
	page.FeaturedMediaID = &mediaID
	f.pages[pageID] = page
	return nil
}

func (f *fakeStore) GetMeta(_ context.Context, pageID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.meta[pageID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SetMeta(_ context.Context, pageID string, meta map[string]string) error {
	if f.setMetaFn != nil {
		if err := f.setMetaFn(pageID, meta); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.meta[pageID]
	if !ok {
		current = make(map[string]string)
		f.meta[pageID] = current
	}
	for k, v := range meta {
		if v == "" {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	return nil
}

func (f *fakeStore) ListPages(_ context.Context, query string, _ int) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Page
	for _, page := range f.pages {
		if query == "" || strings.Contains(page.Title, query) || strings.Contains(page.Slug, query) {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (f *fakeStore) InsertScheduled(_ context.Context, item store.ScheduledPublish) (store.ScheduledPublish, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = fmt.Sprintf("sched-%d", len(f.scheduled)+1)
	item.Status = store.ScheduledPending
	item.CreatedAt = time.Now()
	f.scheduled = append(f.scheduled, item)
	return item, nil
}

func (f *fakeStore) Ping(context.Context) error {
	if f.pingFn != nil {
		return f.pingFn()
	}
	return nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeStore) page(t *testing.T, slug string) store.Page {
	t.Helper()
	page, err := f.FindPageBySlug(context.Background(), slug)
	if err != nil || page == nil {
		t.Fatalf("page %q not stored (err=%v)", slug, err)
	}
	return *page
}

type fakeUploader struct {
	uploadFn func(string) (media.Uploaded, error)
}

func (f *fakeUploader) Upload(_ context.Context, sourceURL string) (media.Uploaded, error) {
	return f.uploadFn(sourceURL)
}

var errBoom = errors.New("boom")

func testConfig() config.Config {
	return config.Config{
		SiteURL:       "https://example.com",
		SafeNoMarkers: "replace",
	}
}

func newTestService(st *fakeStore, mutate ...func(*Deps)) *Service {
	deps := Deps{
		Config:      testConfig(),
		Store:       st,
		Idempotency: idempotency.New(idempotency.NewMemoryStore(), time.Hour),
		Versions:    versions.New(versions.NewMemoryBackend(), versions.DefaultCap),
		Merger:      merger.New(merger.NoMarkersReplace),
		Metrics:     metrics.New(),
		Logger:      logger.NewNopLogger(),
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	return New(deps)
}

func hasWarning(warnings []Warning, code string) bool {
	for _, w := range warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func asDomainError(t *testing.T, err error) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr
}

func searchQuery(text string) search.Query {
	return search.Query{Text: text}
}
