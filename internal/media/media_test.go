package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pagepush/api/internal/logger"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.puts++
	return nil
}

func (f *fakeObjects) URL(key string) string {
	return "https://cdn.example.test/" + key
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hero.png", "/copy.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadDeduplicatesByContent(t *testing.T) {
	srv := imageServer(t)
	objects := newFakeObjects()
	uploader := NewUploader(objects, 0, logger.NewNopLogger())

	first, err := uploader.Upload(context.Background(), srv.URL+"/hero.png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if first.Reused || first.ContentType != "image/png" || !strings.HasSuffix(first.ObjectKey, ".png") {
		t.Fatalf("unexpected first upload %+v", first)
	}
	if first.URL != "https://cdn.example.test/"+first.ObjectKey {
		t.Fatalf("unexpected url %q", first.URL)
	}

	second, err := uploader.Upload(context.Background(), srv.URL+"/copy.png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !second.Reused || second.ID != first.ID {
		t.Fatalf("expected dedupe, got %+v", second)
	}
	if objects.puts != 1 {
		t.Fatalf("expected one stored object, got %d", objects.puts)
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	srv := imageServer(t)
	uploader := NewUploader(newFakeObjects(), 0, logger.NewNopLogger())

	if _, err := uploader.Upload(context.Background(), srv.URL+"/page.html"); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	if _, err := uploader.Upload(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := uploader.Upload(context.Background(), "ftp://example.test/a.png"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
