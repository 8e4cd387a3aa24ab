// Package media fetches images referenced by publish requests and stores
// them in object storage, deduplicated by content hash.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"pagepush/api/internal/logger"
)

const maxImageBytes = 10 << 20

var ErrNotImage = errors.New("fetched resource is not an image")

// Uploaded describes a stored image. ID is the content hash.
type Uploaded struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	SourceURL   string `json:"source_url"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Reused      bool   `json:"reused"`
}

// ObjectStore is the subset of object storage the uploader needs.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	URL(key string) string
}

type Uploader struct {
	objects ObjectStore
	client  *http.Client
	log     logger.Logger
}

func NewUploader(objects ObjectStore, timeout time.Duration, log logger.Logger) *Uploader {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Uploader{
		objects: objects,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Upload fetches sourceURL and stores it unless an object with identical
// content already exists.
func (u *Uploader) Upload(ctx context.Context, sourceURL string) (Uploaded, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Uploaded{}, fmt.Errorf("invalid image url %q", sourceURL)
	}

	body, contentType, err := u.fetch(ctx, sourceURL)
	if err != nil {
		return Uploaded{}, err
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	key := objectKey(hash, contentType, parsed.Path)
	item := Uploaded{
		ID:          hash,
		URL:         u.objects.URL(key),
		SourceURL:   sourceURL,
		ObjectKey:   key,
		ContentType: contentType,
		Size:        int64(len(body)),
	}

	exists, err := u.objects.Exists(ctx, key)
	if err != nil {
		return Uploaded{}, fmt.Errorf("check object %s: %w", key, err)
	}
	if exists {
		item.Reused = true
		u.log.Debug("reusing stored image", logger.String("key", key), logger.String("source", sourceURL))
		return item, nil
	}
	if err := u.objects.Put(ctx, key, bytes.NewReader(body), item.Size, contentType); err != nil {
		return Uploaded{}, fmt.Errorf("store object %s: %w", key, err)
	}
	u.log.Info("stored image",
		logger.String("key", key),
		logger.String("source", sourceURL),
		logger.Int64("size", item.Size))
	return item, nil
}

func (u *Uploader) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(body) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", ErrNotImage
	}
	return body, contentType, nil
}

func objectKey(hash, contentType, sourcePath string) string {
	ext := strings.ToLower(path.Ext(sourcePath))
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 && !contains(exts, ext) {
		ext = exts[0]
	}
	if ext == "" {
		ext = ".img"
	}
	return path.Join("images", hash[:2], hash+ext)
}

func contains(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
