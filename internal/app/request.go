package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"pagepush/api/internal/media"
	"pagepush/api/internal/util"
)

type PublishRequest struct {
	Page    PageInput       `json:"page"`
	Content ContentInput    `json:"content"`
	SEO     SEOInput        `json:"seo"`
	Images  ImagesInput     `json:"images"`
	Schema  json.RawMessage `json:"schema,omitempty"`
	Options OptionsInput    `json:"options"`
}

type PageInput struct {
	Title      string `json:"title" validate:"required,max=200"`
	Slug       string `json:"slug,omitempty" validate:"omitempty,max=200,slug"`
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=draft publish pending private"`
	ParentSlug string `json:"parent_slug,omitempty" validate:"omitempty,max=200,slug"`
	Template   string `json:"template,omitempty" validate:"omitempty,max=100"`
	UpdateMode string `json:"update_mode,omitempty" validate:"omitempty,oneof=safe full"`
}

type ContentInput struct {
	HTML         string          `json:"html"`
	CustomCSS    string          `json:"custom_css,omitempty" validate:"max=200000"`
	RawBlockTree json.RawMessage `json:"raw_block_tree,omitempty"`
}

type SEOInput struct {
	MetaTitle       string `json:"meta_title,omitempty" validate:"max=200"`
	MetaDescription string `json:"meta_description,omitempty" validate:"max=500"`
	FocusKeyword    string `json:"focus_keyword,omitempty" validate:"max=100"`
	CanonicalURL    string `json:"canonical_url,omitempty" validate:"omitempty,url"`
	OGTitle         string `json:"og_title,omitempty" validate:"max=200"`
	OGDescription   string `json:"og_description,omitempty" validate:"max=500"`
	OGImage         string `json:"og_image,omitempty" validate:"omitempty,url"`
	Noindex         *bool  `json:"noindex,omitempty"`
}

type ImagesInput struct {
	FeaturedURL string   `json:"featured_url,omitempty" validate:"omitempty,url"`
	Gallery     []string `json:"gallery,omitempty" validate:"max=50,dive,url"`
}

type OptionsInput struct {
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"max=255"`
	SkipValidation bool   `json:"skip_validation,omitempty"`
	EnsureH1       *bool  `json:"ensure_h1,omitempty"`
}

// Slug returns the explicit slug or one derived from the title.
func (r PublishRequest) Slug() string {
	if slug := strings.TrimSpace(r.Page.Slug); slug != "" {
		return slug
	}
	return util.Slugify(r.Page.Title)
}

func (r PublishRequest) ensureH1() bool {
	return r.Options.EnsureH1 == nil || *r.Options.EnsureH1
}

func (r PublishRequest) hasRawTree() bool {
	raw := bytes.TrimSpace(r.Content.RawBlockTree)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// Meta returns the SEO keys the request sets. Absent fields are left out so
// existing values survive; noindex is only touched when given.
func (s SEOInput) Meta() map[string]string {
	out := map[string]string{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			out[key] = value
		}
	}
	set("meta_title", s.MetaTitle)
	set("meta_description", s.MetaDescription)
	set("focus_keyword", s.FocusKeyword)
	set("canonical_url", s.CanonicalURL)
	set("og_title", s.OGTitle)
	set("og_description", s.OGDescription)
	set("og_image", s.OGImage)
	if s.Noindex != nil {
		if *s.Noindex {
			out["noindex"] = "1"
		} else {
			out["noindex"] = ""
		}
	}
	return out
}

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PublishResponse struct {
	Success        bool             `json:"success"`
	PageID         string           `json:"page_id"`
	PageURL        string           `json:"page_url"`
	Action         string           `json:"action"`
	VersionID      int64            `json:"version_id,omitempty"`
	UploadedMedia  []media.Uploaded `json:"uploaded_media"`
	Warnings       []Warning        `json:"warnings"`
	ResponseTimeMS int64            `json:"response_time_ms"`
	Timestamp      string           `json:"timestamp"`
	Cached         bool             `json:"cached"`
}

const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionRolledBack = "rolled_back"
)

type RollbackResponse struct {
	Success         bool      `json:"success"`
	PageID          string    `json:"page_id"`
	PageURL         string    `json:"page_url"`
	Action          string    `json:"action"`
	RestoredVersion int64     `json:"restored_version"`
	Warnings        []Warning `json:"warnings"`
	Timestamp       string    `json:"timestamp"`
}

type ScheduleRequest struct {
	PublishAt time.Time       `json:"publish_at"`
	Request   json.RawMessage `json:"request"`
}

type ScheduleResponse struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	PublishAt time.Time `json:"publish_at"`
	Status    string    `json:"status"`
}

type ConvertRequest struct {
	HTML     string `json:"html"`
	Title    string `json:"title,omitempty"`
	EnsureH1 bool   `json:"ensure_h1,omitempty"`
}

type ConvertResponse struct {
	BlockTree json.RawMessage `json:"block_tree"`
	Nodes     int             `json:"nodes"`
	Warnings  []Warning       `json:"warnings"`
}

// PageExport is the read view of a stored page.
type PageExport struct {
	ID              string            `json:"id"`
	Slug            string            `json:"slug"`
	Title           string            `json:"title"`
	Status          string            `json:"status"`
	URL             string            `json:"url"`
	ContentHTML     string            `json:"content_html"`
	BlockTree       json.RawMessage   `json:"block_tree"`
	Settings        json.RawMessage   `json:"page_settings"`
	SEO             map[string]string `json:"seo"`
	ParentID        *string           `json:"parent_id"`
	Template        string            `json:"template,omitempty"`
	FeaturedMediaID *string           `json:"featured_media_id"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
