package store

import (
	"encoding/json"
	"time"
)

// Page is the host-side page record the publish pipeline reads and writes.
type Page struct {
	ID              string
	Slug            string
	Title           string
	ContentHTML     string
	BlockTree       json.RawMessage
	Settings        json.RawMessage
	Status          string
	ParentID        *string
	Template        string
	FeaturedMediaID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	ScheduledPending = "pending"
	ScheduledRunning = "running"
	ScheduledDone    = "done"
	ScheduledFailed  = "failed"
)

// ScheduledPublish is a stored publish request replayed at PublishAt.
type ScheduledPublish struct {
	ID        string
	PublishAt time.Time
	Request   json.RawMessage
	Status    string
	Attempts  int
	LastError string
	PageID    *string
	CreatedAt time.Time
}
