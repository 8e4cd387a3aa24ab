// Package versions keeps a bounded, restorable history of page states.
// A snapshot is taken before every mutating write; the oldest snapshots
// beyond the cap are evicted in the same step.
package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrVersionNotFound = errors.New("version not found")

const DefaultCap = 10

// SEOFields are the SEO keys captured with every snapshot.
var SEOFields = []string{
	"meta_title",
	"meta_description",
	"focus_keyword",
	"canonical_url",
	"og_title",
	"og_description",
	"og_image",
	"noindex",
}

// State is the part of a page a snapshot captures and a restore returns.
// BlockTree is empty for snapshots taken before trees were recorded.
type State struct {
	ContentHTML string            `json:"content_html"`
	Title       string            `json:"title"`
	SEO         map[string]string `json:"seo_meta"`
	BlockTree   json.RawMessage   `json:"block_tree,omitempty"`
}

type Snapshot struct {
	VersionID int64     `json:"version_id"`
	CreatedAt time.Time `json:"created_at"`
	State
}

// Meta is the listing view of a snapshot.
type Meta struct {
	VersionID     int64     `json:"version_id"`
	Title         string    `json:"title"`
	ContentLength int       `json:"content_length"`
	CreatedAt     time.Time `json:"created_at"`
}

// Backend persists snapshots per page. Append must store the snapshot and
// prune to keep entries in one atomic step, and must assign a version id
// strictly greater than every id already stored for the page (the proposed
// id is a lower bound). List returns newest first.
type Backend interface {
	Append(ctx context.Context, pageID string, snap Snapshot, keep int) (int64, error)
	List(ctx context.Context, pageID string) ([]Snapshot, error)
	Get(ctx context.Context, pageID string, versionID int64) (Snapshot, error)
}

type Store struct {
	backend Backend
	keep    int
	now     func() time.Time
}

func New(backend Backend, keep int) *Store {
	if keep <= 0 {
		keep = DefaultCap
	}
	return &Store{backend: backend, keep: keep, now: time.Now}
}

func (s *Store) Cap() int {
	return s.keep
}

// Snapshot records state as the newest version of pageID.
func (s *Store) Snapshot(ctx context.Context, pageID string, state State) (Snapshot, error) {
	if strings.TrimSpace(pageID) == "" {
		return Snapshot{}, errors.New("snapshot: page id is required")
	}
	now := s.now().UTC()
	snap := Snapshot{
		VersionID: now.UnixMicro(),
		CreatedAt: now,
		State: State{
			ContentHTML: state.ContentHTML,
			Title:       state.Title,
			SEO:         CurateSEO(state.SEO),
			BlockTree:   state.BlockTree,
		},
	}
	id, err := s.backend.Append(ctx, pageID, snap, s.keep)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot page %s: %w", pageID, err)
	}
	snap.VersionID = id
	return snap, nil
}

func (s *Store) List(ctx context.Context, pageID string) ([]Meta, error) {
	snaps, err := s.backend.List(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", pageID, err)
	}
	items := make([]Meta, 0, len(snaps))
	for _, snap := range snaps {
		items = append(items, Meta{
			VersionID:     snap.VersionID,
			Title:         snap.Title,
			ContentLength: len(snap.ContentHTML),
			CreatedAt:     snap.CreatedAt,
		})
	}
	return items, nil
}

// Restore returns the state stored under versionID after snapshotting
// current, so the rollback itself can be undone. An unknown version returns
// ErrVersionNotFound and records nothing.
func (s *Store) Restore(ctx context.Context, pageID string, versionID int64, current State) (State, error) {
	target, err := s.backend.Get(ctx, pageID, versionID)
	if err != nil {
		return State{}, err
	}
	if _, err := s.Snapshot(ctx, pageID, current); err != nil {
		return State{}, err
	}
	return target.State, nil
}

// CurateSEO keeps the known SEO keys with non-empty values.
func CurateSEO(seo map[string]string) map[string]string {
	out := make(map[string]string, len(SEOFields))
	for _, key := range SEOFields {
		if value := strings.TrimSpace(seo[key]); value != "" {
			out[key] = value
		}
	}
	return out
}

func nextID(proposed, last int64) int64 {
	if proposed > last {
		return proposed
	}
	return last + 1
}
