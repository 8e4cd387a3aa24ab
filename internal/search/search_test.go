package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	meili "github.com/meilisearch/meilisearch-go"

	"pagepush/api/internal/logger"
)

type fakeSearcher struct {
	searchFn func(q Query) ([]Result, int, error)
}

func (f fakeSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	return f.searchFn(q)
}

func (f fakeSearcher) Healthy() bool { return true }

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, fakeSearcher{searchFn: func(q Query) ([]Result, int, error) {
		return []Result{{ID: "p1", Title: q.Text}}, 1, nil
	}}, logger.NewNopLogger())

	resp := svc.Search(context.Background(), Query{Text: "pricing"})
	if resp.Backend != "postgres" || resp.Total != 1 || resp.Results[0].Title != "pricing" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestServiceReturnsEmptyOnError(t *testing.T) {
	svc := NewService(nil, fakeSearcher{searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("db down")
	}}, logger.NewNopLogger())

	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty results, got %+v", resp)
	}
}

func TestPgFTSSearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT count").WithArgs("pricing", "publish").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("ts_rank").WithArgs("pricing", "publish").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "title", "snippet", "status", "updated_at"}).
			AddRow("p1", "pricing", "Pricing", "  Plans   and\nprices ", "publish", now))

	results, total, err := NewPgFTS(db).Search(context.Background(), Query{Text: "pricing", Status: "publish"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 1 || len(results) != 1 || results[0].Snippet != "Plans and prices" {
		t.Fatalf("unexpected results %+v (total %d)", results, total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"p1"`),
		"slug":       json.RawMessage(`"about"`),
		"title":      json.RawMessage(`"About"`),
		"text":       json.RawMessage(`"About us"`),
		"status":     json.RawMessage(`"publish"`),
		"updatedAt":  json.RawMessage(`1700000000`),
		"_formatted": json.RawMessage(`{"title":"<mark>About</mark>","updatedAt":"1700000000"}`),
	}
	r := hitToResult(hit)
	if r.ID != "p1" || r.Title != "<mark>About</mark>" || r.Snippet != "About us" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.UpdatedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected updated_at %v", r.UpdatedAt)
	}
}
