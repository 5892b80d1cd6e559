package tool

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteTestCatalog(t *testing.T, path string) *SQLiteCatalog {
	t.Helper()

	catalog, err := NewSQLiteCatalog(path)
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	t.Cleanup(func() {
		_ = catalog.Close()
	})
	return catalog
}

func TestSQLiteCatalogRecordAndList(t *testing.T) {
	catalog := newSQLiteTestCatalog(t, filepath.Join(t.TempDir(), "catalog.db"))
	ctx := context.Background()

	first := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	records := []CatalogRecord{
		{Name: "word_count", Kind: KindFunction, Description: "Counts words.", Origin: "tools/functions/word_count.so", Revision: 1, RegisteredAt: first},
		{Name: "greet", Kind: KindCLI, Description: "Greets someone.", Command: "greet.sh", Revision: 1, RegisteredAt: first},
	}
	for _, rec := range records {
		if err := catalog.Record(ctx, rec); err != nil {
			t.Fatalf("Record(%s) error = %v", rec.Name, err)
		}
	}

	updated := records[0]
	updated.Revision = 2
	updated.Description = "Counts words in text."
	updated.RegisteredAt = first.Add(time.Hour)
	if err := catalog.Record(ctx, updated); err != nil {
		t.Fatalf("Record(update) error = %v", err)
	}

	recs, err := catalog.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(recs))
	}
	if recs[0].Name != "greet" || recs[1].Name != "word_count" {
		t.Fatalf("names = [%s %s], want [greet word_count]", recs[0].Name, recs[1].Name)
	}
	if recs[0].Kind != KindCLI || recs[0].Command != "greet.sh" {
		t.Fatalf("greet record = %+v", recs[0])
	}
	got := recs[1]
	if got.Revision != 2 || got.Description != "Counts words in text." {
		t.Fatalf("word_count record = %+v, want revision 2", got)
	}
	if !got.RegisteredAt.Equal(first) {
		t.Fatalf("RegisteredAt = %v, want %v", got.RegisteredAt, first)
	}
}

func TestSQLiteCatalogPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	ctx := context.Background()

	catalog, err := NewSQLiteCatalog(path)
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	if err := catalog.Record(ctx, CatalogRecord{Name: "greet", Kind: KindCLI, Description: "Greets."}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := catalog.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := newSQLiteTestCatalog(t, path)
	recs, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "greet" {
		t.Fatalf("List() = %+v, want greet", recs)
	}
	if recs[0].RegisteredAt.IsZero() || recs[0].UpdatedAt.IsZero() {
		t.Fatalf("timestamps not stamped: %+v", recs[0])
	}
}

func TestSQLiteCatalogValidation(t *testing.T) {
	if _, err := NewSQLiteCatalog(" "); err == nil {
		t.Fatal("NewSQLiteCatalog(empty) error = nil, want error")
	}

	catalog := newSQLiteTestCatalog(t, ":memory:")
	if err := catalog.Record(context.Background(), CatalogRecord{Kind: KindCLI}); err == nil {
		t.Fatal("Record() without name error = nil, want error")
	}

	var nilCatalog *SQLiteCatalog
	if err := nilCatalog.Close(); err != nil {
		t.Fatalf("nil Close() error = %v", err)
	}
}
