package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/openpress/pubstore/internal/article"
	"github.com/openpress/pubstore/internal/storage"
)

// setupTestIndex writes the given records to disk and returns a fresh Index
// over them.
func setupTestIndex(t *testing.T, articles []article.Metadata) *Index {
	t.Helper()

	res := storage.NewResolver(t.TempDir())
	for _, m := range articles {
		writeRecord(t, res, m)
	}
	ix := NewIndex(res, 0)
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	return ix
}

func writeRecord(t *testing.T, res *storage.Resolver, m article.Metadata) {
	t.Helper()
	path, err := res.ArticleRecordPath(m.JournalID, m.ID)
	if err != nil {
		t.Fatalf("record path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func corpus() []article.Metadata {
	p1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p2 := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	return []article.Metadata{
		{
			ID: "art1", JournalID: "jlaw", Title: "ELTIFs Compulsory Redemption",
			Abstract: "Redemption mechanics under the revised regime.",
			Authors:  []article.Author{{Name: "A. Martins"}},
			Keywords: []string{"ELTIFs", "Luxembourg"},
			DOI:      "10.1000/jlaw.art1", Status: article.StatusPublished, PublishedDate: &p1,
		},
		{
			ID: "art2", JournalID: "jlaw", Title: "BaFin Portfolio Control",
			Abstract: "Supervisory control of portfolio composition.",
			Authors:  []article.Author{{Name: "B. Keller"}},
			Keywords: []string{"BaFin", "Portfolio"},
			DOI:      "10.1000/jlaw.art2", Status: article.StatusPublished, PublishedDate: &p2,
		},
		{
			ID: "art3", JournalID: "jfin", Title: "Luxembourg Fund Structures",
			Abstract: "A survey of fund vehicles, including ELTIFs.",
			Authors:  []article.Author{{Name: "C. Duarte"}},
			Keywords: []string{"Luxembourg", "Funds"},
			DOI:      "10.1000/jfin.art3", Status: article.StatusReview, PublishedDate: nil,
		},
	}
}

func TestEmptyQueryReturnsNothing(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	if got := ix.Search(Query{Q: ""}); len(got) != 0 {
		t.Errorf("empty query must yield empty results, got %d", len(got))
	}
	if got := ix.Search(Query{Q: "   "}); len(got) != 0 {
		t.Errorf("whitespace query must yield empty results, got %d", len(got))
	}
}

func TestTitleMatchScoresAtLeastTen(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	results := ix.Search(Query{Q: "eltif"})
	if len(results) != 2 {
		t.Fatalf("expected 2 hits for 'eltif', got %d", len(results))
	}
	// Title match ranks first and scores at least 10.
	if results[0].Article.ID != "art1" {
		t.Errorf("expected art1 first, got %s", results[0].Article.ID)
	}
	if results[0].Score < 10 {
		t.Errorf("title match must score >= 10, got %d", results[0].Score)
	}
	for _, r := range results {
		if r.Article.ID == "art2" {
			t.Error("art2 has no match and must be excluded")
		}
	}
}

func TestMatchedFieldsAndHighlights(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	results := ix.Search(Query{Q: "redemption"})
	if len(results) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(results))
	}
	r := results[0]

	foundTitle := false
	for _, f := range r.MatchedFields {
		if f == "title" {
			foundTitle = true
		}
	}
	if !foundTitle {
		t.Errorf("expected title in matched fields, got %v", r.MatchedFields)
	}
	if len(r.Highlights) == 0 {
		t.Error("expected at least one highlight snippet")
	}
	if len(r.Highlights) > 3 {
		t.Errorf("at most 3 highlights allowed, got %d", len(r.Highlights))
	}
}

func TestHighlightMultibyteTitle(t *testing.T) {
	// Lowercasing can grow the byte length of a rune (U+023A -> U+2C65,
	// 2 -> 3 bytes), so match offsets from the normalized text must never be
	// used to slice the original.
	title := strings.Repeat("Ⱥ", 60) + " zzz"
	ix := setupTestIndex(t, []article.Metadata{
		{ID: "uni1", JournalID: "jlaw", Title: title},
	})

	results := ix.Search(Query{Q: "zzz"})
	if len(results) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(results))
	}
	if len(results[0].Highlights) == 0 {
		t.Fatal("expected a highlight snippet")
	}
	snippet := results[0].Highlights[0]
	if !strings.Contains(snippet, "zzz") {
		t.Errorf("snippet does not contain the match: %q", snippet)
	}
	if !utf8.ValidString(snippet) {
		t.Errorf("snippet split a multi-byte rune: %q", snippet)
	}
}

func TestHighlightPreservesOriginalCasing(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	results := ix.Search(Query{Q: "redemption"})
	if len(results) != 1 || len(results[0].Highlights) == 0 {
		t.Fatalf("expected 1 hit with highlights, got %+v", results)
	}
	if !strings.Contains(results[0].Highlights[0], "Redemption") {
		t.Errorf("snippet lost the original casing: %q", results[0].Highlights[0])
	}
}

func TestConfiguredDefaultLimit(t *testing.T) {
	res := storage.NewResolver(t.TempDir())
	for _, m := range corpus() {
		writeRecord(t, res, m)
	}
	ix := NewIndex(res, 1)
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	// Two articles match; a query without an explicit limit is capped by the
	// configured page size.
	got := ix.Search(Query{Q: "eltif"})
	if len(got) != 1 {
		t.Errorf("expected configured default limit of 1 to apply, got %d results", len(got))
	}
	// An explicit limit still wins.
	if got := ix.Search(Query{Q: "eltif", Limit: 10}); len(got) != 2 {
		t.Errorf("explicit limit overridden: got %d results", len(got))
	}
}

func TestStructuralFiltersAreHardExcludes(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	if got := ix.Search(Query{Q: "luxembourg", JournalID: "jfin"}); len(got) != 1 || got[0].Article.ID != "art3" {
		t.Errorf("journal filter failed: %+v", got)
	}
	if got := ix.Search(Query{Q: "luxembourg", Status: article.StatusPublished}); len(got) != 1 || got[0].Article.ID != "art1" {
		t.Errorf("status filter failed: %+v", got)
	}
	if got := ix.Search(Query{Q: "eltif", Author: "martins"}); len(got) != 1 || got[0].Article.ID != "art1" {
		t.Errorf("author filter failed: %+v", got)
	}

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := ix.Search(Query{Q: "portfolio", DateFrom: &from})
	if len(got) != 1 || got[0].Article.ID != "art2" {
		t.Errorf("dateFrom filter failed: %+v", got)
	}
	// Articles without a published date fail any date filter.
	if got := ix.Search(Query{Q: "luxembourg", DateFrom: &from}); len(got) != 0 {
		t.Errorf("unpublished article must fail date filters: %+v", got)
	}
}

func TestPaginationStablePrefix(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	small := ix.Search(Query{Q: "eltif luxembourg", Limit: 1})
	large := ix.Search(Query{Q: "eltif luxembourg", Limit: 10})
	if len(small) != 1 {
		t.Fatalf("expected 1 result with limit 1, got %d", len(small))
	}
	if len(large) < len(small) {
		t.Fatal("larger limit returned fewer results")
	}
	// Increasing limit must never change the prefix.
	if small[0].Article.ID != large[0].Article.ID {
		t.Errorf("prefix changed with limit: %s vs %s", small[0].Article.ID, large[0].Article.ID)
	}

	offset := ix.Search(Query{Q: "eltif luxembourg", Limit: 10, Offset: 1})
	if len(offset) != len(large)-1 {
		t.Errorf("offset pagination wrong: %d vs %d", len(offset), len(large))
	}
	if got := ix.Search(Query{Q: "eltif", Offset: 100}); len(got) != 0 {
		t.Errorf("out-of-range offset must yield empty, got %d", len(got))
	}
}

func TestRebuildSkipsMalformedRecords(t *testing.T) {
	res := storage.NewResolver(t.TempDir())
	writeRecord(t, res, corpus()[0])
	badPath := filepath.Join(res.ArticlesRoot(), "jlaw", "corrupt.json")
	if err := os.WriteFile(badPath, []byte("][broken"), 0644); err != nil {
		t.Fatal(err)
	}

	ix := NewIndex(res, 0)
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild must tolerate corrupt records: %v", err)
	}
	if ix.Size() != 1 {
		t.Errorf("expected 1 indexed article, got %d", ix.Size())
	}
}

func TestRebuildMissingRootServesEmpty(t *testing.T) {
	res := storage.NewResolver(filepath.Join(t.TempDir(), "nonexistent"))
	ix := NewIndex(res, 0)

	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("missing articles root must not fail startup: %v", err)
	}
	if got := ix.Search(Query{Q: "anything"}); len(got) != 0 {
		t.Errorf("empty index must serve empty results, got %d", len(got))
	}
}

func TestRebuildHonorsCancellation(t *testing.T) {
	res := storage.NewResolver(t.TempDir())
	for _, m := range corpus() {
		writeRecord(t, res, m)
	}
	ix := NewIndex(res, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ix.Rebuild(ctx); err == nil {
		t.Error("expected error from canceled rebuild")
	}
}

func TestByDOI(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	if got := ix.ByDOI("10.1000/jlaw.art2"); got == nil || got.ID != "art2" {
		t.Errorf("exact DOI lookup failed: %+v", got)
	}
	if got := ix.ByDOI("10.1000/nope"); got != nil {
		t.Errorf("unknown DOI must return nil, got %+v", got)
	}
}

func TestByAuthor(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	if got := ix.ByAuthor("keller"); len(got) != 1 || got[0].ID != "art2" {
		t.Errorf("author substring scan failed: %+v", got)
	}
	if got := ix.ByAuthor("nobody"); len(got) != 0 {
		t.Errorf("expected no hits, got %d", len(got))
	}
}

func TestSuggestionsSharedKeywords(t *testing.T) {
	ix := setupTestIndex(t, corpus())

	// art1 keywords: {ELTIFs, Luxembourg}. Only art3 shares one (case-insensitive).
	got := ix.Suggestions("art1", 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(got))
	}
	if got[0].ID != "art3" {
		t.Errorf("expected art3, got %s", got[0].ID)
	}
	// Self is always excluded.
	for _, m := range got {
		if m.ID == "art1" {
			t.Error("suggestions must exclude the source article")
		}
	}
}

func TestMarkDirtyTriggersLazyRebuild(t *testing.T) {
	res := storage.NewResolver(t.TempDir())
	writeRecord(t, res, corpus()[0])
	ix := NewIndex(res, 0)
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ix.Size() != 1 {
		t.Fatalf("expected 1 article, got %d", ix.Size())
	}

	writeRecord(t, res, corpus()[1])
	if ix.Size() != 1 {
		t.Fatal("index must not pick up changes until marked dirty")
	}
	ix.MarkDirty()
	if ix.Size() != 2 {
		t.Errorf("expected lazy rebuild to find 2 articles, got %d", ix.Size())
	}
}
