// Package search provides an in-memory, rebuildable inverted view over the
// article metadata store, with relevance-ranked free-text search and
// structured filters.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/openpress/pubstore/internal/article"
	"github.com/openpress/pubstore/internal/logging"
	"github.com/openpress/pubstore/internal/storage"
)

// DefaultLimit is the page size used when a query does not set one.
const DefaultLimit = 20

// maxHighlights caps the snippets attached to one result.
const maxHighlights = 3

// snippetContext is the number of characters of context kept around a match.
const snippetContext = 50

// Query is a ranked search request. Structural filters are hard excludes;
// the free-text part is scored per token.
type Query struct {
	Q         string
	JournalID string
	Author    string
	Keyword   string
	DateFrom  *time.Time
	DateTo    *time.Time
	Status    article.Status
	Limit     int
	Offset    int
}

// Result is one ranked search hit.
type Result struct {
	Article       article.Metadata `json:"article"`
	Score         int              `json:"score"`
	Highlights    []string         `json:"highlights,omitempty"`
	MatchedFields []string         `json:"matchedFields,omitempty"`
}

// Index holds the scanned article records. It is a write-through view of the
// on-disk records, invalidated only by MarkDirty or an explicit Rebuild.
type Index struct {
	resolver     *storage.Resolver
	defaultLimit int
	mu           sync.RWMutex
	articles     []article.Metadata
	dirty        bool
	loaded       bool
}

// NewIndex creates an Index over the given storage layout. defaultLimit is
// the page size used when a query does not set one; zero or negative falls
// back to DefaultLimit. The index starts empty; the first query (or an
// explicit Rebuild) populates it. A failed disk scan leaves an empty index
// serving empty results rather than failing.
func NewIndex(resolver *storage.Resolver, defaultLimit int) *Index {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Index{resolver: resolver, defaultLimit: defaultLimit, dirty: true}
}

// MarkDirty flags the index for a lazy rebuild on the next read.
func (ix *Index) MarkDirty() {
	ix.mu.Lock()
	ix.dirty = true
	ix.mu.Unlock()
}

// Rebuild clears and repopulates the index by scanning every per-article
// record under every journal directory. Malformed records are skipped so one
// corrupt file cannot block the rest. Cancellation is honored between
// records.
func (ix *Index) Rebuild(ctx context.Context) error {
	root := ix.resolver.ArticlesRoot()
	var scanned []article.Metadata

	journals, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("WARN: Search index cannot scan %s: %v. Serving empty index.", root, err)
		}
		ix.mu.Lock()
		ix.articles = nil
		ix.dirty = false
		ix.loaded = true
		ix.mu.Unlock()
		return nil
	}

	for _, j := range journals {
		if !j.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, j.Name()))
		if err != nil {
			log.Printf("WARN: Search index cannot scan journal %s: %v", j.Name(), err)
			continue
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("index rebuild canceled: %w", err)
			}
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			path := filepath.Join(root, j.Name(), e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				logging.Debug("Index skipping unreadable record %s: %v", path, err)
				continue
			}
			var m article.Metadata
			if err := json.Unmarshal(data, &m); err != nil {
				logging.Debug("Index skipping malformed record %s: %v", path, err)
				continue
			}
			scanned = append(scanned, m)
		}
	}

	ix.mu.Lock()
	ix.articles = scanned
	ix.dirty = false
	ix.loaded = true
	ix.mu.Unlock()

	log.Printf("INFO: Search index rebuilt: %d articles", len(scanned))
	return nil
}

// ensureFresh rebuilds the index if it has been marked dirty.
func (ix *Index) ensureFresh() {
	ix.mu.RLock()
	stale := ix.dirty || !ix.loaded
	ix.mu.RUnlock()
	if stale {
		if err := ix.Rebuild(context.Background()); err != nil {
			log.Printf("ERROR: Lazy index rebuild failed: %v", err)
		}
	}
}

// Size returns the number of indexed articles.
func (ix *Index) Size() int {
	ix.ensureFresh()
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.articles)
}

// normalizeToken NFC-normalizes and lowercases a token for matching.
func normalizeToken(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

// Search runs a ranked query. An empty q yields an empty result set, never
// the full corpus. Results are sorted by score descending (stable on ties)
// and paginated by Offset/Limit.
func (ix *Index) Search(q Query) []Result {
	tokens := strings.Fields(normalizeToken(q.Q))
	if len(tokens) == 0 {
		return []Result{}
	}
	if q.Limit <= 0 {
		q.Limit = ix.defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	ix.ensureFresh()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var results []Result
	for _, m := range ix.articles {
		if !passesFilters(&m, q) {
			continue
		}
		r := scoreArticle(&m, tokens)
		if r.Score <= 0 {
			continue
		}
		r.Article = m
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if q.Offset >= len(results) {
		return []Result{}
	}
	end := q.Offset + q.Limit
	if end > len(results) {
		end = len(results)
	}
	return results[q.Offset:end]
}

// passesFilters applies the structural filters as hard excludes.
func passesFilters(m *article.Metadata, q Query) bool {
	if q.JournalID != "" && m.JournalID != q.JournalID {
		return false
	}
	if q.Status != "" && m.Status != q.Status {
		return false
	}
	if q.Author != "" {
		needle := normalizeToken(q.Author)
		found := false
		for _, a := range m.Authors {
			if strings.Contains(normalizeToken(a.Name), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Keyword != "" {
		needle := normalizeToken(q.Keyword)
		found := false
		for _, kw := range m.Keywords {
			if strings.Contains(normalizeToken(kw), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.DateFrom != nil || q.DateTo != nil {
		if m.PublishedDate == nil {
			return false
		}
		if q.DateFrom != nil && m.PublishedDate.Before(*q.DateFrom) {
			return false
		}
		if q.DateTo != nil && m.PublishedDate.After(*q.DateTo) {
			return false
		}
	}
	return true
}

// scoreArticle computes the relevance score as the sum over query tokens of
// weighted per-field substring matches: title 10, abstract 5, keyword 3,
// author 3, plus 1 when the token appears anywhere in the concatenated text.
func scoreArticle(m *article.Metadata, tokens []string) Result {
	title := normalizeToken(m.Title)
	abstract := normalizeToken(m.Abstract)

	var authorNames []string
	for _, a := range m.Authors {
		authorNames = append(authorNames, normalizeToken(a.Name))
	}
	var keywords []string
	for _, kw := range m.Keywords {
		keywords = append(keywords, normalizeToken(kw))
	}
	everything := title + " " + abstract + " " + strings.Join(keywords, " ") + " " + strings.Join(authorNames, " ")

	var r Result
	matched := make(map[string]bool)
	for _, tok := range tokens {
		if strings.Contains(title, tok) {
			r.Score += 10
			matched["title"] = true
			r.Highlights = appendHighlight(r.Highlights, m.Title, tok)
		}
		if strings.Contains(abstract, tok) {
			r.Score += 5
			matched["abstract"] = true
			if !strings.Contains(title, tok) {
				r.Highlights = appendHighlight(r.Highlights, m.Abstract, tok)
			}
		}
		for _, kw := range keywords {
			if strings.Contains(kw, tok) {
				r.Score += 3
				matched["keywords"] = true
				break
			}
		}
		for _, name := range authorNames {
			if strings.Contains(name, tok) {
				r.Score += 3
				matched["authors"] = true
				break
			}
		}
		if strings.Contains(everything, tok) {
			r.Score++
		}
	}

	for _, field := range []string{"title", "abstract", "keywords", "authors"} {
		if matched[field] {
			r.MatchedFields = append(r.MatchedFields, field)
		}
	}
	return r
}

// appendHighlight adds a snippet of context around the first match of tok in
// text, up to the per-result cap.
func appendHighlight(highlights []string, text, tok string) []string {
	if len(highlights) >= maxHighlights {
		return highlights
	}
	idx := foldIndex(text, tok)
	if idx < 0 {
		return highlights
	}
	start := idx - snippetContext
	if start < 0 {
		start = 0
	}
	end := idx + len(tok) + snippetContext
	if end > len(text) {
		end = len(text)
	}
	// Snippet bounds must not split a multi-byte rune.
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	snippet := text[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return append(highlights, snippet)
}

// foldIndex returns the byte offset in text where the normalized remainder
// begins with tok, or -1. Offsets refer to text itself: normalization can
// change byte lengths, so an offset computed on the normalized string must
// never be used to slice the original.
func foldIndex(text, tok string) int {
	for i := range text {
		if strings.HasPrefix(normalizeToken(text[i:]), tok) {
			return i
		}
	}
	return -1
}

// ByDOI returns the article with an exactly matching DOI, or nil.
func (ix *Index) ByDOI(doi string) *article.Metadata {
	if doi == "" {
		return nil
	}
	ix.ensureFresh()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for i := range ix.articles {
		if ix.articles[i].DOI == doi {
			cp := ix.articles[i]
			return &cp
		}
	}
	return nil
}

// ByAuthor returns every article with an author name containing name
// (case-insensitive).
func (ix *Index) ByAuthor(name string) []article.Metadata {
	needle := normalizeToken(name)
	if needle == "" {
		return nil
	}
	ix.ensureFresh()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []article.Metadata
	for _, m := range ix.articles {
		for _, a := range m.Authors {
			if strings.Contains(normalizeToken(a.Name), needle) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Suggestions returns up to limit articles ranked by the count of lowercase
// keywords shared with the source article, descending, self excluded.
func (ix *Index) Suggestions(articleID string, limit int) []article.Metadata {
	if limit <= 0 {
		limit = 5
	}
	ix.ensureFresh()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var source *article.Metadata
	for i := range ix.articles {
		if ix.articles[i].ID == articleID {
			source = &ix.articles[i]
			break
		}
	}
	if source == nil || len(source.Keywords) == 0 {
		return nil
	}

	sourceKeywords := make(map[string]bool, len(source.Keywords))
	for _, kw := range source.Keywords {
		sourceKeywords[normalizeToken(kw)] = true
	}

	type scored struct {
		m      article.Metadata
		shared int
	}
	var candidates []scored
	for _, m := range ix.articles {
		if m.ID == articleID {
			continue
		}
		shared := 0
		for _, kw := range m.Keywords {
			if sourceKeywords[normalizeToken(kw)] {
				shared++
			}
		}
		if shared > 0 {
			candidates = append(candidates, scored{m: m, shared: shared})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].shared > candidates[j].shared
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]article.Metadata, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.m)
	}
	return out
}
