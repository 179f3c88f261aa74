package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openpress/pubstore/internal/asset"
	"github.com/openpress/pubstore/internal/storage"
)

// setupTestService seeds a registry with three assets and extra usage links:
// a shared cover image used by two journals, a dataset used once and an
// article PDF with no recorded usage beyond registration.
func setupTestService(t *testing.T) (*Service, map[string]string) {
	t.Helper()

	tmp := t.TempDir()
	reg, err := asset.NewRegistry(storage.NewResolver(tmp), asset.AlgorithmSHA256)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	write := func(name, content string) string {
		path := filepath.Join(tmp, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		return path
	}

	ids := make(map[string]string)

	coverID, err := reg.Register(context.Background(), write("journal-cover.png", "cover bytes"), asset.TypeImage, asset.FileMetadata{}, true, "jphys", "")
	if err != nil {
		t.Fatalf("register cover: %v", err)
	}
	ids["cover"] = coverID
	// Two more journals pick up the same cover.
	for _, j := range []string{"jchem", "jbio"} {
		if err := reg.Link(coverID, asset.UsageContext{JournalID: j, Role: asset.RoleCover}); err != nil {
			t.Fatalf("link cover to %s: %v", j, err)
		}
	}

	dataID, err := reg.Register(context.Background(), write("results-dataset.csv", "a,b\n1,2"), asset.TypeDataset, asset.FileMetadata{}, false, "jphys", "art1")
	if err != nil {
		t.Fatalf("register dataset: %v", err)
	}
	ids["dataset"] = dataID

	pdfID, err := reg.Register(context.Background(), write("manuscript.pdf", "pdf bytes"), asset.TypeArticle, asset.FileMetadata{}, false, "jchem", "art2")
	if err != nil {
		t.Fatalf("register pdf: %v", err)
	}
	ids["pdf"] = pdfID

	return NewService(reg), ids
}

func TestDiscoverRanksByUsage(t *testing.T) {
	s, ids := setupTestService(t)

	all := s.Discover(asset.Query{}, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(all))
	}
	// The cover has 3 usage contexts (register + 2 links) and must rank first.
	if all[0].Asset.ID != ids["cover"] {
		t.Errorf("expected cover first, got %s", all[0].Asset.ID)
	}
	if all[0].UsageCount != 3 {
		t.Errorf("expected usage count 3 for cover, got %d", all[0].UsageCount)
	}
	for i := 1; i < len(all); i++ {
		if all[i].UsageCount > all[i-1].UsageCount {
			t.Errorf("usage ordering violated at %d: %d > %d", i, all[i].UsageCount, all[i-1].UsageCount)
		}
	}
}

func TestDecorateCollectsDistinctContexts(t *testing.T) {
	s, ids := setupTestService(t)

	all := s.Discover(asset.Query{Search: ids["cover"]}, 0)
	if len(all) != 1 {
		t.Fatalf("expected 1 hit by id, got %d", len(all))
	}
	d := all[0]
	if len(d.Journals) != 3 {
		t.Errorf("expected 3 distinct journals, got %v", d.Journals)
	}
	// Sorted for stable output.
	if d.Journals[0] != "jbio" || d.Journals[2] != "jphys" {
		t.Errorf("journals not sorted: %v", d.Journals)
	}
	if d.LastUsed == nil {
		t.Error("expected non-nil lastUsed after links")
	}
}

func TestSharedAndForArticle(t *testing.T) {
	s, ids := setupTestService(t)

	shared := s.Shared("")
	if len(shared) != 1 || shared[0].Asset.ID != ids["cover"] {
		t.Errorf("shared query failed: %+v", shared)
	}

	forArt := s.ForArticle("jphys", "art1")
	if len(forArt) != 1 || forArt[0].Asset.ID != ids["dataset"] {
		t.Errorf("forArticle query failed: %+v", forArt)
	}
}

func TestByTypeAndPopularLimit(t *testing.T) {
	s, ids := setupTestService(t)

	datasets := s.ByType(asset.TypeDataset)
	if len(datasets) != 1 || datasets[0].Asset.ID != ids["dataset"] {
		t.Errorf("byType failed: %+v", datasets)
	}

	top := s.Popular(1)
	if len(top) != 1 {
		t.Fatalf("popular must honor limit, got %d", len(top))
	}
	if top[0].Asset.ID != ids["cover"] {
		t.Errorf("expected cover as most popular, got %s", top[0].Asset.ID)
	}
}

func TestRecentOnlyIncludesUsedAssets(t *testing.T) {
	s, _ := setupTestService(t)

	recent := s.Recent(10)
	for _, d := range recent {
		if d.LastUsed == nil {
			t.Error("recent returned an asset without a recorded use")
		}
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].LastUsed.After(*recent[i-1].LastUsed) {
			t.Errorf("recency ordering violated at %d", i)
		}
	}
}

func TestSuggestMatchesFilenames(t *testing.T) {
	s, ids := setupTestService(t)

	got := s.Suggest([]string{"dataset"}, 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 suggestion for 'dataset', got %d", len(got))
	}
	if got[0].Asset.ID != ids["dataset"] {
		t.Errorf("expected dataset asset, got %s", got[0].Asset.ID)
	}

	if got := s.Suggest([]string{"zzz-no-such-term"}, 5); len(got) != 0 {
		t.Errorf("expected no suggestions, got %d", len(got))
	}
	if got := s.Suggest([]string{"", "   "}, 5); got != nil {
		t.Errorf("blank keywords must yield nil, got %v", got)
	}
}

func TestAssetStats(t *testing.T) {
	s, _ := setupTestService(t)

	stats := s.AssetStats()
	if stats.TotalAssets != 3 {
		t.Errorf("expected 3 total, got %d", stats.TotalAssets)
	}
	if stats.SharedAssets != 1 {
		t.Errorf("expected 1 shared, got %d", stats.SharedAssets)
	}
	if stats.ByType[asset.TypeImage] != 1 || stats.ByType[asset.TypeDataset] != 1 || stats.ByType[asset.TypeArticle] != 1 {
		t.Errorf("type histogram wrong: %+v", stats.ByType)
	}
	// register(cover)+2 links+register(dataset)+register(pdf) = 5 contexts.
	if stats.UsageContexts != 5 {
		t.Errorf("expected 5 usage contexts, got %d", stats.UsageContexts)
	}
}
