package article

import (
	"testing"
)

func TestEnrichCoercesBareStringAuthor(t *testing.T) {
	s := setupTestStore(t)

	m, err := s.EnrichFromLegacy("jphys", "leg1", LegacyRecord{
		Title:   "Legacy Paper",
		Authors: "C. Solo",
	})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(m.Authors) != 1 {
		t.Fatalf("expected 1 author, got %d", len(m.Authors))
	}
	if m.Authors[0].Name != "C. Solo" || !m.Authors[0].Corresponding {
		t.Errorf("bare string must become a single corresponding author: %+v", m.Authors[0])
	}
	if m.Status != StatusDraft {
		t.Errorf("empty legacy status must default to draft, got %q", m.Status)
	}
}

func TestEnrichCoercesStringArrayAuthors(t *testing.T) {
	s := setupTestStore(t)

	m, err := s.EnrichFromLegacy("jphys", "leg2", LegacyRecord{
		Title:   "Legacy Paper",
		Authors: []string{"First Author", "Second Author", "Third Author"},
	})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(m.Authors) != 3 {
		t.Fatalf("expected 3 authors, got %d", len(m.Authors))
	}
	if !m.Authors[0].Corresponding {
		t.Error("first author of a string array must be corresponding")
	}
	if m.Authors[1].Corresponding || m.Authors[2].Corresponding {
		t.Error("only the first author may be corresponding")
	}
	// Order preserved.
	if m.Authors[1].Name != "Second Author" {
		t.Errorf("author order lost: %+v", m.Authors)
	}
}

func TestEnrichPassesThroughStructuredAuthors(t *testing.T) {
	s := setupTestStore(t)

	authors := []Author{
		{Name: "X. Yu", Corresponding: false},
		{Name: "Z. Qi", Corresponding: true, Affiliation: "Inst."},
	}
	m, err := s.EnrichFromLegacy("jphys", "leg3", LegacyRecord{Title: "T", Authors: authors})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(m.Authors) != 2 || m.Authors[0].Corresponding || !m.Authors[1].Corresponding {
		t.Errorf("structured authors must pass through unchanged: %+v", m.Authors)
	}
}

func TestEnrichCoercesJSONDecodedAuthors(t *testing.T) {
	s := setupTestStore(t)

	// What a legacy JSON blob looks like after a generic decode.
	raw := []any{
		map[string]any{"name": "Mapped Author", "email": "m@example.org", "corresponding": true},
		"Plain Name",
	}
	m, err := s.EnrichFromLegacy("jphys", "leg4", LegacyRecord{Title: "T", Authors: raw})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(m.Authors) != 2 {
		t.Fatalf("expected 2 authors, got %d", len(m.Authors))
	}
	if m.Authors[0].Email != "m@example.org" || !m.Authors[0].Corresponding {
		t.Errorf("structured map element mishandled: %+v", m.Authors[0])
	}
	if m.Authors[1].Name != "Plain Name" {
		t.Errorf("string element mishandled: %+v", m.Authors[1])
	}
}

func TestEnrichPreservesExistingFilesBlock(t *testing.T) {
	s := setupTestStore(t)

	existing := sampleMetadata()
	existing.Files.Main = &FileReference{AssetID: "abc123", Filename: "main.pdf"}
	existing.CurrentVersion = "v2"
	if err := s.Save(existing); err != nil {
		t.Fatalf("save: %v", err)
	}

	m, err := s.EnrichFromLegacy("jphys", "art1", LegacyRecord{
		Title:   "Refreshed Title",
		Authors: "Someone New",
	})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if m.Files.Main == nil || m.Files.Main.AssetID != "abc123" {
		t.Error("enrich must not lose the existing files block")
	}
	if m.CurrentVersion != "v2" {
		t.Error("enrich must not lose the current version pointer")
	}
	if m.Title != "Refreshed Title" {
		t.Error("legacy title must win")
	}
}

func TestEnrichRejectsUnsupportedShape(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.EnrichFromLegacy("jphys", "leg5", LegacyRecord{Authors: 42}); err == nil {
		t.Error("expected error for unsupported authors shape")
	}
}
