package article

import (
	"fmt"
	"time"
)

// LegacyRecord is the loosely-typed shape older records arrive in. Authors
// may be a bare string, an array of name strings, or an array of structured
// author objects.
type LegacyRecord struct {
	Title     string     `json:"title"`
	Abstract  string     `json:"abstract"`
	Authors   any        `json:"authors"`
	Keywords  []string   `json:"keywords"`
	DOI       string     `json:"doi"`
	Status    string     `json:"status"`
	Published *time.Time `json:"publishedDate"`
}

// EnrichFromLegacy migrates a legacy record into the structured model and
// saves it under (journalID, articleID). Author coercion rules: a bare
// string becomes a single corresponding author; a string array becomes
// ordered authors with the first marked corresponding; an already-structured
// author array passes through unchanged.
func (s *Store) EnrichFromLegacy(journalID, articleID string, legacy LegacyRecord) (*Metadata, error) {
	authors, err := coerceAuthors(legacy.Authors)
	if err != nil {
		return nil, err
	}

	status := Status(legacy.Status)
	if legacy.Status == "" {
		status = StatusDraft
	}

	m := &Metadata{
		ID:            articleID,
		JournalID:     journalID,
		Title:         legacy.Title,
		Abstract:      legacy.Abstract,
		Authors:       authors,
		Keywords:      legacy.Keywords,
		DOI:           legacy.DOI,
		Status:        status,
		PublishedDate: legacy.Published,
	}

	// Preserve fields the legacy shape does not carry if a structured record
	// already exists for this key.
	if existing, err := s.Load(journalID, articleID); err == nil {
		m.Files = existing.Files
		m.VersionHistory = existing.VersionHistory
		m.CurrentVersion = existing.CurrentVersion
		m.CreatedAt = existing.CreatedAt
	}

	if err := s.Save(m); err != nil {
		return nil, err
	}
	return m, nil
}

// coerceAuthors normalizes the three legacy author shapes.
func coerceAuthors(raw any) ([]Author, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []Author{{Name: v, Corresponding: true}}, nil
	case []string:
		out := make([]Author, 0, len(v))
		for i, name := range v {
			out = append(out, Author{Name: name, Corresponding: i == 0})
		}
		return out, nil
	case []Author:
		return v, nil
	case []any:
		// JSON-decoded arrays arrive as []any; elements are either strings
		// or structured objects.
		out := make([]Author, 0, len(v))
		for i, el := range v {
			switch a := el.(type) {
			case string:
				out = append(out, Author{Name: a, Corresponding: i == 0})
			case map[string]any:
				author := Author{}
				if name, ok := a["name"].(string); ok {
					author.Name = name
				}
				if email, ok := a["email"].(string); ok {
					author.Email = email
				}
				if aff, ok := a["affiliation"].(string); ok {
					author.Affiliation = aff
				}
				if orcid, ok := a["orcid"].(string); ok {
					author.ORCID = orcid
				}
				if corr, ok := a["corresponding"].(bool); ok {
					author.Corresponding = corr
				}
				out = append(out, author)
			default:
				return nil, fmt.Errorf("unsupported author element type %T", el)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported authors shape %T", raw)
	}
}
