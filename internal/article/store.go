// Package article persists one structured metadata record per article under
// articles/<journal>/<article>.json. The Store is the single writer for
// these records.
package article

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/openpress/pubstore/internal/logging"
	"github.com/openpress/pubstore/internal/storage"
)

// ErrNotFound is returned when no record exists for a (journal, article) key.
var ErrNotFound = fmt.Errorf("article metadata not found")

// Store reads and writes per-article metadata records. Records are small and
// read fresh from disk on every load; writes serialize through mu plus a
// cross-process advisory lock.
type Store struct {
	resolver *storage.Resolver
	mu       sync.Mutex
	fileLock *flock.Flock
}

// NewStore creates a metadata Store over the given storage layout.
func NewStore(resolver *storage.Resolver) (*Store, error) {
	articlesRoot := resolver.ArticlesRoot()
	if err := os.MkdirAll(articlesRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating articles directory: %w", err)
	}
	return &Store{
		resolver: resolver,
		fileLock: flock.New(filepath.Join(articlesRoot, ".lock")),
	}, nil
}

// Load returns the metadata record for (journalID, articleID), or
// ErrNotFound.
func (s *Store) Load(journalID, articleID string) (*Metadata, error) {
	path, err := s.resolver.ArticleRecordPath(journalID, articleID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("article %s/%s: %w", journalID, articleID, ErrNotFound)
		}
		return nil, fmt.Errorf("reading article record %s: %w", path, err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing article record %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the full record, overwriting any previous contents.
func (s *Store) Save(m *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(m)
}

// saveLocked writes the record. Caller must hold s.mu.
func (s *Store) saveLocked(m *Metadata) error {
	if m.ID == "" || m.JournalID == "" {
		return fmt.Errorf("article metadata requires id and journalId")
	}
	path, err := s.resolver.ArticleRecordPath(m.JournalID, m.ID)
	if err != nil {
		return err
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling article record: %w", err)
	}

	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("locking article store: %w", err)
	}
	defer s.fileLock.Unlock()

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing article record %s: %w", path, err)
	}
	logging.Debug("Saved article record %s/%s", m.JournalID, m.ID)
	return nil
}

// Update applies a partial change via load-merge-save. Fails with
// ErrNotFound if the record does not exist. The whole read-modify-write
// cycle runs under the store mutex so concurrent partial updates of one
// record never merge from stale reads.
func (s *Store) Update(journalID, articleID string, u Update) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Load(journalID, articleID)
	if err != nil {
		return nil, err
	}

	if u.Title != nil {
		m.Title = *u.Title
	}
	if u.Abstract != nil {
		m.Abstract = *u.Abstract
	}
	if u.Authors != nil {
		m.Authors = u.Authors
	}
	if u.Keywords != nil {
		m.Keywords = u.Keywords
	}
	if u.DOI != nil {
		m.DOI = *u.DOI
	}
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.Files != nil {
		m.Files = *u.Files
	}
	if u.VersionHistory != nil {
		m.VersionHistory = u.VersionHistory
	}
	if u.CurrentVersion != nil {
		m.CurrentVersion = *u.CurrentVersion
	}
	if u.PublishedDate != nil {
		m.PublishedDate = u.PublishedDate
	}

	if err := s.saveLocked(m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadAll walks every journal directory and returns all parseable records.
// Malformed records are logged and skipped so one corrupt file never blocks
// the rest.
func (s *Store) LoadAll() []Metadata {
	root := s.resolver.ArticlesRoot()
	journals, err := os.ReadDir(root)
	if err != nil {
		log.Printf("WARN: Cannot scan articles root %s: %v", root, err)
		return nil
	}

	var out []Metadata
	for _, j := range journals {
		if !j.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, j.Name()))
		if err != nil {
			log.Printf("WARN: Cannot scan journal directory %s: %v", j.Name(), err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			path := filepath.Join(root, j.Name(), e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				log.Printf("WARN: Cannot read article record %s: %v", path, err)
				continue
			}
			var m Metadata
			if err := json.Unmarshal(data, &m); err != nil {
				logging.Debug("Skipping malformed article record %s: %v", path, err)
				continue
			}
			out = append(out, m)
		}
	}
	return out
}
