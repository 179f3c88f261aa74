// Package version maintains the ordered, append-only version history of each
// article, with exactly one version marked current at any time. The current
// version is also exposed on disk as a "current" symlink into the
// version-named content directory.
package version

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openpress/pubstore/internal/logging"
	"github.com/openpress/pubstore/internal/storage"
)

// ErrNotFound is returned when a requested version does not exist.
var ErrNotFound = fmt.Errorf("version not found")

// Metadata describes one version of an article. Version tokens are of the
// form v1, v2, ...; sort order is descending by the numeric suffix, not by
// timestamp.
type Metadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Changes   []string  `json:"changes,omitempty"`
	IsCurrent bool      `json:"isCurrent"`
}

// Manager owns the per-article version list files and the current pointer.
// It is the only component permitted to flip IsCurrent.
type Manager struct {
	resolver *storage.Resolver
	mu       sync.Mutex // Serializes all history read-modify-write cycles
}

// NewManager creates a version Manager over the given storage layout.
func NewManager(resolver *storage.Resolver) (*Manager, error) {
	versionsDir := filepath.Join(resolver.Root(), "versions")
	if err := os.MkdirAll(versionsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating versions directory: %w", err)
	}
	return &Manager{resolver: resolver}, nil
}

// numericSuffix parses the numeric part of a version token ("v12" -> 12).
// Tokens without a parsable number sort as 0, i.e. oldest.
func numericSuffix(token string) int {
	trimmed := strings.TrimLeftFunc(token, func(r rune) bool {
		return r < '0' || r > '9'
	})
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return n
}

// sortHistory orders versions newest-first by numeric suffix.
func sortHistory(history []Metadata) {
	sort.SliceStable(history, func(i, j int) bool {
		return numericSuffix(history[i].Version) > numericSuffix(history[j].Version)
	})
}

// loadHistory reads an article's version list. A missing file means no
// versions yet, not an error.
func (m *Manager) loadHistory(articleID string) ([]Metadata, string, error) {
	path, err := m.resolver.VersionHistoryPath(articleID)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, path, nil
		}
		return nil, path, fmt.Errorf("reading version history %s: %w", path, err)
	}
	var history []Metadata
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, path, fmt.Errorf("parsing version history %s: %w", path, err)
	}
	return history, path, nil
}

// saveHistory persists an article's version list, newest first.
func (m *Manager) saveHistory(path string, history []Metadata) error {
	sortHistory(history)
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling version history: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing version history %s: %w", path, err)
	}
	return nil
}

// Create appends a new version, marks it current and demotes the previous
// current version. The new version's content directory is created and the
// current pointer relinked to it.
func (m *Manager) Create(journalID, articleID, createdBy, reason string, changes []string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, path, err := m.loadHistory(articleID)
	if err != nil {
		return Metadata{}, err
	}

	next := 1
	for i := range history {
		if n := numericSuffix(history[i].Version); n >= next {
			next = n + 1
		}
		history[i].IsCurrent = false
	}

	v := Metadata{
		Version:   fmt.Sprintf("v%d", next),
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
		Reason:    reason,
		Changes:   changes,
		IsCurrent: true,
	}
	history = append(history, v)

	versionDir, err := m.resolver.VersionDir(journalID, articleID, v.Version)
	if err != nil {
		return Metadata{}, err
	}
	if err := os.MkdirAll(versionDir, 0755); err != nil {
		return Metadata{}, fmt.Errorf("creating version directory %s: %w", versionDir, err)
	}

	if err := m.saveHistory(path, history); err != nil {
		return Metadata{}, err
	}
	if err := m.relink(journalID, articleID, v.Version); err != nil {
		log.Printf("ERROR: Failed to update current pointer for %s/%s: %v", journalID, articleID, err)
		return Metadata{}, err
	}

	log.Printf("INFO: Created version %s for article %s/%s", v.Version, journalID, articleID)
	return v, nil
}

// SetCurrent marks exactly targetVersion as current among the existing
// versions and repoints the current indirection at its directory. A
// non-existent version fails with ErrNotFound and performs no mutation.
func (m *Manager) SetCurrent(journalID, articleID, targetVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, path, err := m.loadHistory(articleID)
	if err != nil {
		return err
	}

	found := false
	for i := range history {
		if history[i].Version == targetVersion {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("article %s version %s: %w", articleID, targetVersion, ErrNotFound)
	}

	for i := range history {
		history[i].IsCurrent = history[i].Version == targetVersion
	}
	if err := m.saveHistory(path, history); err != nil {
		return err
	}
	if err := m.relink(journalID, articleID, targetVersion); err != nil {
		return err
	}

	log.Printf("INFO: Current version of %s/%s set to %s", journalID, articleID, targetVersion)
	return nil
}

// Rollback restores targetVersion as the current version. It is SetCurrent
// with existence validation spelled out at the call site.
func (m *Manager) Rollback(journalID, articleID, targetVersion string) error {
	return m.SetCurrent(journalID, articleID, targetVersion)
}

// Archive physically relocates a superseded version's content directory to
// the archive area. Fails if the version directory does not exist on disk.
func (m *Manager) Archive(journalID, articleID, targetVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versionDir, err := m.resolver.VersionDir(journalID, articleID, targetVersion)
	if err != nil {
		return err
	}
	if _, err := os.Stat(versionDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("article %s version %s: %w", articleID, targetVersion, ErrNotFound)
		}
		return fmt.Errorf("checking version directory %s: %w", versionDir, err)
	}

	if cur, err := m.currentLocked(articleID); err == nil && cur.Version == targetVersion {
		log.Printf("WARN: Archiving current version %s of %s/%s; current pointer will dangle until rollback", targetVersion, journalID, articleID)
	}

	archiveDir, err := m.resolver.ArchiveDir(journalID, articleID, targetVersion)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(archiveDir), 0755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	if err := os.Rename(versionDir, archiveDir); err != nil {
		return fmt.Errorf("archiving %s to %s: %w", versionDir, archiveDir, err)
	}

	log.Printf("INFO: Archived version %s of %s/%s to %s", targetVersion, journalID, articleID, archiveDir)
	return nil
}

// List returns an article's versions, newest first. Empty slice when the
// article has no versions yet.
func (m *Manager) List(articleID string) ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, _, err := m.loadHistory(articleID)
	if err != nil {
		return nil, err
	}
	sortHistory(history)
	return history, nil
}

// Current returns the version currently marked current for an article.
func (m *Manager) Current(articleID string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(articleID)
}

func (m *Manager) currentLocked(articleID string) (Metadata, error) {
	history, _, err := m.loadHistory(articleID)
	if err != nil {
		return Metadata{}, err
	}
	for _, v := range history {
		if v.IsCurrent {
			return v, nil
		}
	}
	return Metadata{}, fmt.Errorf("article %s current version: %w", articleID, ErrNotFound)
}

// relink points the "current" symlink at the given version directory.
func (m *Manager) relink(journalID, articleID, targetVersion string) error {
	link, err := m.resolver.CurrentLink(journalID, articleID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return fmt.Errorf("creating article content directory: %w", err)
	}
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("removing old current pointer %s: %w", link, err)
		}
	}
	// Relative target keeps the tree relocatable.
	if err := os.Symlink(targetVersion, link); err != nil {
		return fmt.Errorf("linking current pointer %s -> %s: %w", link, targetVersion, err)
	}
	logging.Debug("Current pointer %s -> %s", link, targetVersion)
	return nil
}
