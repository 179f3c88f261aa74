// Package storage maps logical publishing-store coordinates (journal,
// article, version, shared asset category) to physical filesystem paths.
// All functions are pure path math over a fixed data root; nothing here
// touches the disk.
package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolver resolves logical locations under a single data root directory.
type Resolver struct {
	root string // Absolute or relative base directory for all persisted state
}

// NewResolver creates a Resolver rooted at dataPath.
func NewResolver(dataPath string) *Resolver {
	return &Resolver{root: filepath.Clean(dataPath)}
}

// Root returns the data root directory.
func (r *Resolver) Root() string {
	return r.root
}

// checkComponent rejects identifiers that could escape the data root when
// joined into a path (separators, traversal, empty). Same defence as the
// filename checks in the upload handling code.
func checkComponent(name, what string) error {
	if name == "" {
		return fmt.Errorf("empty %s identifier", what)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.Contains(name, "..") {
		return fmt.Errorf("invalid %s identifier %q", what, name)
	}
	return nil
}

// ArticleRecordPath returns the path of the per-article metadata record.
func (r *Resolver) ArticleRecordPath(journalID, articleID string) (string, error) {
	if err := checkComponent(journalID, "journal"); err != nil {
		return "", err
	}
	if err := checkComponent(articleID, "article"); err != nil {
		return "", err
	}
	return filepath.Join(r.root, "articles", journalID, articleID+".json"), nil
}

// ArticlesRoot returns the directory scanned during index rebuilds.
func (r *Resolver) ArticlesRoot() string {
	return filepath.Join(r.root, "articles")
}

// RegistryPath returns the path of the asset registry file.
func (r *Resolver) RegistryPath() string {
	return filepath.Join(r.root, "assets", "registry.json")
}

// UsageLogPath returns the path of the append-only asset usage log.
func (r *Resolver) UsageLogPath() string {
	return filepath.Join(r.root, "assets", "usage.json")
}

// AuditLogPath returns the path of the registry audit log.
func (r *Resolver) AuditLogPath() string {
	return filepath.Join(r.root, "assets", "audit.json")
}

// VersionHistoryPath returns the path of an article's version history file.
func (r *Resolver) VersionHistoryPath(articleID string) (string, error) {
	if err := checkComponent(articleID, "article"); err != nil {
		return "", err
	}
	return filepath.Join(r.root, "versions", articleID+"-versions.json"), nil
}

// SharedAssetPath returns the storage location for a shared asset,
// partitioned by category (image, dataset, ...). ext includes the dot and
// may be empty.
func (r *Resolver) SharedAssetPath(category, assetID, ext string) (string, error) {
	if err := checkComponent(category, "category"); err != nil {
		return "", err
	}
	if err := checkComponent(assetID, "asset"); err != nil {
		return "", err
	}
	ext = filepath.Ext("x" + ext) // normalize: keep only a real extension
	return filepath.Join(r.root, "shared", category, assetID+ext), nil
}

// ArticleAssetPath returns the storage location for an asset scoped to a
// single article.
func (r *Resolver) ArticleAssetPath(journalID, articleID, assetID, ext string) (string, error) {
	dir, err := r.ArticleContentDir(journalID, articleID)
	if err != nil {
		return "", err
	}
	if err := checkComponent(assetID, "asset"); err != nil {
		return "", err
	}
	ext = filepath.Ext("x" + ext)
	return filepath.Join(dir, "assets", assetID+ext), nil
}

// ArticleContentDir returns the root of an article's version-partitioned
// content tree.
func (r *Resolver) ArticleContentDir(journalID, articleID string) (string, error) {
	if err := checkComponent(journalID, "journal"); err != nil {
		return "", err
	}
	if err := checkComponent(articleID, "article"); err != nil {
		return "", err
	}
	return filepath.Join(r.root, "journals", journalID, "articles", articleID), nil
}

// VersionDir returns the content directory of one version of an article.
func (r *Resolver) VersionDir(journalID, articleID, version string) (string, error) {
	dir, err := r.ArticleContentDir(journalID, articleID)
	if err != nil {
		return "", err
	}
	if err := checkComponent(version, "version"); err != nil {
		return "", err
	}
	return filepath.Join(dir, version), nil
}

// CurrentLink returns the path of the "current" pointer, resolved via
// directory indirection (a symlink to the active version directory).
func (r *Resolver) CurrentLink(journalID, articleID string) (string, error) {
	dir, err := r.ArticleContentDir(journalID, articleID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "current"), nil
}

// ArchiveDir returns the destination directory for an archived version.
func (r *Resolver) ArchiveDir(journalID, articleID, version string) (string, error) {
	if err := checkComponent(journalID, "journal"); err != nil {
		return "", err
	}
	if err := checkComponent(articleID, "article"); err != nil {
		return "", err
	}
	if err := checkComponent(version, "version"); err != nil {
		return "", err
	}
	return filepath.Join(r.root, "archive", journalID, articleID, version), nil
}

// WithinRoot reports whether path stays inside the data root once cleaned.
// Callers use this as a final guard before touching the filesystem.
func (r *Resolver) WithinRoot(path string) bool {
	absRoot, err := filepath.Abs(r.root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return absPath == absRoot || strings.HasPrefix(absPath, absRoot+string(filepath.Separator))
}
