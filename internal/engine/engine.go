// Package engine constructs the publishing storage components once at
// process start and exposes the upload pipeline that threads them together:
// register asset -> advance version -> update metadata -> refresh the search
// index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/openpress/pubstore/internal/article"
	"github.com/openpress/pubstore/internal/asset"
	"github.com/openpress/pubstore/internal/config"
	"github.com/openpress/pubstore/internal/discovery"
	"github.com/openpress/pubstore/internal/scheduler"
	"github.com/openpress/pubstore/internal/search"
	"github.com/openpress/pubstore/internal/storage"
	"github.com/openpress/pubstore/internal/version"
)

// Engine owns one instance of every store. Components are plain injected
// state, never process-wide singletons, so tests can run many engines side
// by side.
type Engine struct {
	Config    config.EngineConfig
	Resolver  *storage.Resolver
	Assets    *asset.Registry
	Articles  *article.Store
	Versions  *version.Manager
	Index     *search.Index
	Discovery *discovery.Service

	watcher *search.Watcher
}

// New builds an Engine over cfg.DataPath.
func New(cfg config.EngineConfig) (*Engine, error) {
	resolver := storage.NewResolver(cfg.DataPath)

	registry, err := asset.NewRegistry(resolver, cfg.ChecksumAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("initializing asset registry: %w", err)
	}
	store, err := article.NewStore(resolver)
	if err != nil {
		return nil, fmt.Errorf("initializing metadata store: %w", err)
	}
	versions, err := version.NewManager(resolver)
	if err != nil {
		return nil, fmt.Errorf("initializing version manager: %w", err)
	}

	e := &Engine{
		Config:    cfg,
		Resolver:  resolver,
		Assets:    registry,
		Articles:  store,
		Versions:  versions,
		Index:     search.NewIndex(resolver, cfg.SearchDefaultLimit),
		Discovery: discovery.NewService(registry),
	}

	if cfg.WatchArticles {
		w, err := search.NewWatcher(resolver.ArticlesRoot(), e.Index)
		if err != nil {
			log.Printf("WARN: Article watcher unavailable, falling back to explicit reindex: %v", err)
		} else {
			e.watcher = w
		}
	}

	return e, nil
}

// Close releases the engine's background resources.
func (e *Engine) Close() {
	if e.watcher != nil {
		e.watcher.Stop()
	}
}

// UploadParams describes one incoming file for an article.
type UploadParams struct {
	JournalID  string
	ArticleID  string
	FilePath   string // Local path of the uploaded bytes
	Type       asset.Type
	Role       asset.Role
	Shared     bool
	Title      string // Used when the article record does not exist yet
	UploadedBy string
	Reason     string
}

// UploadResult reports what the pipeline did.
type UploadResult struct {
	AssetID  string
	Version  version.Metadata
	Metadata *article.Metadata
}

// PublishUpload runs the full pipeline for one uploaded file: the registry
// deduplicates and catalogs the bytes, the version manager advances the
// article's current version, the metadata record gains the new file
// reference and version pointers, and the index is marked for rebuild.
func (e *Engine) PublishUpload(ctx context.Context, p UploadParams) (UploadResult, error) {
	var res UploadResult
	if p.JournalID == "" || p.ArticleID == "" {
		return res, fmt.Errorf("upload requires journal and article ids")
	}
	if p.Role == "" {
		p.Role = asset.RoleMain
	}
	if p.Type == "" {
		p.Type = asset.TypeArticle
	}

	meta := asset.FileMetadata{
		OriginalName: filepath.Base(p.FilePath),
		UploadedBy:   p.UploadedBy,
	}
	assetID, err := e.Assets.Register(ctx, p.FilePath, p.Type, meta, p.Shared, p.JournalID, p.ArticleID)
	if err != nil {
		return res, fmt.Errorf("registering upload: %w", err)
	}
	res.AssetID = assetID

	ref, err := e.Assets.Get(assetID)
	if err != nil {
		return res, err
	}
	if err := e.placeBytes(p.FilePath, ref.Path); err != nil {
		return res, err
	}

	v, err := e.Versions.Create(p.JournalID, p.ArticleID, p.UploadedBy, p.Reason, []string{ref.Metadata.OriginalName})
	if err != nil {
		return res, fmt.Errorf("creating version: %w", err)
	}
	res.Version = v

	m, err := e.upsertMetadata(p, ref)
	if err != nil {
		return res, err
	}
	res.Metadata = m

	e.Index.MarkDirty()
	log.Printf("INFO: Upload published: %s/%s asset=%s version=%s", p.JournalID, p.ArticleID, assetID, v.Version)
	return res, nil
}

// placeBytes copies the uploaded file to the asset's storage location unless
// identical bytes are already there (dedup hit).
func (e *Engine) placeBytes(srcPath, dstPath string) error {
	if !e.Resolver.WithinRoot(dstPath) {
		return fmt.Errorf("asset path %s escapes data root", dstPath)
	}
	if _, err := os.Stat(dstPath); err == nil {
		return nil // already stored
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("creating asset directory: %w", err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening upload %s: %w", srcPath, err)
	}
	defer src.Close()
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("creating asset file %s: %w", dstPath, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("storing asset bytes: %w", err)
	}
	return nil
}

// upsertMetadata attaches the file reference and fresh version pointers to
// the article record, creating the record on first submission.
func (e *Engine) upsertMetadata(p UploadParams, ref *asset.Reference) (*article.Metadata, error) {
	m, err := e.Articles.Load(p.JournalID, p.ArticleID)
	if err != nil {
		m = &article.Metadata{
			ID:        p.ArticleID,
			JournalID: p.JournalID,
			Title:     p.Title,
			Status:    article.StatusSubmitted,
		}
	}

	fr := article.FileReference{
		AssetID:  ref.ID,
		Filename: ref.Metadata.OriginalName,
		MimeType: ref.Metadata.MimeType,
		Size:     ref.Metadata.Size,
	}
	switch p.Role {
	case asset.RoleMain:
		m.Files.Main = &fr
	case asset.RoleFigure:
		m.Files.Figures = append(m.Files.Figures, fr)
	case asset.RoleDataset:
		m.Files.Datasets = append(m.Files.Datasets, fr)
	default:
		m.Files.Supplementary = append(m.Files.Supplementary, fr)
	}

	if err := e.syncVersions(m); err != nil {
		return nil, err
	}
	if err := e.Articles.Save(m); err != nil {
		return nil, err
	}
	return m, nil
}

// syncVersions mirrors the version manager's history and current pointer
// into the article record.
func (e *Engine) syncVersions(m *article.Metadata) error {
	history, err := e.Versions.List(m.ID)
	if err != nil {
		return fmt.Errorf("reading version history: %w", err)
	}
	m.VersionHistory = history
	m.CurrentVersion = ""
	for _, v := range history {
		if v.IsCurrent {
			m.CurrentVersion = v.Version
			break
		}
	}
	return nil
}

// Rollback restores targetVersion as current and refreshes the article
// record's version pointers.
func (e *Engine) Rollback(journalID, articleID, targetVersion string) error {
	if err := e.Versions.Rollback(journalID, articleID, targetVersion); err != nil {
		return err
	}
	m, err := e.Articles.Load(journalID, articleID)
	if err != nil {
		if errors.Is(err, article.ErrNotFound) {
			// No metadata record yet; the version state alone is authoritative.
			return nil
		}
		return fmt.Errorf("loading article record for rollback: %w", err)
	}
	if err := e.syncVersions(m); err != nil {
		return err
	}
	if err := e.Articles.Save(m); err != nil {
		return err
	}
	e.Index.MarkDirty()
	return nil
}

// MaintenanceTasks returns the task registry handed to the scheduler.
func (e *Engine) MaintenanceTasks() map[string]scheduler.TaskFunc {
	return map[string]scheduler.TaskFunc{
		"reindex": func(ctx context.Context) error {
			return e.Index.Rebuild(ctx)
		},
		"verify-assets": func(ctx context.Context) error {
			return e.VerifyAssets(ctx)
		},
	}
}

// VerifyAssets checks that every registry entry's stored bytes still exist
// on disk and logs any that are missing.
func (e *Engine) VerifyAssets(ctx context.Context) error {
	missing := 0
	for _, ref := range e.Assets.All() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("asset verification canceled: %w", err)
		}
		if _, err := os.Stat(ref.Path); err != nil {
			log.Printf("WARN: Asset %s missing on disk at %s", ref.ID, ref.Path)
			missing++
		}
	}
	if missing > 0 {
		log.Printf("WARN: Asset verification found %d missing files", missing)
	} else {
		log.Printf("INFO: Asset verification OK (%d assets)", len(e.Assets.All()))
	}
	return nil
}
