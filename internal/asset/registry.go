// Package asset implements the central catalog of binary assets (article
// files, figures, datasets, shared media). It computes content identity,
// deduplicates byte-identical uploads and records which journal/article
// contexts reference each asset.
package asset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/openpress/pubstore/internal/logging"
	"github.com/openpress/pubstore/internal/storage"
)

// ErrNotFound is returned when an asset id does not resolve.
var ErrNotFound = fmt.Errorf("asset not found")

// AlgorithmSHA256 is the only content checksum algorithm currently
// supported. The config's checksum_algorithm field selects it explicitly so
// stored "<algorithm>:<hex>" tags stay meaningful if another is ever added.
const AlgorithmSHA256 = "sha256"

// idTokenLen is the width of the derived asset id token (hex chars).
const idTokenLen = 16

// Registry manages the asset catalog. The in-memory maps are the
// write-through cache; registry.json and usage.json on disk are the durable
// snapshots, rewritten after every successful mutation.
type Registry struct {
	resolver  *storage.Resolver
	algorithm string
	mu        sync.RWMutex
	assets    map[string]*Reference // Keyed by asset ID
	usage     []UsageEntry          // Append-only usage log

	registryPath string
	usagePath    string
	auditPath    string
	fileLock     *flock.Flock // Advisory lock shared with other processes
}

// NewRegistry creates a Registry and loads existing state from disk. Corrupt
// or missing state files are logged and skipped; they never prevent startup.
// algorithm selects the content checksum; empty means AlgorithmSHA256.
func NewRegistry(resolver *storage.Resolver, algorithm string) (*Registry, error) {
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}
	if algorithm != AlgorithmSHA256 {
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
	r := &Registry{
		resolver:     resolver,
		algorithm:    algorithm,
		assets:       make(map[string]*Reference),
		registryPath: resolver.RegistryPath(),
		usagePath:    resolver.UsageLogPath(),
		auditPath:    resolver.AuditLogPath(),
	}
	if err := os.MkdirAll(filepath.Dir(r.registryPath), 0755); err != nil {
		return nil, fmt.Errorf("creating assets directory: %w", err)
	}
	r.fileLock = flock.New(r.registryPath + ".lock")

	r.loadRegistry()
	r.loadUsage()
	return r, nil
}

// loadRegistry reads registry.json into the in-memory map.
func (r *Registry) loadRegistry() {
	data, err := os.ReadFile(r.registryPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("ERROR: Failed to read asset registry %s: %v. Starting empty.", r.registryPath, err)
		}
		return
	}
	var refs []Reference
	if err := json.Unmarshal(data, &refs); err != nil {
		log.Printf("ERROR: Failed to parse asset registry %s: %v. Starting empty.", r.registryPath, err)
		return
	}
	for i := range refs {
		if refs[i].ID == "" {
			log.Printf("WARN: Skipping registry entry with empty id (path: %s)", refs[i].Path)
			continue
		}
		r.assets[refs[i].ID] = &refs[i]
	}
	log.Printf("INFO: Loaded %d asset references from %s", len(r.assets), r.registryPath)
}

// loadUsage reads the append-only usage log.
func (r *Registry) loadUsage() {
	data, err := os.ReadFile(r.usagePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("ERROR: Failed to read usage log %s: %v. Starting empty.", r.usagePath, err)
		}
		return
	}
	if err := json.Unmarshal(data, &r.usage); err != nil {
		log.Printf("ERROR: Failed to parse usage log %s: %v. Starting empty.", r.usagePath, err)
		r.usage = nil
		return
	}
	logging.Debug("Loaded %d usage entries from %s", len(r.usage), r.usagePath)
}

// Checksum streams filePath through the named hash and returns the
// algorithm-tagged digest plus the exact byte count hashed. An empty
// algorithm means AlgorithmSHA256.
func Checksum(algorithm, filePath string) (string, int64, error) {
	var h hash.Hash
	switch algorithm {
	case AlgorithmSHA256, "":
		algorithm = AlgorithmSHA256
		h = sha256.New()
	default:
		return "", 0, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s for checksum: %w", filePath, err)
	}
	defer f.Close()

	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", filePath, err)
	}
	return algorithm + ":" + hex.EncodeToString(h.Sum(nil)), n, nil
}

// DeriveID produces the stable content-addressed asset id from the dedup key
// plus the original filename, truncated to a fixed-width token.
func DeriveID(checksum string, size int64, filename string) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%d|%s", checksum, size, filename)))
	return hex.EncodeToString(sum[:])[:idTokenLen]
}

// Register computes the content identity of filePath and either links an
// existing byte-identical asset to the supplied context or persists a new
// Reference. Dedup is authoritative: no duplicate (checksum, size) pair is
// ever registered. Returns the asset id either way.
func (r *Registry) Register(ctx context.Context, filePath string, t Type, meta FileMetadata, shared bool, journalID, articleID string) (string, error) {
	checksum, size, err := Checksum(r.algorithm, filePath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findByContentLocked(checksum, size); existing != nil {
		logging.Debug("Dedup hit for %s: existing asset %s", filePath, existing.ID)
		if journalID != "" {
			if err := r.linkLocked(existing, UsageContext{JournalID: journalID, ArticleID: articleID, Role: roleForType(t)}); err != nil {
				return "", err
			}
		}
		r.appendAudit("DEDUP_HIT", existing.ID, meta.UploadedBy, fmt.Sprintf("duplicate of %s", meta.OriginalName))
		return existing.ID, nil
	}

	if meta.OriginalName == "" {
		meta.OriginalName = filepath.Base(filePath)
	}
	if meta.Filename == "" {
		meta.Filename = filepath.Base(filePath)
	}
	meta.Checksum = checksum
	meta.Size = size
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now().UTC()
	}

	id := DeriveID(checksum, size, meta.OriginalName)
	ext := filepath.Ext(meta.OriginalName)

	var storagePath string
	if shared {
		storagePath, err = r.resolver.SharedAssetPath(categoryFor(t), id, ext)
	} else {
		if journalID == "" || articleID == "" {
			return "", fmt.Errorf("non-shared asset requires journal and article ids")
		}
		storagePath, err = r.resolver.ArticleAssetPath(journalID, articleID, id, ext)
	}
	if err != nil {
		return "", err
	}

	ref := &Reference{
		ID:        id,
		Type:      t,
		Path:      storagePath,
		Metadata:  meta,
		JournalID: journalID,
		ArticleID: articleID,
		Shared:    shared,
		CreatedAt: time.Now().UTC(),
	}

	// Persist before committing to the map: a failed write must leave the
	// in-memory registry unchanged.
	r.assets[id] = ref
	if err := r.persistRegistryLocked(); err != nil {
		delete(r.assets, id)
		return "", fmt.Errorf("persisting registry after registering %s: %w", id, err)
	}

	if journalID != "" {
		r.usage = append(r.usage, UsageEntry{
			ID:       uuid.New(),
			AssetID:  id,
			Context:  UsageContext{JournalID: journalID, ArticleID: articleID, Role: roleForType(t)},
			LinkedAt: time.Now().UTC(),
		})
		if err := r.persistUsageLocked(); err != nil {
			log.Printf("WARN: Failed to persist usage log after registering %s: %v", id, err)
		}
	}

	r.appendAudit("REGISTER", id, meta.UploadedBy, meta.OriginalName)
	log.Printf("INFO: Registered asset %s (%s, %d bytes, shared=%v)", id, meta.OriginalName, size, shared)
	return id, nil
}

// roleForType maps an asset type to the usage role implied by registration.
func roleForType(t Type) Role {
	switch t {
	case TypeArticle, TypeDocument:
		return RoleMain
	case TypeFigure, TypeImage:
		return RoleFigure
	case TypeDataset:
		return RoleDataset
	default:
		return RoleSupplementary
	}
}

// findByContentLocked scans for an entry with equal (checksum, size).
func (r *Registry) findByContentLocked(checksum string, size int64) *Reference {
	for _, ref := range r.assets {
		if ref.Metadata.Checksum == checksum && ref.Metadata.Size == size {
			return ref
		}
	}
	return nil
}

// Get returns the Reference for id, or ErrNotFound.
func (r *Registry) Get(id string) (*Reference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	cp := *ref
	return &cp, nil
}

// Find returns all assets matching every provided predicate in q.
func (r *Registry) Find(q Query) []Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Reference
	search := strings.ToLower(q.Search)
	for _, ref := range r.assets {
		if q.Type != "" && ref.Type != q.Type {
			continue
		}
		if q.JournalID != "" && ref.JournalID != q.JournalID {
			continue
		}
		if q.ArticleID != "" && ref.ArticleID != q.ArticleID {
			continue
		}
		if q.Shared != nil && ref.Shared != *q.Shared {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(ref.Metadata.OriginalName), search) &&
			!strings.Contains(strings.ToLower(ref.ID), search) {
			continue
		}
		out = append(out, *ref)
	}
	return out
}

// All returns a copy of every registry entry.
func (r *Registry) All() []Reference {
	return r.Find(Query{})
}

// Link attaches an asset to a usage context. The asset's primary
// journal/article pointer keeps the original last-writer-wins overwrite
// semantics rather than accumulating; the usage log is what accumulates.
func (r *Registry) Link(assetID string, uc UsageContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.assets[assetID]
	if !ok {
		return fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	if err := r.linkLocked(ref, uc); err != nil {
		return err
	}
	r.appendAudit("LINK", assetID, "", fmt.Sprintf("%s/%s (%s)", uc.JournalID, uc.ArticleID, uc.Role))
	return nil
}

func (r *Registry) linkLocked(ref *Reference, uc UsageContext) error {
	prevJournal, prevArticle := ref.JournalID, ref.ArticleID
	ref.JournalID = uc.JournalID
	ref.ArticleID = uc.ArticleID
	if err := r.persistRegistryLocked(); err != nil {
		ref.JournalID, ref.ArticleID = prevJournal, prevArticle
		return fmt.Errorf("persisting registry after linking %s: %w", ref.ID, err)
	}

	r.usage = append(r.usage, UsageEntry{
		ID:       uuid.New(),
		AssetID:  ref.ID,
		Context:  uc,
		LinkedAt: time.Now().UTC(),
	})
	if err := r.persistUsageLocked(); err != nil {
		log.Printf("WARN: Failed to persist usage log after linking %s: %v", ref.ID, err)
	}
	return nil
}

// DetectDuplicate recomputes the digest of filePath and returns the existing
// Reference with the same (checksum, size), or nil when the content is new.
func (r *Registry) DetectDuplicate(filePath string) (*Reference, error) {
	checksum, size, err := Checksum(r.algorithm, filePath)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref := r.findByContentLocked(checksum, size); ref != nil {
		cp := *ref
		return &cp, nil
	}
	return nil, nil
}

// UsageFor aggregates every usage context recorded for assetID.
func (r *Registry) UsageFor(assetID string) Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u := Usage{AssetID: assetID}
	for _, entry := range r.usage {
		if entry.AssetID != assetID {
			continue
		}
		u.Contexts = append(u.Contexts, entry.Context)
		if u.LastUsed == nil || entry.LinkedAt.After(*u.LastUsed) {
			t := entry.LinkedAt
			u.LastUsed = &t
		}
	}
	return u
}

// UsageCount returns the total number of recorded usage contexts.
func (r *Registry) UsageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.usage)
}

// persistRegistryLocked writes the full registry snapshot to disk under the
// cross-process advisory lock. Caller must hold r.mu.
func (r *Registry) persistRegistryLocked() error {
	refs := make([]Reference, 0, len(r.assets))
	for _, ref := range r.assets {
		refs = append(refs, *ref)
	}
	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling asset registry: %w", err)
	}

	if err := r.fileLock.Lock(); err != nil {
		return fmt.Errorf("locking asset registry: %w", err)
	}
	defer r.fileLock.Unlock()

	if err := os.WriteFile(r.registryPath, data, 0644); err != nil {
		return fmt.Errorf("writing asset registry %s: %w", r.registryPath, err)
	}
	return nil
}

// persistUsageLocked writes the usage log. Caller must hold r.mu.
func (r *Registry) persistUsageLocked() error {
	data, err := json.MarshalIndent(r.usage, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling usage log: %w", err)
	}
	if err := os.WriteFile(r.usagePath, data, 0644); err != nil {
		return fmt.Errorf("writing usage log %s: %w", r.usagePath, err)
	}
	return nil
}

// appendAudit records a registry mutation in the audit log. Audit failures
// are logged, never propagated. Caller must hold r.mu.
func (r *Registry) appendAudit(action, assetID, actor, detail string) {
	var entries []AuditEntry
	if data, err := os.ReadFile(r.auditPath); err == nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			log.Printf("WARN: Corrupt audit log %s, starting fresh: %v", r.auditPath, err)
			entries = nil
		}
	}
	entries = append(entries, AuditEntry{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		AssetID:   assetID,
		Actor:     actor,
		Detail:    detail,
	})
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		log.Printf("WARN: Failed to marshal audit log: %v", err)
		return
	}
	if err := os.WriteFile(r.auditPath, data, 0644); err != nil {
		log.Printf("WARN: Failed to write audit log %s: %v", r.auditPath, err)
	}
}
