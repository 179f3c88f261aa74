package asset

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what an asset is used as, which also selects the shared
// storage category partition.
type Type string

const (
	TypeArticle  Type = "article"
	TypeImage    Type = "image"
	TypeFigure   Type = "figure"
	TypeDataset  Type = "dataset"
	TypeMedia    Type = "media"
	TypeDocument Type = "document"
)

// Role describes how an asset is referenced from an article or journal.
type Role string

const (
	RoleMain          Role = "main"
	RoleSupplementary Role = "supplementary"
	RoleFigure        Role = "figure"
	RoleDataset       Role = "dataset"
	RoleCover         Role = "cover"
	RoleLogo          Role = "logo"
)

// FileMetadata describes the stored bytes of an asset. Checksum plus Size is
// the deduplication key: two assets with equal (checksum, size) are the same
// content and map to one Reference.
type FileMetadata struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"` // Algorithm-tagged, e.g. "sha256:<hex>"
	UploadedAt   time.Time `json:"uploadedAt"`
	UploadedBy   string    `json:"uploadedBy,omitempty"`
	Version      string    `json:"version,omitempty"`
}

// Reference is a registry entry for one deduplicated binary asset. ID is a
// deterministic function of checksum + size + original filename, so
// byte-identical uploads always resolve to the same ID.
type Reference struct {
	ID        string       `json:"id"`
	Type      Type         `json:"type"`
	Path      string       `json:"path"`
	URL       string       `json:"url,omitempty"`
	Metadata  FileMetadata `json:"metadata"`
	JournalID string       `json:"journalId,omitempty"` // Current primary linkage
	ArticleID string       `json:"articleId,omitempty"`
	Shared    bool         `json:"shared"` // Eligible for cross-article reuse
	CreatedAt time.Time    `json:"createdAt"`
}

// UsageContext is one (journal, article, role) tuple referencing an asset.
type UsageContext struct {
	JournalID string `json:"journalId"`
	ArticleID string `json:"articleId,omitempty"`
	Role      Role   `json:"context"`
}

// UsageEntry is one append-only record in the usage log.
type UsageEntry struct {
	ID       uuid.UUID    `json:"id"`
	AssetID  string       `json:"assetId"`
	Context  UsageContext `json:"context"`
	LinkedAt time.Time    `json:"linkedAt"`
}

// Usage aggregates every context that references a given asset.
type Usage struct {
	AssetID  string         `json:"assetId"`
	Contexts []UsageContext `json:"contexts"`
	LastUsed *time.Time     `json:"lastUsed,omitempty"`
}

// AuditEntry records one registry mutation for the audit trail.
type AuditEntry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"` // "REGISTER", "LINK", "DEDUP_HIT"
	AssetID   string    `json:"assetId"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Query filters FindAssets results. All provided predicates AND together.
type Query struct {
	Type      Type
	JournalID string
	ArticleID string
	Shared    *bool
	Search    string // Case-insensitive substring over original filename and id
}

// categoryFor maps an asset type to its shared storage partition.
func categoryFor(t Type) string {
	switch t {
	case TypeImage, TypeFigure:
		return "images"
	case TypeDataset:
		return "datasets"
	case TypeMedia:
		return "media"
	case TypeArticle, TypeDocument:
		return "documents"
	default:
		return "misc"
	}
}
