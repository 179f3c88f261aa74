package article

import (
	"time"

	"github.com/openpress/pubstore/internal/version"
)

// Status is the publication lifecycle state of an article. Articles are
// never physically deleted; they transition to StatusArchived instead.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusReview    Status = "review"
	StatusAccepted  Status = "accepted"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Author is one structured author entry.
type Author struct {
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Affiliation   string `json:"affiliation,omitempty"`
	ORCID         string `json:"orcid,omitempty"`
	Corresponding bool   `json:"corresponding,omitempty"`
}

// FileReference points at a registered asset from an article's files block.
type FileReference struct {
	AssetID  string `json:"assetId"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Files groups the file references attached to an article.
type Files struct {
	Main          *FileReference  `json:"main,omitempty"`
	Supplementary []FileReference `json:"supplementary,omitempty"`
	Figures       []FileReference `json:"figures,omitempty"`
	Datasets      []FileReference `json:"datasets,omitempty"`
}

// Metadata is the structured record persisted per article, keyed by
// (journal, article).
type Metadata struct {
	ID        string   `json:"id"`
	JournalID string   `json:"journalId"`
	Title     string   `json:"title"`
	Abstract  string   `json:"abstract,omitempty"`
	Authors   []Author `json:"authors,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	DOI       string   `json:"doi,omitempty"`
	Status    Status   `json:"status"`

	Files          Files              `json:"files"`
	VersionHistory []version.Metadata `json:"versionHistory,omitempty"`
	CurrentVersion string             `json:"currentVersion,omitempty"`

	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Update is a partial metadata change applied by Store.Update. Nil fields
// leave the stored value untouched.
type Update struct {
	Title          *string
	Abstract       *string
	Authors        []Author
	Keywords       []string
	DOI            *string
	Status         *Status
	Files          *Files
	VersionHistory []version.Metadata
	CurrentVersion *string
	PublishedDate  *time.Time
}
