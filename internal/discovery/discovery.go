// Package discovery is a read-mostly query layer over the asset registry
// that adds usage statistics, popularity ranking and keyword-based
// suggestion.
package discovery

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openpress/pubstore/internal/asset"
)

// DiscoveredAsset is a registry entry decorated with usage data.
type DiscoveredAsset struct {
	Asset      asset.Reference `json:"asset"`
	UsageCount int             `json:"usageCount"`
	LastUsed   *time.Time      `json:"lastUsed,omitempty"`
	Journals   []string        `json:"journals,omitempty"`
	Articles   []string        `json:"articles,omitempty"`
}

// Stats summarizes the registry for dashboards.
type Stats struct {
	TotalAssets   int                `json:"totalAssets"`
	SharedAssets  int                `json:"sharedAssets"`
	ByType        map[asset.Type]int `json:"byType"`
	UsageContexts int                `json:"usageContexts"`
}

// Service composes the registry with its usage log.
type Service struct {
	registry *asset.Registry
}

// NewService creates a discovery Service over a registry.
func NewService(registry *asset.Registry) *Service {
	return &Service{registry: registry}
}

// decorate builds a DiscoveredAsset from a registry entry.
func (s *Service) decorate(ref asset.Reference) DiscoveredAsset {
	usage := s.registry.UsageFor(ref.ID)

	journalSet := make(map[string]bool)
	articleSet := make(map[string]bool)
	for _, uc := range usage.Contexts {
		if uc.JournalID != "" {
			journalSet[uc.JournalID] = true
		}
		if uc.ArticleID != "" {
			articleSet[uc.ArticleID] = true
		}
	}

	d := DiscoveredAsset{
		Asset:      ref,
		UsageCount: len(usage.Contexts),
		LastUsed:   usage.LastUsed,
	}
	for j := range journalSet {
		d.Journals = append(d.Journals, j)
	}
	for a := range articleSet {
		d.Articles = append(d.Articles, a)
	}
	sort.Strings(d.Journals)
	sort.Strings(d.Articles)
	return d
}

// Discover filters assets by q, sorts by usage count descending and applies
// limit (0 = no limit).
func (s *Service) Discover(q asset.Query, limit int) []DiscoveredAsset {
	refs := s.registry.Find(q)
	out := make([]DiscoveredAsset, 0, len(refs))
	for _, ref := range refs {
		out = append(out, s.decorate(ref))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UsageCount > out[j].UsageCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Shared returns shared assets, optionally restricted to one journal.
func (s *Service) Shared(journalID string) []DiscoveredAsset {
	shared := true
	return s.Discover(asset.Query{Shared: &shared, JournalID: journalID}, 0)
}

// ForArticle returns the assets referenced by one article.
func (s *Service) ForArticle(journalID, articleID string) []DiscoveredAsset {
	return s.Discover(asset.Query{JournalID: journalID, ArticleID: articleID}, 0)
}

// ByType returns all assets of one type, usage-ranked.
func (s *Service) ByType(t asset.Type) []DiscoveredAsset {
	return s.Discover(asset.Query{Type: t}, 0)
}

// Popular returns the most-used assets, up to limit.
func (s *Service) Popular(limit int) []DiscoveredAsset {
	if limit <= 0 {
		limit = 10
	}
	return s.Discover(asset.Query{}, limit)
}

// Recent returns assets with a recorded use, most recent first, up to limit.
func (s *Service) Recent(limit int) []DiscoveredAsset {
	if limit <= 0 {
		limit = 10
	}
	all := s.Discover(asset.Query{}, 0)
	var out []DiscoveredAsset
	for _, d := range all {
		if d.LastUsed != nil {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUsed.After(*out[j].LastUsed)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Suggest scores assets by keyword occurrences in their storage path and
// original filename. Only strictly positive scores are returned.
func (s *Service) Suggest(keywords []string, limit int) []DiscoveredAsset {
	if limit <= 0 {
		limit = 5
	}
	var needles []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			needles = append(needles, kw)
		}
	}
	if len(needles) == 0 {
		return nil
	}

	type scored struct {
		d     DiscoveredAsset
		score int
	}
	var candidates []scored
	for _, ref := range s.registry.All() {
		haystack := strings.ToLower(ref.Path) + " " + strings.ToLower(ref.Metadata.OriginalName)
		score := 0
		for _, kw := range needles {
			if strings.Contains(haystack, kw) {
				score++
			}
			// Basename matches count double: the filename is the strongest
			// signal of what an asset is.
			if strings.Contains(strings.ToLower(filepath.Base(ref.Path)), kw) {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{d: s.decorate(ref), score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]DiscoveredAsset, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.d)
	}
	return out
}

// AssetStats returns total/shared counts, a type histogram and the aggregate
// usage-context count.
func (s *Service) AssetStats() Stats {
	stats := Stats{ByType: make(map[asset.Type]int)}
	for _, ref := range s.registry.All() {
		stats.TotalAssets++
		if ref.Shared {
			stats.SharedAssets++
		}
		stats.ByType[ref.Type]++
	}
	stats.UsageContexts = s.registry.UsageCount()
	return stats
}
