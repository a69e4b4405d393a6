package model

import (
	"time"

	"github.com/google/uuid"
)

type PublicationStatus string

const (
	PublicationPublished PublicationStatus = "published"
	PublicationDraft     PublicationStatus = "draft"
	PublicationArchived  PublicationStatus = "archived"
)

// articleNamespace seeds uuid.NewSHA1 so article ids are stable across
// re-syncs: the same source + canonical URL always maps to the same id,
// which turns every re-fetch into an upsert instead of a duplicate.
var articleNamespace = uuid.MustParse("7f6d2c1a-9b3e-4d58-8a0f-5c4e1b2d3f60")

// Article is one ingested knowledge-base page.
type Article struct {
	ID                 uuid.UUID         `json:"id"`
	SourceID           string            `json:"source_id"`
	Title              string            `json:"title"`
	Content            string            `json:"content,omitempty"`
	Summary            string            `json:"summary"`
	URL                string            `json:"url"`
	Category           string            `json:"category"`
	Tags               []string          `json:"tags,omitempty"`
	Author             string            `json:"author,omitempty"`
	PublicationStatus  PublicationStatus `json:"publication_status"`
	ViewCount          int64             `json:"view_count"`
	HelpfulVotes       int64             `json:"helpful_votes"`
	LastModifiedAt     *time.Time        `json:"last_modified_at,omitempty"`
	LastReviewedAt     *time.Time        `json:"last_reviewed_at,omitempty"`
	ContentHealthScore *float64          `json:"content_health_score,omitempty"`
	FetchedAt          time.Time         `json:"fetched_at"`
}

// ArticleID derives the stable id for a canonical URL under a source.
func ArticleID(sourceID, canonicalURL string) uuid.UUID {
	return uuid.NewSHA1(articleNamespace, []byte(sourceID+"|"+canonicalURL))
}

// NewArticle creates an article shell for a freshly discovered page.
func NewArticle(sourceID, canonicalURL string) Article {
	return Article{
		ID:                ArticleID(sourceID, canonicalURL),
		SourceID:          sourceID,
		URL:               canonicalURL,
		PublicationStatus: PublicationPublished,
		FetchedAt:         time.Now(),
	}
}
