package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"kbpulse/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
)

// ArticleStore persists ingested articles. Upsert is keyed by the article's
// stable id, so re-fetching a page overwrites rather than duplicates.
type ArticleStore interface {
	Upsert(ctx context.Context, article *model.Article) error
	Get(ctx context.Context, id uuid.UUID) (*model.Article, error)
	ListBySource(ctx context.Context, sourceID string) ([]model.Article, error)
	CountBySource(ctx context.Context, sourceID string) (int64, error)
}

// SourceStore is the durable backing for the source registry's fields.
type SourceStore interface {
	SaveSource(ctx context.Context, src *model.DataSource) error
	LoadSources(ctx context.Context) ([]model.DataSource, error)
}
