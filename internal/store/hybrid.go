package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kbpulse/internal/model"
)

// HybridStore keeps article metadata and source state in Redis (fast, small)
// and heavy article bodies in Badger. Pass badgerPath="" to run without
// content storage (CLI status commands don't need bodies).
type HybridStore struct {
	rdb *redis.Client
	db  *badger.DB
}

func NewHybridStore(redisAddr string, badgerPath string) (*HybridStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var db *badger.DB
	var err error

	if badgerPath != "" {
		opts := badger.DefaultOptions(badgerPath)
		opts.Logger = nil // Silence default logger
		db, err = badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
	}

	return &HybridStore{rdb: rdb, db: db}, nil
}

// Close cleans up connections
func (s *HybridStore) Close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func articleKey(id uuid.UUID) string       { return "article:" + id.String() }
func sourceSetKey(sourceID string) string  { return "source:" + sourceID + ":articles" }
func sourceConfKey(sourceID string) string { return "sourceconf:" + sourceID }

// Upsert writes metadata to Redis and the body to Badger, and records the
// article in its source's membership set.
func (s *HybridStore) Upsert(ctx context.Context, article *model.Article) error {
	meta := *article
	meta.Content = ""

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, articleKey(article.ID), data, 0)
	pipe.SAdd(ctx, sourceSetKey(article.SourceID), article.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if article.Content != "" {
		if s.db == nil {
			return fmt.Errorf("cannot save content: badgerdb is not initialized")
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(article.ID.String()), []byte(article.Content))
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Get combines data: metadata from Redis + content from Badger.
func (s *HybridStore) Get(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	val, err := s.rdb.Get(ctx, articleKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var article model.Article
	if err := json.Unmarshal(val, &article); err != nil {
		return nil, err
	}

	if s.db != nil {
		err = s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(id.String()))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				article.Content = string(val)
				return nil
			})
		})

		if err != nil && err != badger.ErrKeyNotFound {
			return nil, err
		}
	}

	return &article, nil
}

// ListBySource returns metadata (no bodies) for every article owned by a source.
func (s *HybridStore) ListBySource(ctx context.Context, sourceID string) ([]model.Article, error) {
	ids, err := s.rdb.SMembers(ctx, sourceSetKey(sourceID)).Result()
	if err != nil {
		return nil, err
	}

	var articles []model.Article
	for _, idStr := range ids {
		val, err := s.rdb.Get(ctx, articleKey(uuid.MustParse(idStr))).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, err
		}

		var a model.Article
		if err := json.Unmarshal(val, &a); err == nil {
			articles = append(articles, a)
		}
	}

	return articles, nil
}

// CountBySource reports how many articles a source currently owns.
func (s *HybridStore) CountBySource(ctx context.Context, sourceID string) (int64, error) {
	return s.rdb.SCard(ctx, sourceSetKey(sourceID)).Result()
}

// SaveSource persists the registry's view of one source.
func (s *HybridStore) SaveSource(ctx context.Context, src *model.DataSource) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, sourceConfKey(src.ID), data, 0)
	pipe.SAdd(ctx, "sources", src.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// LoadSources returns every persisted source.
func (s *HybridStore) LoadSources(ctx context.Context) ([]model.DataSource, error) {
	ids, err := s.rdb.SMembers(ctx, "sources").Result()
	if err != nil {
		return nil, err
	}

	var sources []model.DataSource
	for _, id := range ids {
		val, err := s.rdb.Get(ctx, sourceConfKey(id)).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, err
		}

		var src model.DataSource
		if err := json.Unmarshal(val, &src); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	return sources, nil
}
