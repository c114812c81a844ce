package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"zackhub/api/internal/store"
)

// RecordLoader supplies every comment for a full reindex.
type RecordLoader interface {
	LoadRecords(ctx context.Context) ([]CommentRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to a
// store-backed searcher.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger.Named("search")}
}

// Search tries Meilisearch if healthy, otherwise the fallback. Only the
// fallback's errors are returned.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
		}
		s.logger.Warn("meilisearch error, falling back", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}, nil
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		return Response{Results: []Result{}, Query: q.Text}, fmt.Errorf("search comments: %w", err)
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(c store.Comment) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromComment(c)
	go func() {
		if err := s.meili.IndexComments([]CommentRecord{record}); err != nil {
			s.logger.Warn("index comment", zap.String("comment_id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteComments removes comments from the search index (fire-and-forget).
func (s *Service) DeleteComments(ids ...string) {
	if s == nil || s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	ids = append([]string(nil), ids...)
	go func() {
		if err := s.meili.DeleteComments(ids); err != nil {
			s.logger.Warn("delete comments from index", zap.Int("count", len(ids)), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every record from loader into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context, loader RecordLoader) {
	if s.meili == nil || !s.meili.Healthy() || loader == nil {
		return
	}
	records, err := loader.LoadRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexComments(records); err != nil {
		s.logger.Warn("reindex comments", zap.Error(err))
		return
	}
	s.logger.Info("reindexed comments", zap.Int("count", len(records)))
}

// Healthy reports whether any searcher can currently serve queries.
func (s *Service) Healthy() bool {
	if s.meili != nil && s.meili.Healthy() {
		return true
	}
	return s.fallback != nil && s.fallback.Healthy()
}

// Close stops the Meilisearch health loop.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
