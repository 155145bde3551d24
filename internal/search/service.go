package search

import (
	"context"
	"log/slog"

	"counsel/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// secondary searcher (Postgres FTS, or the in-process index without a database).
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(_ context.Context, doc store.Document) {
	record := DocumentRecord{
		ID:       doc.ID,
		Title:    doc.Title,
		Content:  doc.Text,
		OwnerID:  doc.OwnerID,
		Revision: doc.Revision,
	}
	s.localIndex(func(ix Indexer) error { return ix.IndexDocument(record) })
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(record); err != nil {
			s.logger.Warn("index document", "document_id", doc.ID, "error", err)
		}
	}()
}

// IndexComment indexes a comment under its document's owner (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(_ context.Context, c store.Comment, ownerID string) {
	record := CommentRecord{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Body:       c.Body,
		AuthorName: c.AuthorName,
		OwnerID:    ownerID,
	}
	s.localIndex(func(ix Indexer) error { return ix.IndexComment(record) })
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(record); err != nil {
			s.logger.Warn("index comment", "comment_id", c.ID, "error", err)
		}
	}()
}

// RemoveComment removes a comment from the search index (fire-and-forget).
func (s *Service) RemoveComment(_ context.Context, id string) {
	s.localIndex(func(ix Indexer) error { return ix.DeleteComment(id) })
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			s.logger.Warn("delete comment from index", "comment_id", id, "error", err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(documents []DocumentRecord, comments []CommentRecord) {
	if !s.meiliReady() {
		return
	}
	if err := s.meili.IndexDocuments(documents); err != nil {
		s.logger.Warn("reindex documents", "error", err)
	}
	if err := s.meili.IndexComments(comments); err != nil {
		s.logger.Warn("reindex comments", "error", err)
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	pg, ok := s.fallback.(*PgFTS)
	if !ok || !s.meiliReady() {
		return
	}
	documents, comments, err := pg.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	s.ReindexAll(documents, comments)
	s.logger.Info("search reindexed", "documents", len(documents), "comments", len(comments))
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// localIndex writes through to a fallback that keeps its own index.
func (s *Service) localIndex(fn func(Indexer) error) {
	ix, ok := s.fallback.(Indexer)
	if !ok {
		return
	}
	if err := fn(ix); err != nil {
		s.logger.Warn("local index", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
