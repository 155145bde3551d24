package store

import (
	"context"
	"slices"
	"sync"

	"counsel/api/internal/domain"
)

// MemoryStore keeps everything in process. It backs local development when
// no DATABASE_URL is configured, and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
	edits     map[string][]Edit
	comments  map[string]Comment
	byDoc     map[string][]string
	replies   map[string][]Reply
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: map[string]Document{},
		edits:     map[string][]Edit{},
		comments:  map[string]Comment{},
		byDoc:     map[string][]string{},
		replies:   map[string][]Reply{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateDocument(_ context.Context, doc Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return Document{}, &domain.ValidationError{Message: "document " + doc.ID + " already exists", Fields: map[string]string{"id": "duplicate"}}
	}
	doc.Revision = 0
	doc.UpdatedAt = doc.CreatedAt
	doc.Content = slices.Clone(doc.Content)
	s.documents[doc.ID] = doc
	return doc, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return Document{}, domain.NotFound("document", id)
	}
	return doc, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, ownerID string, limit int) ([]Document, error) {
	s.mu.RLock()
	docs := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if ownerID != "" && doc.OwnerID != ownerID {
			continue
		}
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	slices.SortFunc(docs, func(a, b Document) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *MemoryStore) CommitEdit(_ context.Context, commit EditCommit) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[commit.DocumentID]
	if !ok {
		return Document{}, domain.NotFound("document", commit.DocumentID)
	}
	if doc.Revision != commit.ExpectedRevision {
		return Document{}, &domain.ConflictError{
			DocumentID:       commit.DocumentID,
			ExpectedRevision: commit.ExpectedRevision,
			CurrentRevision:  doc.Revision,
		}
	}
	doc.Revision++
	doc.Content = slices.Clone(commit.Content)
	doc.Text = commit.Text
	doc.UpdatedAt = commit.Edit.CreatedAt
	s.documents[doc.ID] = doc

	edit := commit.Edit
	edit.DocumentID = doc.ID
	edit.Revision = doc.Revision
	s.edits[doc.ID] = append(s.edits[doc.ID], edit)
	return doc, nil
}

func (s *MemoryStore) EditsSince(_ context.Context, documentID string, revision int64) ([]Edit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edit, 0)
	for _, e := range s.edits[documentID] {
		if e.Revision > revision {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateComment(_ context.Context, comment Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[comment.DocumentID]; !ok {
		return Comment{}, domain.NotFound("document", comment.DocumentID)
	}
	if _, ok := s.comments[comment.ID]; ok {
		return Comment{}, &domain.ValidationError{Message: "comment " + comment.ID + " already exists", Fields: map[string]string{"id": "duplicate"}}
	}
	comment.Replies = nil
	s.comments[comment.ID] = comment
	s.byDoc[comment.DocumentID] = append(s.byDoc[comment.DocumentID], comment.ID)
	comment.Replies = []Reply{}
	return comment, nil
}

func (s *MemoryStore) GetComment(_ context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return Comment{}, domain.NotFound("comment", id)
	}
	return s.withReplies(c), nil
}

func (s *MemoryStore) withReplies(c Comment) Comment {
	c.Replies = append([]Reply{}, s.replies[c.ID]...)
	return c
}

func (s *MemoryStore) ListComments(_ context.Context, documentID string, after *CommentCursor, limit int) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]Comment, 0, len(s.byDoc[documentID]))
	for _, id := range s.byDoc[documentID] {
		all = append(all, s.comments[id])
	}
	slices.SortStableFunc(all, func(a, b Comment) int {
		switch {
		case b.Before(CommentCursor{CreatedAt: a.CreatedAt, ID: a.ID}):
			return -1
		case a.Before(CommentCursor{CreatedAt: b.CreatedAt, ID: b.ID}):
			return 1
		}
		return 0
	})

	out := make([]Comment, 0)
	for _, c := range all {
		if after != nil && !c.Before(*after) {
			continue
		}
		out = append(out, s.withReplies(c))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteComment(_ context.Context, documentID, commentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok || c.DocumentID != documentID {
		return domain.NotFound("comment", commentID)
	}
	delete(s.comments, commentID)
	delete(s.replies, commentID)
	s.byDoc[documentID] = slices.DeleteFunc(s.byDoc[documentID], func(id string) bool { return id == commentID })
	return nil
}

func (s *MemoryStore) AddReply(_ context.Context, reply Reply) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[reply.CommentID]; !ok {
		return Reply{}, domain.NotFound("comment", reply.CommentID)
	}
	s.replies[reply.CommentID] = append(s.replies[reply.CommentID], reply)
	return reply, nil
}

func (s *MemoryStore) ListReplies(_ context.Context, commentID string) ([]Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.comments[commentID]; !ok {
		return nil, domain.NotFound("comment", commentID)
	}
	return append([]Reply{}, s.replies[commentID]...), nil
}
