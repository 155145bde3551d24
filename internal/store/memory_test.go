package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counsel/api/internal/anchor"
	"counsel/api/internal/domain"
)

func seedDocument(t *testing.T, s *MemoryStore, id string) Document {
	t.Helper()
	doc, err := s.CreateDocument(context.Background(), Document{
		ID:        id,
		Title:     "Lease",
		Content:   []byte(`{"type":"doc","content":[{"type":"paragraph"}]}`),
		OwnerID:   "usr_1",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return doc
}

func TestMemoryCommitEditCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedDocument(t, s, "doc_1")

	doc, err := s.CommitEdit(ctx, EditCommit{DocumentID: "doc_1", ExpectedRevision: 0, Text: "a", Edit: Edit{Op: anchor.Insert(0, "a"), AuthorID: "usr_1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Revision)

	_, err = s.CommitEdit(ctx, EditCommit{DocumentID: "doc_1", ExpectedRevision: 0, Edit: Edit{Op: anchor.Insert(0, "b")}})
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.CurrentRevision)

	edits, err := s.EditsSince(ctx, "doc_1", 0)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, int64(1), edits[0].Revision)

	_, err = s.CommitEdit(ctx, EditCommit{DocumentID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryListCommentsNewestFirstWithCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedDocument(t, s, "doc_1")
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"cmt_a", "cmt_b", "cmt_c"} {
		_, err := s.CreateComment(ctx, Comment{ID: id, DocumentID: "doc_1", Body: id, Anchor: anchor.Anchor{Start: 0, End: 1}, CreatedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	first, err := s.ListComments(ctx, "doc_1", nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "cmt_c", first[0].ID)
	assert.Equal(t, "cmt_b", first[1].ID)

	last := first[1]
	rest, err := s.ListComments(ctx, "doc_1", &CommentCursor{CreatedAt: last.CreatedAt, ID: last.ID}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "cmt_a", rest[0].ID)
}

func TestMemoryDeleteCommentCascadesReplies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedDocument(t, s, "doc_1")

	_, err := s.CreateComment(ctx, Comment{ID: "cmt_1", DocumentID: "doc_1", Body: "x", CreatedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.AddReply(ctx, Reply{ID: "rpl_1", CommentID: "cmt_1", Body: "y"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteComment(ctx, "doc_1", "cmt_1"))
	_, err = s.ListReplies(ctx, "cmt_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.AddReply(ctx, Reply{ID: "rpl_2", CommentID: "cmt_1", Body: "late"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteComment(ctx, "doc_1", "cmt_1"), domain.ErrNotFound)
}

func TestMemoryCommentRequiresDocument(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateComment(context.Background(), Comment{ID: "cmt_1", DocumentID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryListDocumentsScopesToOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedDocument(t, s, "doc_1")
	_, err := s.CreateDocument(ctx, Document{ID: "doc_2", Title: "NDA", Content: []byte(`{"type":"doc"}`), OwnerID: "usr_2"})
	require.NoError(t, err)

	mine, err := s.ListDocuments(ctx, "usr_1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "doc_1", mine[0].ID)

	all, err := s.ListDocuments(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
