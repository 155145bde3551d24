package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"counsel/api/internal/anchor"
	"counsel/api/internal/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const documentColumns = `id, title, content, content_text, revision, owner_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var content []byte
	if err := row.Scan(&doc.ID, &doc.Title, &content, &doc.Text, &doc.Revision, &doc.OwnerID, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	doc.Content = content
	return doc, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content, content_text, revision, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
		RETURNING `+documentColumns,
		doc.ID, doc.Title, []byte(doc.Content), doc.Text, doc.OwnerID, doc.CreatedAt)
	created, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", wrapUnique(err, "document", doc.ID))
	}
	return created, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, domain.NotFound("document", id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the most recently updated documents, only ownerID's
// when it is set.
func (s *PostgresStore) ListDocuments(ctx context.Context, ownerID string, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE ($1::text = '' OR owner_id = $1)
		ORDER BY updated_at DESC, id DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CommitEdit swaps content and revision only while the stored revision still
// equals the expected one, and appends the log entry in the same transaction.
func (s *PostgresStore) CommitEdit(ctx context.Context, commit EditCommit) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin edit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE documents
		SET content=$1, content_text=$2, revision=revision+1, updated_at=$3
		WHERE id=$4 AND revision=$5
		RETURNING `+documentColumns,
		[]byte(commit.Content), commit.Text, commit.Edit.CreatedAt, commit.DocumentID, commit.ExpectedRevision)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		var current int64
		lookupErr := tx.QueryRowContext(ctx, `SELECT revision FROM documents WHERE id=$1`, commit.DocumentID).Scan(&current)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return Document{}, domain.NotFound("document", commit.DocumentID)
		}
		if lookupErr != nil {
			return Document{}, fmt.Errorf("read revision: %w", lookupErr)
		}
		return Document{}, &domain.ConflictError{
			DocumentID:       commit.DocumentID,
			ExpectedRevision: commit.ExpectedRevision,
			CurrentRevision:  current,
		}
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}

	op := commit.Edit.Op
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_edits (document_id, revision, kind, op_offset, op_text, op_length, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.Revision, string(op.Kind), op.Offset, op.Text, op.Length, commit.Edit.AuthorID, commit.Edit.CreatedAt); err != nil {
		return Document{}, fmt.Errorf("append edit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit edit: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) EditsSince(ctx context.Context, documentID string, revision int64) ([]Edit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, revision, kind, op_offset, op_text, op_length, author_id, created_at
		FROM document_edits
		WHERE document_id=$1 AND revision > $2
		ORDER BY revision ASC
	`, documentID, revision)
	if err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	defer rows.Close()

	edits := make([]Edit, 0)
	for rows.Next() {
		var e Edit
		var kind string
		if err := rows.Scan(&e.DocumentID, &e.Revision, &kind, &e.Op.Offset, &e.Op.Text, &e.Op.Length, &e.AuthorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		e.Op.Kind = anchor.Kind(kind)
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

const commentColumns = `id, document_id, author_id, author_name, body, anchor_start, anchor_end, anchor_revision, created_at`

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.DocumentID, &c.AuthorID, &c.AuthorName, &c.Body, &c.Anchor.Start, &c.Anchor.End, &c.Anchor.Revision, &c.CreatedAt)
	return c, err
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, document_id, author_id, author_name, body, anchor_start, anchor_end, anchor_revision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+commentColumns,
		comment.ID, comment.DocumentID, comment.AuthorID, comment.AuthorName, comment.Body,
		comment.Anchor.Start, comment.Anchor.End, comment.Anchor.Revision, comment.CreatedAt)
	created, err := scanComment(row)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return Comment{}, domain.NotFound("document", comment.DocumentID)
		}
		return Comment{}, fmt.Errorf("insert comment: %w", wrapUnique(err, "comment", comment.ID))
	}
	created.Replies = []Reply{}
	return created, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, domain.NotFound("comment", id)
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	replies, err := s.repliesFor(ctx, []string{c.ID})
	if err != nil {
		return Comment{}, err
	}
	c.Replies = replies[c.ID]
	if c.Replies == nil {
		c.Replies = []Reply{}
	}
	return c, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string, after *CommentCursor, limit int) ([]Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE document_id=$1`
	args := []any{documentID}
	if after != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, after.CreatedAt, after.ID)
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	ids := make([]string, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	if len(ids) == 0 {
		return comments, nil
	}

	replies, err := s.repliesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range comments {
		comments[i].Replies = replies[comments[i].ID]
		if comments[i].Replies == nil {
			comments[i].Replies = []Reply{}
		}
	}
	return comments, nil
}

func (s *PostgresStore) repliesFor(ctx context.Context, commentIDs []string) (map[string][]Reply, error) {
	placeholders := make([]string, len(commentIDs))
	args := make([]any, len(commentIDs))
	for i, id := range commentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, comment_id, author_id, author_name, body, created_at
		FROM comment_replies
		WHERE comment_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Reply, len(commentIDs))
	for rows.Next() {
		var r Reply
		if err := rows.Scan(&r.ID, &r.CommentID, &r.AuthorID, &r.AuthorName, &r.Body, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		out[r.CommentID] = append(out[r.CommentID], r)
	}
	return out, rows.Err()
}

// DeleteComment removes the comment and its replies in one transaction.
func (s *PostgresStore) DeleteComment(ctx context.Context, documentID, commentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comment_replies WHERE comment_id=$1`, commentID); err != nil {
		return fmt.Errorf("delete replies: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id=$1 AND document_id=$2`, commentID, documentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("comment", commentID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddReply(ctx context.Context, reply Reply) (Reply, error) {
	var r Reply
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comment_replies (id, comment_id, author_id, author_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, comment_id, author_id, author_name, body, created_at
	`, reply.ID, reply.CommentID, reply.AuthorID, reply.AuthorName, reply.Body, reply.CreatedAt).
		Scan(&r.ID, &r.CommentID, &r.AuthorID, &r.AuthorName, &r.Body, &r.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return Reply{}, domain.NotFound("comment", reply.CommentID)
		}
		return Reply{}, fmt.Errorf("insert reply: %w", wrapUnique(err, "reply", reply.ID))
	}
	return r, nil
}

func (s *PostgresStore) ListReplies(ctx context.Context, commentID string) ([]Reply, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM comments WHERE id=$1)`, commentID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check comment: %w", err)
	}
	if !exists {
		return nil, domain.NotFound("comment", commentID)
	}
	replies, err := s.repliesFor(ctx, []string{commentID})
	if err != nil {
		return nil, err
	}
	if replies[commentID] == nil {
		return []Reply{}, nil
	}
	return replies[commentID], nil
}
