package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"counsel/api/internal/domain"
)

// Store is the persistence surface shared by PostgresStore and MemoryStore.
type Store interface {
	Ping(ctx context.Context) error

	CreateDocument(ctx context.Context, doc Document) (Document, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, ownerID string, limit int) ([]Document, error)
	// CommitEdit advances the document by one revision if it is still at
	// ExpectedRevision, otherwise it returns a *domain.ConflictError.
	CommitEdit(ctx context.Context, commit EditCommit) (Document, error)
	EditsSince(ctx context.Context, documentID string, revision int64) ([]Edit, error)

	CreateComment(ctx context.Context, comment Comment) (Comment, error)
	GetComment(ctx context.Context, id string) (Comment, error)
	// ListComments returns up to limit comments newest first, starting after cursor when set.
	ListComments(ctx context.Context, documentID string, after *CommentCursor, limit int) ([]Comment, error)
	DeleteComment(ctx context.Context, documentID, commentID string) error
	AddReply(ctx context.Context, reply Reply) (Reply, error)
	ListReplies(ctx context.Context, commentID string) ([]Reply, error)
}

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func wrapUnique(err error, resource, id string) error {
	if pgCode(err) == pgUniqueViolation {
		return &domain.ValidationError{
			Message: fmt.Sprintf("%s %s already exists", resource, id),
			Fields:  map[string]string{"id": "duplicate"},
		}
	}
	return err
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
