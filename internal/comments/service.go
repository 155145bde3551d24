// Package comments manages anchored comment threads on documents.
package comments

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"counsel/api/internal/anchor"
	"counsel/api/internal/domain"
	"counsel/api/internal/pubsub"
	"counsel/api/internal/store"
	"counsel/api/internal/util"
)

const (
	MaxBodyLength    = 10000
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

type Store interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	CreateComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, id string) (store.Comment, error)
	ListComments(ctx context.Context, documentID string, after *store.CommentCursor, limit int) ([]store.Comment, error)
	DeleteComment(ctx context.Context, documentID, commentID string) error
	AddReply(ctx context.Context, reply store.Reply) (store.Reply, error)
	ListReplies(ctx context.Context, commentID string) ([]store.Reply, error)
}

// Notifier receives an event after every successful mutation.
type Notifier interface {
	Notify(ctx context.Context, event pubsub.Event)
}

// Indexer keeps comment search in step with the store.
type Indexer interface {
	IndexComment(ctx context.Context, comment store.Comment, ownerID string)
	RemoveComment(ctx context.Context, commentID string)
}

// Author is the verified identity acting on a comment.
type Author struct {
	ID   string
	Name string
	// Moderator may delete comments written by others.
	Moderator bool
}

type CreateInput struct {
	DocumentID string `json:"documentId"`
	Author     Author `json:"-"`
	Body       string `json:"body"`
	Start      int    `json:"startIndex"`
	End        int    `json:"endIndex"`
	// Origin identifies the client connection, so its own event is not echoed back.
	Origin string `json:"-"`
}

type ReplyInput struct {
	CommentID string `json:"commentId"`
	Author    Author `json:"-"`
	Body      string `json:"body"`
	Origin    string `json:"-"`
}

type PageRequest struct {
	Cursor string
	Limit  int
}

type Page struct {
	Comments   []store.Comment `json:"comments"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

type Service struct {
	store    Store
	notifier Notifier
	indexer  Indexer
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(st Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// WithIndexer attaches a search indexer.
func (s *Service) WithIndexer(indexer Indexer) *Service {
	s.indexer = indexer
	return s
}

func validateBody(body *string) validation.Rule {
	return validation.By(func(any) error {
		if strings.TrimSpace(*body) == "" {
			return validation.NewError("validation_required", "cannot be blank")
		}
		if utf8.RuneCountInString(*body) > MaxBodyLength {
			return validation.NewError("validation_length_too_long", fmt.Sprintf("must be at most %d characters", MaxBodyLength))
		}
		return nil
	})
}

// CreateComment anchors a comment to [Start, End) of the document's current
// revision.
func (s *Service) CreateComment(ctx context.Context, in CreateInput) (store.Comment, error) {
	if err := domain.FromValidation(validation.ValidateStruct(&in,
		validation.Field(&in.DocumentID, validation.Required),
		validation.Field(&in.Body, validateBody(&in.Body)),
	)); err != nil {
		return store.Comment{}, err
	}
	if in.Author.ID == "" {
		return store.Comment{}, domain.Invalid("author", "author is required")
	}

	doc, err := s.store.GetDocument(ctx, in.DocumentID)
	if err != nil {
		return store.Comment{}, err
	}
	a := anchor.Anchor{Start: in.Start, End: in.End, Revision: doc.Revision}
	if err := anchor.Validate(a, utf8.RuneCountInString(doc.Text)); err != nil {
		return store.Comment{}, err
	}

	created, err := s.store.CreateComment(ctx, store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: doc.ID,
		AuthorID:   in.Author.ID,
		AuthorName: in.Author.Name,
		Body:       strings.TrimSpace(in.Body),
		Anchor:     a,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return store.Comment{}, fmt.Errorf("create comment: %w", err)
	}

	s.notify(ctx, pubsub.EventCommentCreated, created.DocumentID, in.Origin, created)
	if s.indexer != nil {
		s.indexer.IndexComment(ctx, created, doc.OwnerID)
	}
	return created, nil
}

// ListComments returns one page, newest first. Replies are oldest first.
func (s *Service) ListComments(ctx context.Context, documentID string, req PageRequest) (Page, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return Page{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	var after *store.CommentCursor
	if req.Cursor != "" {
		cur, err := DecodeCursor(req.Cursor)
		if err != nil {
			return Page{}, err
		}
		after = &cur
	}

	// Fetch one extra row to learn whether another page exists.
	rows, err := s.store.ListComments(ctx, documentID, after, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("list comments: %w", err)
	}
	page := Page{Comments: rows}
	if len(rows) > limit {
		page.Comments = rows[:limit]
		last := page.Comments[limit-1]
		page.NextCursor = EncodeCursor(store.CommentCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// All walks every comment of the document newest first, fetching pages as
// needed. The sequence can be ranged over more than once.
func (s *Service) All(ctx context.Context, documentID string) iter.Seq2[store.Comment, error] {
	return func(yield func(store.Comment, error) bool) {
		req := PageRequest{Limit: MaxPageLimit}
		for {
			page, err := s.ListComments(ctx, documentID, req)
			if err != nil {
				yield(store.Comment{}, err)
				return
			}
			for _, c := range page.Comments {
				if !yield(c, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			req.Cursor = page.NextCursor
		}
	}
}

func (s *Service) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	return s.store.GetComment(ctx, commentID)
}

func (s *Service) AddReply(ctx context.Context, in ReplyInput) (store.Reply, error) {
	if err := domain.FromValidation(validation.ValidateStruct(&in,
		validation.Field(&in.CommentID, validation.Required),
		validation.Field(&in.Body, validateBody(&in.Body)),
	)); err != nil {
		return store.Reply{}, err
	}
	if in.Author.ID == "" {
		return store.Reply{}, domain.Invalid("author", "author is required")
	}

	comment, err := s.store.GetComment(ctx, in.CommentID)
	if err != nil {
		return store.Reply{}, err
	}
	reply, err := s.store.AddReply(ctx, store.Reply{
		ID:         util.NewID("rpl"),
		CommentID:  comment.ID,
		AuthorID:   in.Author.ID,
		AuthorName: in.Author.Name,
		Body:       strings.TrimSpace(in.Body),
		CreatedAt:  s.now(),
	})
	if err != nil {
		return store.Reply{}, fmt.Errorf("add reply: %w", err)
	}

	s.notify(ctx, pubsub.EventCommentReplied, comment.DocumentID, in.Origin, map[string]any{
		"commentId": comment.ID,
		"reply":     reply,
	})
	return reply, nil
}

func (s *Service) ListReplies(ctx context.Context, commentID string) ([]store.Reply, error) {
	return s.store.ListReplies(ctx, commentID)
}

// DeleteComment removes a comment with its replies. Only the author or a
// moderator may delete.
func (s *Service) DeleteComment(ctx context.Context, documentID, commentID string, actor Author, origin string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.DocumentID != documentID {
		return domain.NotFound("comment", commentID)
	}
	if comment.AuthorID != actor.ID && !actor.Moderator {
		return &domain.ForbiddenError{Message: "only the author or a moderator can delete this comment"}
	}
	if err := s.store.DeleteComment(ctx, documentID, commentID); err != nil {
		return err
	}

	s.notify(ctx, pubsub.EventCommentDeleted, documentID, origin, map[string]string{"commentId": commentID})
	if s.indexer != nil {
		s.indexer.RemoveComment(ctx, commentID)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, eventType, documentID, origin string, payload any) {
	if s.notifier == nil {
		return
	}
	event, err := pubsub.NewEvent(eventType, documentID, origin, payload)
	if err != nil {
		s.logger.Error("build event", "type", eventType, "document_id", documentID, "error", err)
		return
	}
	s.notifier.Notify(ctx, event)
}
