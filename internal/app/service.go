package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"counsel/api/internal/auth"
	"counsel/api/internal/comments"
	"counsel/api/internal/export"
	"counsel/api/internal/history"
	"counsel/api/internal/presence"
	"counsel/api/internal/rbac"
	"counsel/api/internal/search"
	"counsel/api/internal/session"
	"counsel/api/internal/store"
)

const defaultHistoryLimit = 50

type Pinger interface {
	Ping(ctx context.Context) error
}

type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type HistoryStore interface {
	History(documentID string, limit int) ([]history.Checkpoint, error)
	Snapshot(documentID, hash string) (history.Snapshot, history.Checkpoint, error)
}

// Deps wires the Service. History, Exports and Search may be nil.
type Deps struct {
	DB       Pinger
	Sessions *session.Coordinator
	Comments *comments.Service
	Search   *search.Service
	History  HistoryStore
	Exports  *export.Service
	Verifier TokenVerifier
	Logger   *slog.Logger
}

type Service struct {
	db       Pinger
	sessions *session.Coordinator
	comments *comments.Service
	search   *search.Service
	history  HistoryStore
	exports  *export.Service
	verifier TokenVerifier
	logger   *slog.Logger
}

func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       d.DB,
		sessions: d.Sessions,
		comments: d.Comments,
		search:   d.Search,
		history:  d.History,
		exports:  d.Exports,
		verifier: d.Verifier,
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

func (s *Service) Authenticate(token string) (auth.Identity, error) {
	if s.verifier == nil {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return s.verifier.Verify(token)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func author(who auth.Identity) comments.Author {
	return comments.Author{
		ID:        who.UserID,
		Name:      who.DisplayName,
		Moderator: rbac.Can(who.Role, rbac.ActionModerate),
	}
}

// ownerScope is the owner filter for listings: admins see every document,
// everyone else the documents they own.
func ownerScope(who auth.Identity) string {
	if rbac.Can(who.Role, rbac.ActionModerate) {
		return ""
	}
	return who.UserID
}

func (s *Service) ListDocuments(ctx context.Context, who auth.Identity, limit int) (map[string]any, error) {
	docs, err := s.sessions.ListDocuments(ctx, ownerScope(who), limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"documents": docs}, nil
}

func (s *Service) CreateDocument(ctx context.Context, who auth.Identity, in session.CreateDocumentInput) (map[string]any, error) {
	in.OwnerID = who.UserID
	doc, err := s.sessions.CreateDocument(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": doc}, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.sessions.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": doc}, nil
}

func (s *Service) ApplyEdit(ctx context.Context, who auth.Identity, in session.EditInput) (map[string]any, error) {
	in.AuthorID = who.UserID
	result, err := s.sessions.ApplyEdit(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": result.Document, "edit": result.Edit}, nil
}

func (s *Service) EditsSince(ctx context.Context, documentID string, since int64) (map[string]any, error) {
	edits, err := s.sessions.EditsSince(ctx, documentID, since)
	if err != nil {
		return nil, err
	}
	return map[string]any{"edits": edits, "since": since}, nil
}

// ListComments returns one page with every anchor mapped onto the current revision.
func (s *Service) ListComments(ctx context.Context, documentID string, req comments.PageRequest) (map[string]any, error) {
	page, err := s.comments.ListComments(ctx, documentID, req)
	if err != nil {
		return nil, err
	}
	resolved, err := s.sessions.ResolveAnchors(ctx, documentID, page.Comments)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"comments": resolved}
	if page.NextCursor != "" {
		payload["nextCursor"] = page.NextCursor
	}
	return payload, nil
}

func (s *Service) CreateComment(ctx context.Context, who auth.Identity, in comments.CreateInput) (map[string]any, error) {
	in.Author = author(who)
	created, err := s.comments.CreateComment(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]any{"comment": created}, nil
}

func (s *Service) DeleteComment(ctx context.Context, who auth.Identity, documentID, commentID, origin string) error {
	return s.comments.DeleteComment(ctx, documentID, commentID, author(who), origin)
}

func (s *Service) ListReplies(ctx context.Context, commentID string) (map[string]any, error) {
	if _, err := s.comments.GetComment(ctx, commentID); err != nil {
		return nil, err
	}
	replies, err := s.comments.ListReplies(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"replies": replies}, nil
}

func (s *Service) AddReply(ctx context.Context, who auth.Identity, in comments.ReplyInput) (map[string]any, error) {
	in.Author = author(who)
	reply, err := s.comments.AddReply(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reply": reply}, nil
}

func (s *Service) Presence(ctx context.Context, documentID string) (map[string]any, error) {
	if _, err := s.sessions.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return map[string]any{"presence": s.sessions.Presence(ctx, documentID)}, nil
}

func (s *Service) JoinPresence(ctx context.Context, who auth.Identity, documentID, color, origin string) (map[string]any, error) {
	rec, err := s.sessions.Join(ctx, documentID, session.Participant{
		UserID:      who.UserID,
		DisplayName: who.DisplayName,
		Color:       strings.TrimSpace(color),
	}, origin)
	if err != nil {
		return nil, err
	}
	return map[string]any{"presence": rec}, nil
}

func (s *Service) LeavePresence(ctx context.Context, who auth.Identity, documentID, origin string) map[string]any {
	return map[string]any{"left": s.sessions.Leave(ctx, documentID, who.UserID, origin)}
}

func (s *Service) UpdateSelection(ctx context.Context, who auth.Identity, documentID string, sel *presence.Range, origin string) (map[string]any, error) {
	rec, err := s.sessions.UpdateSelection(ctx, documentID, who.UserID, sel, origin)
	if err != nil {
		return nil, err
	}
	return map[string]any{"presence": rec}, nil
}

func (s *Service) Heartbeat(ctx context.Context, who auth.Identity, documentID string) (map[string]any, error) {
	rec, err := s.sessions.Heartbeat(ctx, documentID, who.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"presence": rec}, nil
}

func (s *Service) History(ctx context.Context, documentID string, limit int) (map[string]any, error) {
	if _, err := s.sessions.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return map[string]any{"checkpoints": []history.Checkpoint{}}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	items, err := s.history.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"checkpoints": items}, nil
}

func (s *Service) Checkpoint(ctx context.Context, documentID, hash string) (map[string]any, error) {
	if _, err := s.sessions.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "checkpoint "+hash+" not found", nil)
	}
	snap, cp, err := s.history.Snapshot(documentID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"checkpoint": cp, "snapshot": snap}, nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exports == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.exports.Export(ctx, req)
}

func (s *Service) Search(ctx context.Context, who auth.Identity, q search.Query) search.Response {
	q.OwnerID = ownerScope(who)
	return s.search.Search(ctx, q)
}

// ExportSource feeds the export service from the live document and its comments.
type ExportSource struct {
	Sessions *session.Coordinator
	Comments *comments.Service
}

func (e ExportSource) GetDocument(ctx context.Context, id string) (store.Document, error) {
	return e.Sessions.GetDocument(ctx, id)
}

func (e ExportSource) ResolvedComments(ctx context.Context, documentID string) ([]session.ResolvedComment, error) {
	var all []store.Comment
	for c, err := range e.Comments.All(ctx, documentID) {
		if err != nil {
			return nil, err
		}
		all = append(all, c)
	}
	return e.Sessions.ResolveAnchors(ctx, documentID, all)
}
