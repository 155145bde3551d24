package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"counsel/api/internal/richtext"
	"counsel/api/internal/session"
	"counsel/api/internal/storage"
	"counsel/api/internal/store"
)

// Source loads the document and its comments with anchors resolved against
// the current revision.
type Source interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	ResolvedComments(ctx context.Context, documentID string) ([]session.ResolvedComment, error)
}

type Service struct {
	source    Source
	storage   storage.Storage
	linkTTL   time.Duration
	logger    *slog.Logger
	pdf       func(ctx context.Context, html, title string) (*Result, error)
	docx      func(ctx context.Context, html, title string) (*Result, error)
	timestamp func() time.Time
}

func NewService(source Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:    source,
		logger:    logger,
		pdf:       exportPDF,
		docx:      exportDOCX,
		timestamp: time.Now,
	}
}

// WithStorage enables published exports with links valid for ttl.
func (s *Service) WithStorage(st storage.Storage, ttl time.Duration) *Service {
	s.storage = st
	s.linkTTL = ttl
	return s
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.source.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	root, err := richtext.Parse(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("parse document content: %w", err)
	}

	data := TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(RenderHTML(root)),
		Owner:       doc.OwnerID,
		Revision:    doc.Revision,
		UpdatedAt:   doc.UpdatedAt,
	}
	if req.IncludeComments {
		resolved, err := s.source.ResolvedComments(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		data.Comments = appendix(resolved)
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var result *Result
	switch req.Format {
	case FormatHTML:
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		result, err = s.pdf(ctx, html, doc.Title)
	case FormatDOCX:
		result, err = s.docx(ctx, html, doc.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("document exported",
		"document_id", doc.ID,
		"format", req.Format,
		"revision", doc.Revision,
		"comments", len(data.Comments),
		"bytes", len(result.Data),
	)

	if req.Publish {
		return s.publish(ctx, doc, req.Format, result)
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, doc store.Document, format Format, result *Result) (*Result, error) {
	if s.storage == nil {
		return nil, ErrPublishUnavailable
	}
	key := fmt.Sprintf("exports/%s/r%d-%d.%s", doc.ID, doc.Revision, s.timestamp().Unix(), format)
	if _, err := s.storage.Put(ctx, key, bytes.NewReader(result.Data), storage.PutObjectOptions{
		Size:        int64(len(result.Data)),
		ContentType: result.MimeType,
		Metadata:    map[string]string{"document-id": doc.ID, "filename": result.Filename},
	}); err != nil {
		return nil, fmt.Errorf("upload export: %w", err)
	}
	url, err := s.storage.PresignGet(ctx, key, s.linkTTL)
	if err != nil {
		return nil, fmt.Errorf("presign export: %w", err)
	}
	return &Result{
		Filename:  result.Filename,
		MimeType:  result.MimeType,
		URL:       url,
		ExpiresAt: s.timestamp().Add(s.linkTTL),
	}, nil
}

func appendix(resolved []session.ResolvedComment) []TemplateComment {
	out := make([]TemplateComment, 0, len(resolved))
	for i, rc := range resolved {
		tc := TemplateComment{
			Number:      i + 1,
			Author:      rc.AuthorName,
			Body:        rc.Body,
			Quote:       rc.Excerpt,
			Unlocatable: !rc.Resolution.Locatable(),
			CreatedAt:   rc.CreatedAt,
		}
		for _, r := range rc.Replies {
			tc.Replies = append(tc.Replies, TemplateReply{Author: r.AuthorName, Body: r.Body, CreatedAt: r.CreatedAt})
		}
		out = append(out, tc)
	}
	return out
}
