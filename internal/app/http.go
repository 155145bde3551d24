package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"counsel/api/internal/auth"
	"counsel/api/internal/comments"
	"counsel/api/internal/export"
	"counsel/api/internal/metrics"
	"counsel/api/internal/presence"
	"counsel/api/internal/rbac"
	"counsel/api/internal/realtime"
	"counsel/api/internal/search"
	"counsel/api/internal/session"
)

// ConnectionHeader carries the client's realtime connection id so REST
// mutations are not echoed back on that client's socket.
const ConnectionHeader = "X-Connection-ID"

type HTTPServer struct {
	service    *Service
	live       *realtime.Handler
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) WithLive(h *realtime.Handler) *HTTPServer {
	s.live = h
	return s
}

// WithMetrics records request metrics and serves g on /metrics.
func (s *HTTPServer) WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) *HTTPServer {
	s.metrics = m
	s.gatherer = g
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: strings.Split(s.corsOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", ConnectionHeader},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
	})
	return c.Handler(s.withMiddleware(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.gatherer != nil {
		metrics.Handler(s.gatherer).ServeHTTP(w, r)
		return
	}

	who, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	parts := splitPath(r.URL.Path)

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocumentCollection(w, r, who)
		return
	}

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "search" && r.Method == http.MethodGet {
		s.handleSearch(w, r, who)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "comments" && parts[3] == "replies" {
		s.handleReplies(w, r, who, parts[2])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocuments(w, r, who, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocumentCollection(w http.ResponseWriter, r *http.Request, who auth.Identity) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.ListDocuments(r.Context(), who, queryInt(r, "limit", session.DefaultDocumentLimit))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		if !s.service.Can(who.Role, rbac.ActionEdit) {
			s.forbid(w)
			return
		}
		var body session.CreateDocumentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateDocument(r.Context(), who, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, who auth.Identity) {
	query := r.URL.Query()
	q := search.Query{
		Text:             strings.TrimSpace(query.Get("q")),
		FilterDocumentID: strings.TrimSpace(query.Get("documentId")),
		Limit:            queryInt(r, "limit", 0),
		Offset:           queryInt(r, "offset", 0),
	}
	switch t := search.ResultType(strings.TrimSpace(query.Get("type"))); t {
	case "", search.ResultDocument, search.ResultComment:
		q.FilterType = t
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be document or comment", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), who, q))
}

func (s *HTTPServer) handleReplies(w http.ResponseWriter, r *http.Request, who auth.Identity, commentID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.ListReplies(r.Context(), commentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		if !s.service.Can(who.Role, rbac.ActionComment) {
			s.forbid(w)
			return
		}
		var body comments.ReplyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.CommentID = commentID
		body.Origin = connectionID(r)
		payload, err := s.service.AddReply(r.Context(), who, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, who auth.Identity, documentID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		payload, err := s.service.GetDocument(r.Context(), documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "edits" {
		s.handleEdits(w, r, who, documentID)
		return
	}

	if len(parts) == 4 && parts[3] == "comments" {
		s.handleComments(w, r, who, documentID)
		return
	}

	if len(parts) == 5 && parts[3] == "comments" && r.Method == http.MethodDelete {
		if !s.service.Can(who.Role, rbac.ActionComment) {
			s.forbid(w)
			return
		}
		if err := s.service.DeleteComment(r.Context(), who, documentID, parts[4], connectionID(r)); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) >= 4 && parts[3] == "presence" {
		s.handlePresence(w, r, who, documentID, parts)
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		payload, err := s.service.History(r.Context(), documentID, queryInt(r, "limit", defaultHistoryLimit))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodGet {
		payload, err := s.service.Checkpoint(r.Context(), documentID, parts[4])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet {
		s.handleExport(w, r, documentID)
		return
	}

	if len(parts) == 4 && parts[3] == "live" && r.Method == http.MethodGet {
		if s.live == nil {
			writeError(w, http.StatusServiceUnavailable, "LIVE_UNAVAILABLE", "Realtime sessions are disabled", nil)
			return
		}
		if err := s.live.Serve(w, r, documentID, session.Participant{
			UserID:      who.UserID,
			DisplayName: who.DisplayName,
			Color:       r.URL.Query().Get("color"),
		}); err != nil {
			s.fail(w, r, err)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEdits(w http.ResponseWriter, r *http.Request, who auth.Identity, documentID string) {
	switch r.Method {
	case http.MethodGet:
		since, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("since")), 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "since must be a revision number", nil)
			return
		}
		payload, err := s.service.EditsSince(r.Context(), documentID, since)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		if !s.service.Can(who.Role, rbac.ActionEdit) {
			s.forbid(w)
			return
		}
		var body session.EditInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.DocumentID = documentID
		body.Origin = connectionID(r)
		payload, err := s.service.ApplyEdit(r.Context(), who, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, who auth.Identity, documentID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.ListComments(r.Context(), documentID, comments.PageRequest{
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			Limit:  queryInt(r, "limit", comments.DefaultPageLimit),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		if !s.service.Can(who.Role, rbac.ActionComment) {
			s.forbid(w)
			return
		}
		var body comments.CreateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.DocumentID = documentID
		body.Origin = connectionID(r)
		payload, err := s.service.CreateComment(r.Context(), who, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handlePresence(w http.ResponseWriter, r *http.Request, who auth.Identity, documentID string, parts []string) {
	origin := connectionID(r)

	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.Presence(r.Context(), documentID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body struct {
				Color string `json:"color"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.JoinPresence(r.Context(), who, documentID, body.Color, origin)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			writeJSON(w, http.StatusOK, s.service.LeavePresence(r.Context(), who, documentID, origin))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 5 && parts[4] == "selection" && r.Method == http.MethodPut {
		var body struct {
			Selection *presence.Range `json:"selection"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateSelection(r.Context(), who, documentID, body.Selection, origin)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[4] == "heartbeat" && r.Method == http.MethodPost {
		payload, err := s.service.Heartbeat(r.Context(), who, documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, documentID string) {
	query := r.URL.Query()
	format, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(query.Get("format"))))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html, pdf or docx", nil)
		return
	}
	result, err := s.service.Export(r.Context(), export.Request{
		DocumentID:      documentID,
		Format:          format,
		IncludeComments: query.Get("comments") != "false",
		Publish:         query.Get("delivery") == "link",
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if result.URL != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"url":       result.URL,
			"filename":  result.Filename,
			"expiresAt": result.ExpiresAt,
		})
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := bearerToken(r)
	if token == "" && r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/live") {
		// Browsers cannot set headers on a WebSocket handshake.
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Identity{}, false
	}
	who, err := s.service.Authenticate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Identity{}, false
	}
	if !s.service.Can(who.Role, rbac.ActionRead) {
		s.forbid(w)
		return auth.Identity{}, false
	}
	return who, true
}

func (s *HTTPServer) forbid(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// fail renders err and logs it when it is not a client error.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path), writer.status, elapsed)
		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// routeLabel replaces ids in path with ":id" to bound metric cardinality.
func routeLabel(path string) string {
	parts := splitPath(path)
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "documents", "comments", "history":
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func connectionID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ConnectionHeader))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
