package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"counsel/api/internal/auth"
	"counsel/api/internal/comments"
	"counsel/api/internal/export"
	"counsel/api/internal/history"
	"counsel/api/internal/presence"
	"counsel/api/internal/pubsub"
	"counsel/api/internal/rbac"
	"counsel/api/internal/search"
	"counsel/api/internal/session"
	"counsel/api/internal/store"
)

var testSecret = []byte("test-secret")

type testEnv struct {
	handler http.Handler
	coord   *session.Coordinator
	broker  *pubsub.LocalBroker
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	broker := pubsub.NewLocalBroker()
	coord := session.New(st, broker, presence.NewTracker(presence.Config{}), nil)
	index := search.NewService(nil, search.NewMemory(), nil)
	coord.WithIndexer(index)

	commentSvc := comments.NewService(st, coord, nil).WithIndexer(index)
	verifier, err := auth.NewHMACVerifier(testSecret, nil)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	hist := history.New(t.TempDir())
	coord.WithHistory(hist, 2)
	t.Cleanup(coord.Wait)

	svc := New(Deps{
		DB:       st,
		Sessions: coord,
		Comments: commentSvc,
		Search:   index,
		History:  hist,
		Exports:  export.NewService(ExportSource{Sessions: coord, Comments: commentSvc}, nil),
		Verifier: verifier,
	})
	return testEnv{
		handler: NewHTTPServer(svc, "*", nil).Handler(),
		coord:   coord,
		broker:  broker,
	}
}

func token(t *testing.T, userID string, role rbac.Role) string {
	t.Helper()
	signed, err := auth.IssueToken(testSecret, userID, strings.TrimPrefix(userID, "usr_"), role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return signed
}

func (e testEnv) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var payload map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func paragraphDoc(text string) map[string]any {
	return map[string]any{
		"type": "doc",
		"content": []any{map[string]any{
			"type":    "paragraph",
			"content": []any{map[string]any{"type": "text", "text": text}},
		}},
	}
}

func (e testEnv) createDocument(t *testing.T, bearer, title, text string) string {
	t.Helper()
	rr, payload := e.do(t, http.MethodPost, "/api/documents", bearer, map[string]any{
		"title":   title,
		"content": paragraphDoc(text),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create document: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	doc, _ := payload["document"].(map[string]any)
	id, _ := doc["id"].(string)
	if id == "" {
		t.Fatalf("expected document id in %v", payload)
	}
	return id
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", rr.Code, payload)
	}

	handler := NewHTTPServer(New(Deps{DB: failingPinger{}}), "*", nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	checks, _ := body["checks"].(map[string]any)
	db, _ := checks["database"].(map[string]any)
	if db["error"] != "connection refused" {
		t.Fatalf("expected database error, got %v", body)
	}
}

func TestRequestsRequireToken(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodGet, "/api/documents", "", nil)
	if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %v", rr.Code, payload)
	}
	rr, _ = env.do(t, http.MethodGet, "/api/documents", "not-a-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}
}

func TestCreateDocumentRoleGate(t *testing.T) {
	env := newTestEnv(t)
	rr, payload := env.do(t, http.MethodPost, "/api/documents", token(t, "usr_vic", rbac.RoleViewer), map[string]any{"title": "Lease"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d %v", rr.Code, payload)
	}

	rr, payload = env.do(t, http.MethodPost, "/api/documents", token(t, "usr_ada", rbac.RoleEditor), map[string]any{"title": ""})
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422, got %d %v", rr.Code, payload)
	}
	details, _ := payload["details"].(map[string]any)
	if _, ok := details["title"]; !ok {
		t.Fatalf("expected title field error, got %v", payload)
	}
}

func TestDocumentCRUD(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Lease", "Hello world")

	rr, payload := env.do(t, http.MethodGet, "/api/documents/"+id, token(t, "usr_vic", rbac.RoleViewer), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	doc, _ := payload["document"].(map[string]any)
	if doc["text"] != "Hello world" || doc["ownerId"] != "usr_ada" {
		t.Fatalf("unexpected document %v", doc)
	}

	rr, payload = env.do(t, http.MethodGet, "/api/documents", editor, nil)
	docs, _ := payload["documents"].([]any)
	if rr.Code != http.StatusOK || len(docs) != 1 {
		t.Fatalf("expected one document, got %d %v", rr.Code, payload)
	}

	rr, payload = env.do(t, http.MethodGet, "/api/documents/doc_missing", editor, nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", rr.Code, payload)
	}
}

func TestListAndSearchScopeToOwner(t *testing.T) {
	env := newTestEnv(t)
	ada := token(t, "usr_ada", rbac.RoleEditor)
	grace := token(t, "usr_grace", rbac.RoleEditor)
	admin := token(t, "usr_root", rbac.RoleAdmin)
	adaDoc := env.createDocument(t, ada, "Lease", "Monthly rent")
	env.createDocument(t, grace, "Sublease", "Rent share")
	env.coord.Wait()

	_, payload := env.do(t, http.MethodGet, "/api/documents", ada, nil)
	docs, _ := payload["documents"].([]any)
	if len(docs) != 1 || docs[0].(map[string]any)["id"] != adaDoc {
		t.Fatalf("expected only ada's document, got %v", payload)
	}
	_, payload = env.do(t, http.MethodGet, "/api/documents", admin, nil)
	if docs, _ = payload["documents"].([]any); len(docs) != 2 {
		t.Fatalf("admin should list every document, got %v", payload)
	}

	_, payload = env.do(t, http.MethodGet, "/api/search?q=rent", ada, nil)
	results, _ := payload["results"].([]any)
	if len(results) != 1 || results[0].(map[string]any)["documentId"] != adaDoc {
		t.Fatalf("expected one hit in ada's document, got %v", payload)
	}
	_, payload = env.do(t, http.MethodGet, "/api/search?q=rent", admin, nil)
	if results, _ = payload["results"].([]any); len(results) != 2 {
		t.Fatalf("admin should search every document, got %v", payload)
	}
}

func TestApplyEditAndConflict(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Lease", "Hello world")

	edit := map[string]any{
		"expectedRevision": 0,
		"op":               map[string]any{"kind": "insert", "offset": 5, "text": ","},
	}
	rr, payload := env.do(t, http.MethodPost, "/api/documents/"+id+"/edits", editor, edit)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rr.Code, payload)
	}
	doc, _ := payload["document"].(map[string]any)
	if doc["text"] != "Hello, world" || doc["revision"] != float64(1) {
		t.Fatalf("unexpected document after edit %v", doc)
	}

	rr, payload = env.do(t, http.MethodPost, "/api/documents/"+id+"/edits", editor, edit)
	if rr.Code != http.StatusConflict || payload["code"] != "REVISION_CONFLICT" {
		t.Fatalf("expected 409, got %d %v", rr.Code, payload)
	}
	details, _ := payload["details"].(map[string]any)
	if details["currentRevision"] != float64(1) || details["expectedRevision"] != float64(0) {
		t.Fatalf("unexpected conflict details %v", details)
	}

	rr, payload = env.do(t, http.MethodPost, "/api/documents/"+id+"/edits", token(t, "usr_cam", rbac.RoleCommenter), edit)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for commenter, got %d", rr.Code)
	}

	rr, payload = env.do(t, http.MethodGet, "/api/documents/"+id+"/edits?since=0", editor, nil)
	edits, _ := payload["edits"].([]any)
	if rr.Code != http.StatusOK || len(edits) != 1 {
		t.Fatalf("expected one edit since 0, got %d %v", rr.Code, payload)
	}
	rr, _ = env.do(t, http.MethodGet, "/api/documents/"+id+"/edits?since=abc", editor, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad since, got %d", rr.Code)
	}
}

func TestCommentAnchorsFollowEdits(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	commenter := token(t, "usr_cam", rbac.RoleCommenter)
	id := env.createDocument(t, editor, "Lease", "The tenant pays rent monthly")

	rr, payload := env.do(t, http.MethodPost, "/api/documents/"+id+"/comments", commenter, map[string]any{
		"body": "Which tenant?", "startIndex": 4, "endIndex": 10,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", rr.Code, payload)
	}

	rr, payload = env.do(t, http.MethodPost, "/api/documents/"+id+"/comments", commenter, map[string]any{
		"body": "Out of range", "startIndex": 4, "endIndex": 400,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad offsets, got %d %v", rr.Code, payload)
	}

	env.do(t, http.MethodPost, "/api/documents/"+id+"/edits", editor, map[string]any{
		"expectedRevision": 0,
		"op":               map[string]any{"kind": "insert", "offset": 0, "text": "Note: "},
	})
	rr, payload = env.do(t, http.MethodGet, "/api/documents/"+id+"/comments", commenter, nil)
	list, _ := payload["comments"].([]any)
	if rr.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("expected one comment, got %d %v", rr.Code, payload)
	}
	first, _ := list[0].(map[string]any)
	if first["excerpt"] != "tenant" {
		t.Fatalf("expected excerpt tenant after shift, got %v", first)
	}

	env.do(t, http.MethodPost, "/api/documents/"+id+"/edits", editor, map[string]any{
		"expectedRevision": 1,
		"op":               map[string]any{"kind": "delete", "offset": 6, "length": 11},
	})
	_, payload = env.do(t, http.MethodGet, "/api/documents/"+id+"/comments", commenter, nil)
	list, _ = payload["comments"].([]any)
	first, _ = list[0].(map[string]any)
	resolution, _ := first["resolution"].(map[string]any)
	if resolution["status"] != "unlocatable" {
		t.Fatalf("expected unlocatable anchor, got %v", first)
	}
}

func TestCommentPaginationCursor(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Lease", "Hello world")
	for _, body := range []string{"one", "two", "three"} {
		rr, _ := env.do(t, http.MethodPost, "/api/documents/"+id+"/comments", editor, map[string]any{
			"body": body, "startIndex": 0, "endIndex": 5,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("create comment %s: %d", body, rr.Code)
		}
	}

	_, payload := env.do(t, http.MethodGet, "/api/documents/"+id+"/comments?limit=2", editor, nil)
	page, _ := payload["comments"].([]any)
	cursor, _ := payload["nextCursor"].(string)
	if len(page) != 2 || cursor == "" {
		t.Fatalf("expected two comments and a cursor, got %v", payload)
	}
	_, payload = env.do(t, http.MethodGet, "/api/documents/"+id+"/comments?limit=2&cursor="+cursor, editor, nil)
	page, _ = payload["comments"].([]any)
	if len(page) != 1 || payload["nextCursor"] != nil {
		t.Fatalf("expected final page of one, got %v", payload)
	}
}

func TestDeleteCommentPermissions(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Lease", "Hello world")
	_, payload := env.do(t, http.MethodPost, "/api/documents/"+id+"/comments", editor, map[string]any{
		"body": "Tighten this", "startIndex": 0, "endIndex": 5,
	})
	comment, _ := payload["comment"].(map[string]any)
	commentID, _ := comment["id"].(string)

	rr, _ := env.do(t, http.MethodDelete, "/api/documents/"+id+"/comments/"+commentID, token(t, "usr_cam", rbac.RoleCommenter), nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-author, got %d", rr.Code)
	}
	rr, _ = env.do(t, http.MethodDelete, "/api/documents/"+id+"/comments/"+commentID, token(t, "usr_root", rbac.RoleAdmin), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin delete to succeed, got %d", rr.Code)
	}
	rr, _ = env.do(t, http.MethodDelete, "/api/documents/"+id+"/comments/"+commentID, token(t, "usr_root", rbac.RoleAdmin), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestReplies(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Lease", "Hello world")
	_, payload := env.do(t, http.MethodPost, "/api/documents/"+id+"/comments", editor, map[string]any{
		"body": "Tighten this", "startIndex": 0, "endIndex": 5,
	})
	comment, _ := payload["comment"].(map[string]any)
	commentID, _ := comment["id"].(string)

	for _, body := range []string{"Agreed", "Done"} {
		rr, _ := env.do(t, http.MethodPost, "/api/comments/"+commentID+"/replies", editor, map[string]any{"body": body})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	rr, payload := env.do(t, http.MethodGet, "/api/comments/"+commentID+"/replies", editor, nil)
	replies, _ := payload["replies"].([]any)
	if rr.Code != http.StatusOK || len(replies) != 2 {
		t.Fatalf("expected two replies, got %d %v", rr.Code, payload)
	}
	first, _ := replies[0].(map[string]any)
	if first["body"] != "Agreed" {
		t.Fatalf("expected replies oldest first, got %v", replies)
	}

	rr, _ = env.do(t, http.MethodGet, "/api/comments/cmt_missing/replies", editor, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestPresenceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Lease", "Hello world")
	base := "/api/documents/" + id + "/presence"

	for range 2 {
		rr, _ := env.do(t, http.MethodPost, base, editor, map[string]any{})
		if rr.Code != http.StatusOK {
			t.Fatalf("join: expected 200, got %d", rr.Code)
		}
	}
	_, payload := env.do(t, http.MethodGet, base, editor, nil)
	list, _ := payload["presence"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected a single presence record after double join, got %v", payload)
	}

	rr, payload := env.do(t, http.MethodPut, base+"/selection", editor, map[string]any{"selection": map[string]int{"from": 1, "to": 3}})
	rec, _ := payload["presence"].(map[string]any)
	if rr.Code != http.StatusOK || rec["selection"] == nil {
		t.Fatalf("expected selection, got %d %v", rr.Code, payload)
	}
	rr, _ = env.do(t, http.MethodPost, base+"/heartbeat", editor, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("heartbeat: expected 200, got %d", rr.Code)
	}

	_, payload = env.do(t, http.MethodDelete, base, editor, nil)
	if payload["left"] != true {
		t.Fatalf("expected left=true, got %v", payload)
	}
	rr, _ = env.do(t, http.MethodPost, base+"/heartbeat", editor, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("heartbeat after leave: expected 404, got %d", rr.Code)
	}
}

func TestConnectionHeaderBecomesOrigin(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Lease", "Hello world")

	var got []pubsub.Event
	cancel, err := env.broker.Subscribe(context.Background(), id, func(e pubsub.Event) { got = append(got, e) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	raw, _ := json.Marshal(map[string]any{"body": "Hi", "startIndex": 0, "endIndex": 5})
	req := httptest.NewRequest(http.MethodPost, "/api/documents/"+id+"/comments", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+editor)
	req.Header.Set(ConnectionHeader, "conn_abc")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if len(got) != 1 || got[0].Type != pubsub.EventCommentCreated || got[0].Origin != "conn_abc" {
		t.Fatalf("expected comment.created with origin conn_abc, got %+v", got)
	}
}

func TestHistoryAndSearch(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Indemnity Schedule", "Hello world")
	env.coord.Wait()

	rr, payload := env.do(t, http.MethodGet, "/api/documents/"+id+"/history", editor, nil)
	checkpoints, _ := payload["checkpoints"].([]any)
	if rr.Code != http.StatusOK || len(checkpoints) != 1 {
		t.Fatalf("expected one checkpoint, got %d %v", rr.Code, payload)
	}
	cp, _ := checkpoints[0].(map[string]any)
	hash, _ := cp["hash"].(string)

	rr, payload = env.do(t, http.MethodGet, "/api/documents/"+id+"/history/"+hash[:8], editor, nil)
	snap, _ := payload["snapshot"].(map[string]any)
	if rr.Code != http.StatusOK || snap["title"] != "Indemnity Schedule" {
		t.Fatalf("expected snapshot, got %d %v", rr.Code, payload)
	}
	rr, _ = env.do(t, http.MethodGet, "/api/documents/"+id+"/history/deadbeef", editor, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown checkpoint, got %d", rr.Code)
	}

	rr, payload = env.do(t, http.MethodGet, "/api/search?q=indemnity", editor, nil)
	results, _ := payload["results"].([]any)
	if rr.Code != http.StatusOK || len(results) != 1 {
		t.Fatalf("expected one search hit, got %d %v", rr.Code, payload)
	}
	rr, _ = env.do(t, http.MethodGet, "/api/search?q=x&type=folder", editor, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad type, got %d", rr.Code)
	}
}

func TestExportHTMLIncludesComments(t *testing.T) {
	env := newTestEnv(t)
	editor := token(t, "usr_ada", rbac.RoleEditor)
	id := env.createDocument(t, editor, "Lease", "Hello world")
	env.do(t, http.MethodPost, "/api/documents/"+id+"/comments", editor, map[string]any{
		"body": "Greeting too casual", "startIndex": 0, "endIndex": 5,
	})

	rr, _ := env.do(t, http.MethodGet, "/api/documents/"+id+"/export?format=html", editor, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "Lease.html") {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Greeting too casual") || !strings.Contains(body, "Hello") {
		t.Fatalf("expected comment appendix in export, got %s", body)
	}

	rr, _ = env.do(t, http.MethodGet, "/api/documents/"+id+"/export?format=odt", editor, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown format, got %d", rr.Code)
	}
	rr, payload := env.do(t, http.MethodGet, "/api/documents/"+id+"/export?format=html&delivery=link", editor, nil)
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "EXPORT_UNAVAILABLE" {
		t.Fatalf("expected 503 without storage, got %d %v", rr.Code, payload)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/documents":                          "/api/documents",
		"/api/documents/doc_1/comments/cmt_9":     "/api/documents/:id/comments/:id",
		"/api/documents/doc_1/history/abc123":     "/api/documents/:id/history/:id",
		"/api/comments/cmt_9/replies":             "/api/comments/:id/replies",
		"/api/documents/doc_1/presence/selection": "/api/documents/:id/presence/selection",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
