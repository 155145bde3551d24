package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counsel/api/internal/anchor"
	"counsel/api/internal/domain"
	"counsel/api/internal/history"
	"counsel/api/internal/presence"
	"counsel/api/internal/pubsub"
	"counsel/api/internal/store"
)

type recordingCheckpointer struct {
	mu        sync.Mutex
	revisions []int64
}

func (r *recordingCheckpointer) Checkpoint(_ string, snap history.Snapshot, _ string) (history.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions = append(r.revisions, snap.Revision)
	return history.Checkpoint{Hash: fmt.Sprintf("%07d", snap.Revision), Revision: snap.Revision}, nil
}

type recordingIndexer struct {
	mu        sync.Mutex
	revisions []int64
}

func (r *recordingIndexer) IndexDocument(_ context.Context, doc store.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions = append(r.revisions, doc.Revision)
}

type eventLog struct {
	mu     sync.Mutex
	events []pubsub.Event
}

func (l *eventLog) handle(e pubsub.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func paragraph(text string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"type": "doc",
		"content": []any{map[string]any{
			"type":    "paragraph",
			"content": []any{map[string]any{"type": "text", "text": text}},
		}},
	})
	return raw
}

type fixture struct {
	coord   *Coordinator
	store   *store.MemoryStore
	broker  *pubsub.LocalBroker
	tracker *presence.Tracker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	broker := pubsub.NewLocalBroker()
	tracker := presence.NewTracker(presence.Config{Timeout: 30 * time.Second})
	return fixture{coord: New(st, broker, tracker, nil), store: st, broker: broker, tracker: tracker}
}

func (f fixture) createDoc(t *testing.T, text string) store.Document {
	t.Helper()
	doc, err := f.coord.CreateDocument(context.Background(), CreateDocumentInput{
		Title:   "Master Services Agreement",
		Content: paragraph(text),
		OwnerID: "usr_ada",
	})
	require.NoError(t, err)
	return doc
}

func (f fixture) subscribe(t *testing.T, documentID string) *eventLog {
	t.Helper()
	log := &eventLog{}
	cancel, err := f.broker.Subscribe(context.Background(), documentID, log.handle)
	require.NoError(t, err)
	t.Cleanup(cancel)
	return log
}

func TestCreateDocumentDefaultsToEmptyParagraph(t *testing.T) {
	f := newFixture(t)
	doc, err := f.coord.CreateDocument(context.Background(), CreateDocumentInput{Title: "  Blank  ", OwnerID: "usr_ada"})
	require.NoError(t, err)
	assert.Equal(t, "Blank", doc.Title)
	assert.Equal(t, int64(0), doc.Revision)
	assert.Equal(t, "", doc.Text)
	assert.JSONEq(t, `{"type":"doc","content":[{"type":"paragraph"}]}`, string(doc.Content))
}

func TestCreateDocumentValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateDocument(context.Background(), CreateDocumentInput{Title: "", OwnerID: "usr_ada"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "title")

	_, err = f.coord.CreateDocument(context.Background(), CreateDocumentInput{
		Title: "Bad", OwnerID: "usr_ada", Content: json.RawMessage(`{"type":"paragraph"}`),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyEditAdvancesRevisionAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	doc := f.createDoc(t, "Hello world")
	events := f.subscribe(t, doc.ID)

	res, err := f.coord.ApplyEdit(context.Background(), EditInput{
		DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: 0,
		Op: anchor.Insert(5, ", dear"), Origin: "conn_1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Document.Revision)
	assert.Equal(t, "Hello, dear world", res.Document.Text)
	assert.Equal(t, int64(1), res.Edit.Revision)

	require.Equal(t, []string{pubsub.EventEditApplied}, events.types())
	assert.Equal(t, "conn_1", events.events[0].Origin)
	var edit store.Edit
	require.NoError(t, json.Unmarshal(events.events[0].Payload, &edit))
	assert.Equal(t, anchor.Insert(5, ", dear"), edit.Op)

	log, err := f.coord.EditsSince(context.Background(), doc.ID, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
}

func TestApplyEditStaleRevisionConflicts(t *testing.T) {
	f := newFixture(t)
	doc := f.createDoc(t, "Hello world")
	events := f.subscribe(t, doc.ID)

	_, err := f.coord.ApplyEdit(context.Background(), EditInput{
		DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: 4, Op: anchor.Delete(0, 1),
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(0), conflict.CurrentRevision)
	assert.Equal(t, int64(4), conflict.ExpectedRevision)
	assert.Empty(t, events.types())

	current, err := f.coord.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", current.Text)
}

func TestConcurrentEditsAtSameRevisionExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	doc := f.createDoc(t, "Hello world")

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.coord.ApplyEdit(context.Background(), EditInput{
				DocumentID: doc.ID, AuthorID: fmt.Sprintf("usr_%d", i), ExpectedRevision: 0,
				Op: anchor.Insert(0, fmt.Sprintf("%d", i)),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	current, err := f.coord.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Revision)
	assert.Len(t, current.Text, len("Hello world")+1)
}

func TestApplyEditAcceptsMatchingClientContent(t *testing.T) {
	f := newFixture(t)
	doc := f.createDoc(t, "Hello world")

	res, err := f.coord.ApplyEdit(context.Background(), EditInput{
		DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: 0,
		Op: anchor.Insert(11, "!"), Content: paragraph("Hello world!"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", res.Document.Text)

	_, err = f.coord.ApplyEdit(context.Background(), EditInput{
		DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: 1,
		Op: anchor.Insert(0, "A"), Content: paragraph("B Hello world!"),
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "content")
}

func TestApplyEditRejectsInvalidOps(t *testing.T) {
	f := newFixture(t)
	doc := f.createDoc(t, "Hello")

	cases := []anchor.Op{
		anchor.Insert(6, "x"),
		anchor.Insert(0, ""),
		anchor.Delete(3, 5),
		anchor.Delete(0, 0),
		{Kind: "replace", Offset: 0},
	}
	for _, op := range cases {
		_, err := f.coord.ApplyEdit(context.Background(), EditInput{
			DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: 0, Op: op,
		})
		assert.ErrorIs(t, err, domain.ErrValidation, "op %+v", op)
	}

	_, err := f.coord.ApplyEdit(context.Background(), EditInput{
		DocumentID: "doc_missing", AuthorID: "usr_ada", Op: anchor.Insert(0, "x"),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveAnchorsWorkedExample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, "abcdefghijklmnopqrstuvwxyz0123456789ABCD")

	for i, op := range []anchor.Op{anchor.Insert(40, "x"), anchor.Insert(41, "y"), anchor.Delete(41, 1)} {
		_, err := f.coord.ApplyEdit(ctx, EditInput{DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: int64(i), Op: op})
		require.NoError(t, err)
	}

	comment, err := f.store.CreateComment(ctx, store.Comment{
		ID: "cmt_1", DocumentID: doc.ID, AuthorID: "usr_ada", AuthorName: "Ada", Body: "Check this",
		Anchor: anchor.Anchor{Start: 10, End: 20, Revision: 3}, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = f.coord.ApplyEdit(ctx, EditInput{DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: 3, Op: anchor.Insert(5, "12345")})
	require.NoError(t, err)

	resolved, err := f.coord.ResolveAnchors(ctx, doc.ID, []store.Comment{comment})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, anchor.Result{Status: anchor.StatusResolved, Start: 15, End: 25}, resolved[0].Resolution)
	assert.Equal(t, "klmnopqrst", resolved[0].Excerpt)

	_, err = f.coord.ApplyEdit(ctx, EditInput{DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: 4, Op: anchor.Delete(12, 18)})
	require.NoError(t, err)

	resolved, err = f.coord.ResolveAnchors(ctx, doc.ID, []store.Comment{comment})
	require.NoError(t, err)
	assert.Equal(t, anchor.StatusUnlocatable, resolved[0].Resolution.Status)
	assert.Empty(t, resolved[0].Excerpt)
}

func TestResolveAnchorsOnlyReplaysNewerEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, "0123456789")

	_, err := f.coord.ApplyEdit(ctx, EditInput{DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: 0, Op: anchor.Insert(0, "ab")})
	require.NoError(t, err)

	old := store.Comment{ID: "cmt_old", Anchor: anchor.Anchor{Start: 0, End: 3, Revision: 0}}
	fresh := store.Comment{ID: "cmt_new", Anchor: anchor.Anchor{Start: 0, End: 3, Revision: 1}}
	resolved, err := f.coord.ResolveAnchors(ctx, doc.ID, []store.Comment{old, fresh})
	require.NoError(t, err)
	assert.Equal(t, "012", resolved[0].Excerpt)
	assert.Equal(t, "ab0", resolved[1].Excerpt)

	empty, err := f.coord.ResolveAnchors(ctx, doc.ID, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestCheckpointAndReindexCadence(t *testing.T) {
	f := newFixture(t)
	cp := &recordingCheckpointer{}
	ix := &recordingIndexer{}
	f.coord.WithHistory(cp, 2).WithIndexer(ix)
	doc := f.createDoc(t, "abc")

	for i := 0; i < 5; i++ {
		_, err := f.coord.ApplyEdit(context.Background(), EditInput{
			DocumentID: doc.ID, AuthorID: "usr_ada", ExpectedRevision: int64(i), Op: anchor.Insert(0, "z"),
		})
		require.NoError(t, err)
		f.coord.Wait()
	}

	assert.Equal(t, []int64{0, 2, 4}, cp.revisions)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, ix.revisions, "every revision is indexed")
}

func TestLateBackgroundTaskDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	cp := &recordingCheckpointer{}
	ix := &recordingIndexer{}
	f.coord.WithHistory(cp, 2).WithIndexer(ix)

	doc := store.Document{ID: "doc_1", Title: "Lease", Content: paragraph("x")}
	newer, older := doc, doc
	newer.Revision, older.Revision = 4, 2

	f.coord.afterRevision(newer, "usr_ada", false)
	f.coord.Wait()
	f.coord.afterRevision(older, "usr_ada", false)
	f.coord.Wait()

	assert.Equal(t, []int64{4}, cp.revisions)
	assert.Equal(t, []int64{4}, ix.revisions)
}

func TestJoinTwiceListsUserOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, "abc")
	events := f.subscribe(t, doc.ID)

	p := Participant{UserID: "usr_ada", DisplayName: "Ada"}
	first, err := f.coord.Join(ctx, doc.ID, p, "conn_1")
	require.NoError(t, err)
	_, err = f.coord.Join(ctx, doc.ID, p, "conn_1")
	require.NoError(t, err)

	list := f.coord.Presence(ctx, doc.ID)
	require.Len(t, list, 1)
	assert.Equal(t, first.Color, list[0].Color)
	assert.Equal(t, []string{pubsub.EventPresenceJoined}, events.types())
}

func TestPresenceLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, "abc")
	events := f.subscribe(t, doc.ID)

	_, err := f.coord.Join(ctx, doc.ID, Participant{UserID: "usr_ada"}, "")
	require.NoError(t, err)

	rec, err := f.coord.UpdateSelection(ctx, doc.ID, "usr_ada", &presence.Range{From: 1, To: 2}, "")
	require.NoError(t, err)
	assert.Equal(t, &presence.Range{From: 1, To: 2}, rec.Selection)

	_, err = f.coord.Heartbeat(ctx, doc.ID, "usr_ada")
	require.NoError(t, err)

	assert.True(t, f.coord.Leave(ctx, doc.ID, "usr_ada", ""))
	assert.False(t, f.coord.Leave(ctx, doc.ID, "usr_ada", ""))

	_, err = f.coord.UpdateSelection(ctx, doc.ID, "usr_ada", nil, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, []string{
		pubsub.EventPresenceJoined, pubsub.EventPresenceUpdated, pubsub.EventPresenceLeft,
	}, events.types())
}

func TestJoinRequiresExistingDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Join(context.Background(), "doc_missing", Participant{UserID: "usr_ada"}, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvictedPublishesLeave(t *testing.T) {
	f := newFixture(t)
	doc := f.createDoc(t, "abc")
	events := f.subscribe(t, doc.ID)

	f.coord.Evicted(presence.Record{DocumentID: doc.ID, UserID: "usr_ada"})
	assert.Equal(t, []string{pubsub.EventPresenceLeft}, events.types())
}

func TestNotifyPublishes(t *testing.T) {
	f := newFixture(t)
	events := f.subscribe(t, "doc_1")
	event, err := pubsub.NewEvent(pubsub.EventCommentCreated, "doc_1", "", map[string]string{"id": "cmt_1"})
	require.NoError(t, err)

	f.coord.Notify(context.Background(), event)
	assert.Equal(t, []string{pubsub.EventCommentCreated}, events.types())
}
