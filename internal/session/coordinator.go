// Package session coordinates the live state of open documents: revisioned
// edits, presence, anchor resolution and event fan-out.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"counsel/api/internal/anchor"
	"counsel/api/internal/domain"
	"counsel/api/internal/history"
	"counsel/api/internal/metrics"
	"counsel/api/internal/presence"
	"counsel/api/internal/pubsub"
	"counsel/api/internal/richtext"
	"counsel/api/internal/store"
	"counsel/api/internal/util"
)

const (
	MaxTitleLength         = 200
	DefaultDocumentLimit   = 50
	DefaultCheckpointEvery = 25
)

// Store is the slice of persistence the coordinator needs.
type Store interface {
	CreateDocument(ctx context.Context, doc store.Document) (store.Document, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	ListDocuments(ctx context.Context, ownerID string, limit int) ([]store.Document, error)
	CommitEdit(ctx context.Context, commit store.EditCommit) (store.Document, error)
	EditsSince(ctx context.Context, documentID string, revision int64) ([]store.Edit, error)
}

type Checkpointer interface {
	Checkpoint(documentID string, snap history.Snapshot, author string) (history.Checkpoint, error)
}

type DocumentIndexer interface {
	IndexDocument(ctx context.Context, doc store.Document)
}

type Coordinator struct {
	store           Store
	broker          pubsub.Broker
	tracker         *presence.Tracker
	directory       presence.Directory
	history         Checkpointer
	indexer         DocumentIndexer
	metrics         *metrics.Metrics
	logger          *slog.Logger
	checkpointEvery int64
	now             func() time.Time

	lockMu   sync.Mutex
	locks    map[string]*sync.Mutex
	progress map[string]*progress
	tasks    sync.WaitGroup
}

func New(st Store, broker pubsub.Broker, tracker *presence.Tracker, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:           st,
		broker:          broker,
		tracker:         tracker,
		logger:          logger,
		checkpointEvery: DefaultCheckpointEvery,
		now:             func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		locks:           make(map[string]*sync.Mutex),
		progress:        make(map[string]*progress),
	}
}

// WithHistory checkpoints content every n revisions.
func (c *Coordinator) WithHistory(h Checkpointer, every int) *Coordinator {
	c.history = h
	if every > 0 {
		c.checkpointEvery = int64(every)
	}
	return c
}

// WithDirectory shares presence with other API instances.
func (c *Coordinator) WithDirectory(d presence.Directory) *Coordinator {
	c.directory = d
	return c
}

func (c *Coordinator) WithIndexer(ix DocumentIndexer) *Coordinator {
	c.indexer = ix
	return c
}

func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// Wait blocks until background checkpoint and index tasks finish.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

type CreateDocumentInput struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
	OwnerID string          `json:"-"`
}

func (c *Coordinator) CreateDocument(ctx context.Context, in CreateDocumentInput) (store.Document, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := domain.FromValidation(validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(1, MaxTitleLength)),
		validation.Field(&in.OwnerID, validation.Required),
	)); err != nil {
		return store.Document{}, err
	}

	root := richtext.Empty()
	if len(in.Content) > 0 {
		parsed, err := richtext.Parse(in.Content)
		if err != nil {
			return store.Document{}, err
		}
		root = parsed
	}

	now := c.now()
	doc, err := c.store.CreateDocument(ctx, store.Document{
		ID:        util.NewID("doc"),
		Title:     in.Title,
		Content:   root.JSON(),
		Text:      richtext.Project(root),
		OwnerID:   in.OwnerID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return store.Document{}, err
	}
	c.logger.Info("document created", "document_id", doc.ID, "owner_id", doc.OwnerID)
	c.afterRevision(doc, in.OwnerID, true)
	return doc, nil
}

func (c *Coordinator) GetDocument(ctx context.Context, id string) (store.Document, error) {
	return c.store.GetDocument(ctx, id)
}

// ListDocuments lists ownerID's documents, or every document when ownerID is empty.
func (c *Coordinator) ListDocuments(ctx context.Context, ownerID string, limit int) ([]store.Document, error) {
	if limit <= 0 {
		limit = DefaultDocumentLimit
	}
	return c.store.ListDocuments(ctx, ownerID, limit)
}

// EditInput is one edit submission. Content, when set, is the client's tree
// after the op and must project to the op applied to the current text.
type EditInput struct {
	DocumentID       string          `json:"-"`
	AuthorID         string          `json:"-"`
	ExpectedRevision int64           `json:"expectedRevision"`
	Op               anchor.Op       `json:"op"`
	Content          json.RawMessage `json:"content,omitempty"`
	Origin           string          `json:"-"`
}

type EditResult struct {
	Document store.Document `json:"document"`
	Edit     store.Edit     `json:"edit"`
}

// ApplyEdit advances the document by exactly one revision or fails without
// changing it. A stale ExpectedRevision yields *domain.ConflictError.
func (c *Coordinator) ApplyEdit(ctx context.Context, in EditInput) (EditResult, error) {
	if err := domain.FromValidation(validation.ValidateStruct(&in,
		validation.Field(&in.DocumentID, validation.Required),
		validation.Field(&in.AuthorID, validation.Required),
		validation.Field(&in.ExpectedRevision, validation.Min(int64(0))),
	)); err != nil {
		c.metrics.ObserveEdit(metrics.EditRejected)
		return EditResult{}, err
	}

	lock := c.documentLock(in.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := c.store.GetDocument(ctx, in.DocumentID)
	if err != nil {
		return EditResult{}, err
	}
	if doc.Revision != in.ExpectedRevision {
		return EditResult{}, c.conflict(&domain.ConflictError{
			DocumentID:       doc.ID,
			ExpectedRevision: in.ExpectedRevision,
			CurrentRevision:  doc.Revision,
		})
	}

	next, err := c.nextContent(doc, in)
	if err != nil {
		c.metrics.ObserveEdit(metrics.EditRejected)
		return EditResult{}, err
	}

	edit := store.Edit{
		DocumentID: doc.ID,
		Revision:   doc.Revision + 1,
		Op:         in.Op,
		AuthorID:   in.AuthorID,
		CreatedAt:  c.now(),
	}
	updated, err := c.store.CommitEdit(ctx, store.EditCommit{
		DocumentID:       doc.ID,
		ExpectedRevision: in.ExpectedRevision,
		Content:          next.JSON(),
		Text:             richtext.Project(next),
		Edit:             edit,
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return EditResult{}, c.conflict(conflict)
		}
		return EditResult{}, err
	}

	c.metrics.ObserveEdit(metrics.EditApplied)
	c.publish(ctx, pubsub.EventEditApplied, doc.ID, in.Origin, edit)
	c.afterRevision(updated, in.AuthorID, false)
	return EditResult{Document: updated, Edit: edit}, nil
}

func (c *Coordinator) nextContent(doc store.Document, in EditInput) (*richtext.Node, error) {
	if err := in.Op.Validate(utf8.RuneCountInString(doc.Text)); err != nil {
		return nil, err
	}
	if len(in.Content) > 0 {
		next, err := richtext.Parse(in.Content)
		if err != nil {
			return nil, err
		}
		if richtext.Project(next) != in.Op.ApplyText(doc.Text) {
			return nil, domain.Invalid("content", "content does not match the op applied to the current revision")
		}
		return next, nil
	}
	current, err := richtext.Parse(doc.Content)
	if err != nil {
		return nil, err
	}
	return richtext.Apply(current, in.Op)
}

func (c *Coordinator) conflict(err *domain.ConflictError) error {
	c.metrics.ObserveEdit(metrics.EditConflict)
	c.logger.Debug("edit conflict",
		"document_id", err.DocumentID,
		"expected_revision", err.ExpectedRevision,
		"current_revision", err.CurrentRevision,
	)
	return err
}

// afterRevision reindexes every revision and checkpoints on the configured
// cadence, in the background. Creation always checkpoints. Tasks for one
// document run one at a time and skip revisions older than what they already
// wrote, so a late task never rolls the history or index back.
func (c *Coordinator) afterRevision(doc store.Document, author string, created bool) {
	checkpoint := c.history != nil && (created || doc.Revision%c.checkpointEvery == 0)
	if !checkpoint && c.indexer == nil {
		return
	}
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		p := c.progressFor(doc.ID)
		p.mu.Lock()
		defer p.mu.Unlock()

		if checkpoint && doc.Revision > p.checkpointed {
			cp, err := c.history.Checkpoint(doc.ID, history.Snapshot{
				Title:    doc.Title,
				Revision: doc.Revision,
				Doc:      doc.Content,
			}, author)
			if err != nil {
				c.logger.Warn("checkpoint failed", "document_id", doc.ID, "revision", doc.Revision, "error", err)
			} else {
				p.checkpointed = doc.Revision
				c.logger.Debug("checkpoint written", "document_id", doc.ID, "revision", doc.Revision, "hash", cp.Hash)
			}
		}
		if c.indexer != nil && doc.Revision > p.indexed {
			c.indexer.IndexDocument(context.Background(), doc)
			p.indexed = doc.Revision
		}
	}()
}

// progress is the newest revision each background task has written for a document.
type progress struct {
	mu           sync.Mutex
	checkpointed int64
	indexed      int64
}

func (c *Coordinator) progressFor(documentID string) *progress {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	p, ok := c.progress[documentID]
	if !ok {
		p = &progress{checkpointed: -1, indexed: -1}
		c.progress[documentID] = p
	}
	return p
}

// EditsSince returns the log entries after revision, oldest first.
func (c *Coordinator) EditsSince(ctx context.Context, documentID string, revision int64) ([]store.Edit, error) {
	if revision < 0 {
		return nil, domain.Invalid("since", "since must not be negative")
	}
	if _, err := c.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return c.store.EditsSince(ctx, documentID, revision)
}

// ResolvedComment is a comment with its anchor mapped onto the current revision.
type ResolvedComment struct {
	store.Comment
	Resolution anchor.Result `json:"resolution"`
	Excerpt    string        `json:"excerpt"`
}

// ResolveAnchors maps each comment's anchor onto the document's current
// revision by replaying the edit log from the oldest anchor revision.
func (c *Coordinator) ResolveAnchors(ctx context.Context, documentID string, comments []store.Comment) ([]ResolvedComment, error) {
	out := make([]ResolvedComment, 0, len(comments))
	if len(comments) == 0 {
		return out, nil
	}
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	oldest := doc.Revision
	for _, cm := range comments {
		oldest = min(oldest, cm.Anchor.Revision)
	}
	var edits []store.Edit
	if oldest < doc.Revision {
		edits, err = c.store.EditsSince(ctx, documentID, oldest)
		if err != nil {
			return nil, err
		}
	}

	for _, cm := range comments {
		ops := make([]anchor.Op, 0, len(edits))
		for _, e := range edits {
			if e.Revision > cm.Anchor.Revision && e.Revision <= doc.Revision {
				ops = append(ops, e.Op)
			}
		}
		res := anchor.Resolve(cm.Anchor, ops)
		out = append(out, ResolvedComment{
			Comment:    cm,
			Resolution: res,
			Excerpt:    res.Excerpt(doc.Text),
		})
	}
	return out, nil
}

// Notify publishes comment events to the document's subscribers.
func (c *Coordinator) Notify(ctx context.Context, event pubsub.Event) {
	c.metrics.ObserveCommentEvent(event.Type)
	if err := c.broker.Publish(ctx, event); err != nil {
		c.logger.Error("publish event", "type", event.Type, "document_id", event.DocumentID, "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType, documentID, origin string, payload any) {
	event, err := pubsub.NewEvent(eventType, documentID, origin, payload)
	if err != nil {
		c.logger.Error("build event", "type", eventType, "document_id", documentID, "error", err)
		return
	}
	if err := c.broker.Publish(ctx, event); err != nil {
		c.logger.Error("publish event", "type", eventType, "document_id", documentID, "error", err)
	}
}

// Subscribe attaches h to the document's event stream.
func (c *Coordinator) Subscribe(ctx context.Context, documentID string, h pubsub.Handler) (func(), error) {
	return c.broker.Subscribe(ctx, documentID, h)
}

func (c *Coordinator) documentLock(documentID string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	lock, ok := c.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	c.locks[documentID] = lock
	return lock
}
