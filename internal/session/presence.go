package session

import (
	"context"
	"strings"

	"counsel/api/internal/domain"
	"counsel/api/internal/presence"
	"counsel/api/internal/pubsub"
)

type Participant struct {
	UserID      string
	DisplayName string
	Color       string
}

// Join marks the user present on an existing document. Joining twice keeps a
// single record and only the first join is broadcast.
func (c *Coordinator) Join(ctx context.Context, documentID string, p Participant, origin string) (presence.Record, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return presence.Record{}, domain.Invalid("userId", "userId is required")
	}
	if _, err := c.store.GetDocument(ctx, documentID); err != nil {
		return presence.Record{}, err
	}
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = p.UserID
	}
	rec, created := c.tracker.Join(documentID, p.UserID, name, p.Color)
	c.share(ctx, rec)
	if created {
		c.publish(ctx, pubsub.EventPresenceJoined, documentID, origin, rec)
		c.metrics.SetPresentUsers(c.tracker.Count())
	}
	return rec, nil
}

// Leave removes the user and reports whether they were present.
func (c *Coordinator) Leave(ctx context.Context, documentID, userID, origin string) bool {
	rec, ok := c.tracker.Leave(documentID, userID)
	if !ok {
		return false
	}
	c.unshare(ctx, documentID, userID)
	c.publish(ctx, pubsub.EventPresenceLeft, documentID, origin, rec)
	c.metrics.SetPresentUsers(c.tracker.Count())
	return true
}

func (c *Coordinator) UpdateSelection(ctx context.Context, documentID, userID string, sel *presence.Range, origin string) (presence.Record, error) {
	rec, err := c.tracker.UpdateSelection(documentID, userID, sel)
	if err != nil {
		return presence.Record{}, err
	}
	c.share(ctx, rec)
	c.publish(ctx, pubsub.EventPresenceUpdated, documentID, origin, rec)
	return rec, nil
}

func (c *Coordinator) Heartbeat(ctx context.Context, documentID, userID string) (presence.Record, error) {
	rec, err := c.tracker.Heartbeat(documentID, userID)
	if err != nil {
		return presence.Record{}, err
	}
	c.share(ctx, rec)
	return rec, nil
}

// Presence lists everyone on the document, across instances when a
// directory is attached. A directory failure falls back to local records.
func (c *Coordinator) Presence(ctx context.Context, documentID string) []presence.Record {
	if c.directory != nil {
		recs, err := c.directory.List(ctx, documentID)
		if err == nil {
			return recs
		}
		c.logger.Warn("list shared presence", "document_id", documentID, "error", err)
	}
	return c.tracker.List(documentID)
}

func (c *Coordinator) share(ctx context.Context, rec presence.Record) {
	if c.directory == nil {
		return
	}
	if err := c.directory.Put(ctx, rec); err != nil {
		c.logger.Warn("share presence", "document_id", rec.DocumentID, "user_id", rec.UserID, "error", err)
	}
}

func (c *Coordinator) unshare(ctx context.Context, documentID, userID string) {
	if c.directory == nil {
		return
	}
	if err := c.directory.Remove(ctx, documentID, userID); err != nil {
		c.logger.Warn("unshare presence", "document_id", documentID, "user_id", userID, "error", err)
	}
}

// Evicted broadcasts the implicit leave of a record dropped by the sweeper.
func (c *Coordinator) Evicted(rec presence.Record) {
	c.logger.Debug("presence expired", "document_id", rec.DocumentID, "user_id", rec.UserID)
	c.unshare(context.Background(), rec.DocumentID, rec.UserID)
	c.publish(context.Background(), pubsub.EventPresenceLeft, rec.DocumentID, "", rec)
	c.metrics.SetPresentUsers(c.tracker.Count())
}
