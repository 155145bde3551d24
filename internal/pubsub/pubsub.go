// Package pubsub fans document events out to every subscriber of a document,
// in process or across API instances through Redis.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	EventEditApplied     = "edit.applied"
	EventCommentCreated  = "comment.created"
	EventCommentReplied  = "comment.replied"
	EventCommentDeleted  = "comment.deleted"
	EventPresenceJoined  = "presence.joined"
	EventPresenceLeft    = "presence.left"
	EventPresenceUpdated = "presence.updated"
)

// Event is the realtime message shape. Origin identifies the client that
// caused it so the client's own events can be skipped.
type Event struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	Payload    json.RawMessage `json:"payload"`
	Origin     string          `json:"origin,omitempty"`
}

func NewEvent(eventType, documentID, origin string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, DocumentID: documentID, Payload: raw, Origin: origin}, nil
}

// Handler receives events for one document. Handlers must not block.
type Handler func(Event)

type Broker interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe delivers the document's events to h until the returned cancel
	// func is called or ctx ends.
	Subscribe(ctx context.Context, documentID string, h Handler) (cancel func(), err error)
	Close() error
}
