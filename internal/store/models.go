package store

import (
	"encoding/json"
	"time"

	"counsel/api/internal/anchor"
)

type Document struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
	// Text is the plain-text projection of Content.
	Text      string    `json:"text"`
	Revision  int64     `json:"revision"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Comment struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"documentId"`
	AuthorID   string        `json:"authorId"`
	AuthorName string        `json:"authorName"`
	Body       string        `json:"body"`
	Anchor     anchor.Anchor `json:"anchor"`
	CreatedAt  time.Time     `json:"createdAt"`
	Replies    []Reply       `json:"replies"`
}

type Reply struct {
	ID         string    `json:"id"`
	CommentID  string    `json:"commentId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Edit is one entry of a document's edit log. Revision is the revision the
// op produced.
type Edit struct {
	DocumentID string    `json:"documentId"`
	Revision   int64     `json:"revision"`
	Op         anchor.Op `json:"op"`
	AuthorID   string    `json:"authorId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CommentCursor is the position after which the next page of comments starts.
type CommentCursor struct {
	CreatedAt time.Time
	ID        string
}

// Before reports whether c sorts after the cursor in newest-first order.
func (c Comment) Before(cur CommentCursor) bool {
	if c.CreatedAt.Equal(cur.CreatedAt) {
		return c.ID < cur.ID
	}
	return c.CreatedAt.Before(cur.CreatedAt)
}

// EditCommit is an accepted edit: the new content and the log entry to append.
type EditCommit struct {
	DocumentID       string
	ExpectedRevision int64
	Content          json.RawMessage
	Text             string
	Edit             Edit
}
