package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Searcher and Indexer used when the server runs
// without PostgreSQL. Matching is a case-insensitive substring test.
type Memory struct {
	mu        sync.RWMutex
	documents map[string]DocumentRecord
	comments  map[string]CommentRecord
}

func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]DocumentRecord),
		comments:  make(map[string]CommentRecord),
	}
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) IndexDocument(doc DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = doc
	return nil
}

func (m *Memory) IndexComment(c CommentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.ID] = c
	return nil
}

func (m *Memory) DeleteComment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comments, id)
	return nil
}

func (m *Memory) Search(_ context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	m.mu.RLock()
	var results []Result
	if q.FilterType == "" || q.FilterType == ResultDocument {
		for _, d := range m.documents {
			if q.FilterDocumentID != "" && d.ID != q.FilterDocumentID {
				continue
			}
			if q.OwnerID != "" && d.OwnerID != q.OwnerID {
				continue
			}
			if contains(d.Title, needle) || contains(d.Content, needle) {
				results = append(results, Result{
					Type:       ResultDocument,
					ID:         d.ID,
					Title:      d.Title,
					Snippet:    snippet(d.Content, needle),
					DocumentID: d.ID,
				})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		for _, c := range m.comments {
			if q.FilterDocumentID != "" && c.DocumentID != q.FilterDocumentID {
				continue
			}
			if q.OwnerID != "" && c.OwnerID != q.OwnerID {
				continue
			}
			if contains(c.Body, needle) {
				results = append(results, Result{
					Type:       ResultComment,
					ID:         c.ID,
					Title:      c.AuthorName,
					Snippet:    snippet(c.Body, needle),
					DocumentID: c.DocumentID,
				})
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Type != results[j].Type {
			return results[i].Type == ResultDocument
		}
		return results[i].ID < results[j].ID
	})

	total := len(results)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := max(q.Offset, 0)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return results[offset:end], total, nil
}

func contains(haystack, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(haystack), lowerNeedle)
}

// snippet returns up to 30 runes of context on either side of the first match.
func snippet(text, lowerNeedle string) string {
	runes := []rune(text)
	lower := []rune(strings.ToLower(text))
	needle := []rune(lowerNeedle)
	at := -1
	for i := 0; i+len(needle) <= len(lower); i++ {
		if string(lower[i:i+len(needle)]) == lowerNeedle {
			at = i
			break
		}
	}
	if at < 0 {
		at = 0
	}
	start := max(at-30, 0)
	end := min(at+len(needle)+30, len(runes))
	return strings.TrimSpace(string(runes[start:end]))
}
