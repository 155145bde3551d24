// Package presence tracks who is viewing a document and where their cursor is.
// Records are ephemeral and expire when heartbeats stop.
package presence

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"counsel/api/internal/domain"
)

// Palette holds the collaborator colours handed out when a client does not pick one.
var Palette = []string{"#2563eb", "#059669", "#dc2626", "#7c3aed", "#ea580c", "#0891b2"}

// Range is an advisory selection in projection offsets. It is not validated
// against the document.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type Record struct {
	DocumentID  string    `json:"documentId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Color       string    `json:"color"`
	Selection   *Range    `json:"selection"`
	JoinedAt    time.Time `json:"joinedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

type Config struct {
	// Timeout evicts records whose last heartbeat is older than this.
	Timeout time.Duration
	// OnEvict is called once per record removed by Sweep.
	OnEvict func(Record)
	Now     func() time.Time
}

type records = map[string]Record

type docState struct {
	mu      sync.Mutex
	records atomic.Pointer[records]
}

// Tracker stores presence per document. Writers copy the document's map and
// swap it in, so List never blocks on a writer.
type Tracker struct {
	docs    sync.Map // documentID -> *docState
	timeout time.Duration
	onEvict func(Record)
	now     func() time.Time
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{timeout: cfg.Timeout, onEvict: cfg.OnEvict, now: cfg.Now}
}

func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

func (t *Tracker) state(documentID string) *docState {
	if v, ok := t.docs.Load(documentID); ok {
		return v.(*docState)
	}
	fresh := &docState{}
	empty := records{}
	fresh.records.Store(&empty)
	v, _ := t.docs.LoadOrStore(documentID, fresh)
	return v.(*docState)
}

// update runs fn on a private copy of the document's records and publishes it.
func (t *Tracker) update(documentID string, fn func(records)) {
	st := t.state(documentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	current := *st.records.Load()
	next := make(records, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	fn(next)
	st.records.Store(&next)
}

// DefaultColor picks a palette colour from the user id, so a user keeps the
// same colour across sessions.
func DefaultColor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// Join adds the user to the document. Joining again refreshes the heartbeat
// of the existing record and reports false.
func (t *Tracker) Join(documentID, userID, displayName, color string) (Record, bool) {
	now := t.now()
	var out Record
	var created bool
	t.update(documentID, func(m records) {
		if existing, ok := m[userID]; ok {
			existing.LastSeen = now
			m[userID] = existing
			out = existing
			return
		}
		if strings.TrimSpace(color) == "" {
			color = DefaultColor(userID)
		}
		out = Record{
			DocumentID:  documentID,
			UserID:      userID,
			DisplayName: displayName,
			Color:       color,
			JoinedAt:    now,
			LastSeen:    now,
		}
		m[userID] = out
		created = true
	})
	return out, created
}

func (t *Tracker) UpdateSelection(documentID, userID string, selection *Range) (Record, error) {
	now := t.now()
	var out Record
	var found bool
	t.update(documentID, func(m records) {
		rec, ok := m[userID]
		if !ok {
			return
		}
		if selection != nil {
			sel := *selection
			rec.Selection = &sel
		} else {
			rec.Selection = nil
		}
		rec.LastSeen = now
		m[userID] = rec
		out, found = rec, true
	})
	if !found {
		return Record{}, domain.NotFound("presence", userID)
	}
	return out, nil
}

func (t *Tracker) Heartbeat(documentID, userID string) (Record, error) {
	now := t.now()
	var out Record
	var found bool
	t.update(documentID, func(m records) {
		rec, ok := m[userID]
		if !ok {
			return
		}
		rec.LastSeen = now
		m[userID] = rec
		out, found = rec, true
	})
	if !found {
		return Record{}, domain.NotFound("presence", userID)
	}
	return out, nil
}

// Leave removes the user and reports whether a record existed.
func (t *Tracker) Leave(documentID, userID string) (Record, bool) {
	var out Record
	var found bool
	t.update(documentID, func(m records) {
		out, found = m[userID]
		delete(m, userID)
	})
	return out, found
}

// List returns the document's records ordered by join time.
func (t *Tracker) List(documentID string) []Record {
	v, ok := t.docs.Load(documentID)
	if !ok {
		return []Record{}
	}
	m := *v.(*docState).records.Load()
	out := make([]Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// Count is the number of users present across all documents.
func (t *Tracker) Count() int {
	total := 0
	t.docs.Range(func(_, v any) bool {
		total += len(*v.(*docState).records.Load())
		return true
	})
	return total
}

// Sweep evicts stale records and returns them.
func (t *Tracker) Sweep() []Record {
	now := t.now()
	var evicted []Record
	t.docs.Range(func(key, v any) bool {
		st := v.(*docState)
		stale := false
		for _, rec := range *st.records.Load() {
			if now.Sub(rec.LastSeen) > t.timeout {
				stale = true
				break
			}
		}
		if !stale {
			return true
		}
		t.update(key.(string), func(m records) {
			for id, rec := range m {
				if now.Sub(rec.LastSeen) > t.timeout {
					evicted = append(evicted, rec)
					delete(m, id)
				}
			}
		})
		return true
	})
	if t.onEvict != nil {
		for _, rec := range evicted {
			t.onEvict(rec)
		}
	}
	return evicted
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.timeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
