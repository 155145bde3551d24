package pubsub

import (
	"context"
	"sync"
)

// LocalBroker delivers events to subscribers in the same process.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: map[string]map[uint64]Handler{}}
}

func (b *LocalBroker) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.DocumentID]))
	for _, h := range b.subs[event.DocumentID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, documentID string, h Handler) (func(), error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[documentID] == nil {
		b.subs[documentID] = map[uint64]Handler{}
	}
	b.subs[documentID][id] = h
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[documentID], id)
			if len(b.subs[documentID]) == 0 {
				delete(b.subs, documentID)
			}
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}

// Subscribers reports how many handlers are attached to a document.
func (b *LocalBroker) Subscribers(documentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[documentID])
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = map[string]map[uint64]Handler{}
	return nil
}
