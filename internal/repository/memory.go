package repository

import (
	"context"
	"sort"
	"sync"

	"bookshelf-api/internal/model"
	"bookshelf-api/pkg/uid"
)

// MemoryStore is an in-process DocumentStore. Documents are cloned on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	seq   int64
	kinds map[string]map[string]*memoryEntry
}

type memoryEntry struct {
	seq int64
	doc model.Document
}

var _ DocumentStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kinds: make(map[string]map[string]*memoryEntry)}
}

// Find returns matching documents in insertion order.
func (s *MemoryStore) Find(ctx context.Context, kind string, filter Filter) ([]model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*memoryEntry, 0, len(s.kinds[kind]))
	for _, e := range s.kinds[kind] {
		if filter.Match(e.doc) {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)

	docs := make([]model.Document, len(entries))
	for i, e := range entries {
		docs[i] = e.doc.Clone()
	}
	return docs, nil
}

// FindByID returns one document or ErrNotFound.
func (s *MemoryStore) FindByID(ctx context.Context, kind, id string) (model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.kinds[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.doc.Clone(), nil
}

// Insert stores a copy of doc.
func (s *MemoryStore) Insert(ctx context.Context, kind string, doc model.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := doc.Clone()
	if stored == nil {
		stored = model.Document{}
	}
	id := stored.ID()
	if id == "" {
		id = uid.New()
		stored[model.IDField] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.kinds[kind]
	if !ok {
		byID = make(map[string]*memoryEntry)
		s.kinds[kind] = byID
	}
	s.seq++
	byID[id] = &memoryEntry{seq: s.seq, doc: stored}
	return id, nil
}

// Update applies patch to the stored document.
func (s *MemoryStore) Update(ctx context.Context, kind, id string, patch Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.kinds[kind][id]
	if !ok {
		return false, nil
	}
	cp := patch
	if cp.Set != nil {
		cp.Set = model.Document(cp.Set).Clone()
	}
	applyPatch(e.doc, cp)
	return true, nil
}

// Delete removes a document.
func (s *MemoryStore) Delete(ctx context.Context, kind, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.kinds[kind][id]; !ok {
		return false, nil
	}
	delete(s.kinds[kind], id)
	return true, nil
}

// Stats returns document counts per kind.
func (s *MemoryStore) Stats(ctx context.Context, kinds []string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{"backend": "memory", "status": "connected"}
	for _, kind := range kinds {
		stats[model.Collection(kind)] = len(s.kinds[kind])
	}
	return stats, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func sortEntries(entries []*memoryEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}
