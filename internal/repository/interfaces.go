package repository

import (
	"context"
	"errors"

	"bookshelf-api/internal/model"
)

// ErrNotFound is returned by FindByID when no document has the given id.
var ErrNotFound = errors.New("document not found")

// DocumentStore is the source of truth for all entities.
// Find returns documents in insertion order so that repeated reads of an
// unchanged store produce identical results.
type DocumentStore interface {
	// Find returns every document of kind matching filter (nil matches all).
	Find(ctx context.Context, kind string, filter Filter) ([]model.Document, error)

	// FindByID returns one document or ErrNotFound.
	FindByID(ctx context.Context, kind, id string) (model.Document, error)

	// Insert stores doc, generating an id when doc has none, and returns the id.
	Insert(ctx context.Context, kind string, doc model.Document) (string, error)

	// Update applies patch to one document. matched is false if id does not exist.
	Update(ctx context.Context, kind, id string, patch Patch) (matched bool, err error)

	// Delete removes one document. removed is false if id did not exist.
	Delete(ctx context.Context, kind, id string) (removed bool, err error)

	// Stats returns per-kind document counts and backend details.
	Stats(ctx context.Context, kinds []string) (map[string]any, error)

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Patch describes a partial update. Push adds a value to an array field if it
// is not already present; Pull removes every occurrence of a value.
type Patch struct {
	Set  map[string]any
	Push map[string]string
	Pull map[string]string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Push) == 0 && len(p.Pull) == 0
}

// applyPatch mutates doc in place. Used by stores that patch in Go.
func applyPatch(doc model.Document, p Patch) {
	for field, value := range p.Set {
		doc[field] = value
	}
	for field, value := range p.Push {
		ids := doc.IDs(field)
		present := false
		for _, id := range ids {
			if id == value {
				present = true
				break
			}
		}
		if !present {
			ids = append(ids, value)
		}
		doc[field] = toAnySlice(ids)
	}
	for field, value := range p.Pull {
		ids := doc.IDs(field)
		kept := ids[:0]
		for _, id := range ids {
			if id != value {
				kept = append(kept, id)
			}
		}
		doc[field] = toAnySlice(kept)
	}
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
