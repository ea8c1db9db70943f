package views

import (
	"context"
	"fmt"
	"strings"

	"bookshelf-api/internal/cache"
	"bookshelf-api/internal/model"
)

// Registry holds every view descriptor and the relationships between kinds.
// It is built once at startup and read-only afterwards.
type Registry struct {
	descriptors   []*Descriptor
	byName        map[string]*Descriptor
	relationships []Relationship
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds descriptors. View names must be unique.
func (r *Registry) Register(descriptors ...*Descriptor) error {
	for _, d := range descriptors {
		if d.Name == "" || d.Recompute == nil || d.AffectedBy == nil {
			return fmt.Errorf("view %q: incomplete descriptor", d.Name)
		}
		if _, exists := r.byName[d.Name]; exists {
			return fmt.Errorf("view %q already registered", d.Name)
		}
		r.byName[d.Name] = d
		r.descriptors = append(r.descriptors, d)
	}
	return nil
}

// Relate declares a child→parent reference.
func (r *Registry) Relate(rels ...Relationship) {
	r.relationships = append(r.relationships, rels...)
}

// Lookup returns the descriptor for a view name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	return r.descriptors
}

// Relationships returns the references held by documents of childKind.
func (r *Registry) Relationships(childKind string) []Relationship {
	var out []Relationship
	for _, rel := range r.relationships {
		if rel.ChildKind == childKind {
			out = append(out, rel)
		}
	}
	return out
}

// Parse resolves a raw cache key to its view. When several view names prefix
// the key the longest one wins ("search:author:x" belongs to "search:author").
func (r *Registry) Parse(raw string) (Key, *Descriptor, error) {
	var best *Descriptor
	for _, d := range r.descriptors {
		if raw != d.Name && !strings.HasPrefix(raw, d.Name+":") {
			continue
		}
		if best == nil || len(d.Name) > len(best.Name) {
			best = d
		}
	}
	if best == nil {
		return Key{}, nil, fmt.Errorf("%w: %q", ErrUnknownView, raw)
	}

	key, err := parseKey(best.Name, best.Arity, raw)
	if err != nil {
		return Key{}, nil, fmt.Errorf("%w: %v", ErrUnknownView, err)
	}
	return key, best, nil
}

// Scope is what AffectedBy sees of one mutation: the documents it touched and
// the view keys currently cached.
type Scope struct {
	touched map[string][]model.Document
	index   *keyIndex
}

func newScope(index *keyIndex) *Scope {
	return &Scope{touched: make(map[string][]model.Document), index: index}
}

func (s *Scope) add(kind string, docs ...model.Document) {
	for _, doc := range docs {
		if doc != nil {
			s.touched[kind] = append(s.touched[kind], doc)
		}
	}
}

// Touched returns every snapshot of kind the mutation touched, both pre- and
// post-mutation.
func (s *Scope) Touched(kind string) []model.Document {
	return s.touched[kind]
}

// TouchedIDs returns the distinct ids of touched documents of kind.
func (s *Scope) TouchedIDs(kind string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, doc := range s.touched[kind] {
		id := doc.ID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// CachedKeys lists the cached instances of a filtered view.
func (s *Scope) CachedKeys(ctx context.Context, d *Descriptor) ([]Key, error) {
	return s.index.keys(ctx, d)
}

// keyIndex memoises cache key listings for the duration of one OnMutation call.
type keyIndex struct {
	cache  cache.Store
	byView map[string][]Key
}

func newKeyIndex(c cache.Store) *keyIndex {
	return &keyIndex{cache: c, byView: make(map[string][]Key)}
}

func (i *keyIndex) keys(ctx context.Context, d *Descriptor) ([]Key, error) {
	if keys, ok := i.byView[d.Name]; ok {
		return keys, nil
	}

	raw, err := i.cache.Keys(ctx, d.Pattern())
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(raw))
	for _, k := range raw {
		key, err := parseKey(d.Name, d.Arity, k)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	i.byView[d.Name] = keys
	return keys, nil
}
