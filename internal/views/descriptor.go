package views

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookshelf-api/internal/model"
	"bookshelf-api/internal/repository"
)

// ViewKind is the closed set of derived-view shapes.
type ViewKind int

const (
	// EntityByID caches one document, keyed "<kind>:<id>". Never expires.
	EntityByID ViewKind = iota
	// CollectionList caches every document of a kind, keyed "<kind>s".
	CollectionList
	// FilteredQuery caches the documents of a kind matching a parameterised predicate.
	FilteredQuery
)

func (k ViewKind) String() string {
	switch k {
	case EntityByID:
		return "entity"
	case CollectionList:
		return "list"
	case FilteredQuery:
		return "filtered"
	}
	return fmt.Sprintf("ViewKind(%d)", int(k))
}

// RecomputeFunc reads the current value of a view from the store. Entity views
// return ErrNotFound when the entity does not exist.
type RecomputeFunc func(ctx context.Context, store repository.DocumentStore, params []string) (any, error)

// AffectedByFunc returns the keys of this view that event may have made stale.
type AffectedByFunc func(ctx context.Context, scope *Scope, event model.MutationEvent) ([]Key, error)

// FilterFunc turns filtered-view parameters into a store filter.
type FilterFunc func(params []string) (repository.Filter, error)

// Descriptor is the static definition of one view.
type Descriptor struct {
	Name       string
	Kind       ViewKind
	EntityKind string
	Arity      int
	TTL        time.Duration
	Recompute  RecomputeFunc
	AffectedBy AffectedByFunc

	filter FilterFunc
}

// Key builds a key for this view.
func (d *Descriptor) Key(params ...string) Key {
	return NewKey(d.Name, params...)
}

// Pattern is the glob matching every cached instance of this view.
func (d *Descriptor) Pattern() string {
	if d.Arity == 0 {
		return d.Name
	}
	return d.Name + ":*"
}

// Filter returns the store filter for a filtered view's parameters.
func (d *Descriptor) Filter(params []string) (repository.Filter, error) {
	if d.filter == nil {
		return nil, nil
	}
	return d.filter(params)
}

// EntityView declares the EntityByID view for kind. It is affected by every
// touched document of kind: the event's own entity and any parent whose
// back-reference array changed.
func EntityView(kind string) *Descriptor {
	return &Descriptor{
		Name:       kind,
		Kind:       EntityByID,
		EntityKind: kind,
		Arity:      1,
		Recompute: func(ctx context.Context, store repository.DocumentStore, params []string) (any, error) {
			doc, err := store.FindByID(ctx, kind, params[0])
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			if err != nil {
				return nil, err
			}
			return doc, nil
		},
		AffectedBy: func(_ context.Context, scope *Scope, _ model.MutationEvent) ([]Key, error) {
			var keys []Key
			for _, id := range scope.TouchedIDs(kind) {
				keys = append(keys, NewKey(kind, id))
			}
			return keys, nil
		},
	}
}

// ListView declares the CollectionList view for kind, stored under the plural
// collection name with the given TTL.
func ListView(kind string, ttl time.Duration) *Descriptor {
	name := model.Collection(kind)
	return &Descriptor{
		Name:       name,
		Kind:       CollectionList,
		EntityKind: kind,
		TTL:        ttl,
		Recompute: func(ctx context.Context, store repository.DocumentStore, _ []string) (any, error) {
			return findAll(ctx, store, kind, nil)
		},
		AffectedBy: func(_ context.Context, scope *Scope, _ model.MutationEvent) ([]Key, error) {
			if len(scope.Touched(kind)) == 0 {
				return nil, nil
			}
			return []Key{NewKey(name)}, nil
		},
	}
}

// FilteredView declares a FilteredQuery view over kind. Its affected keys are
// the currently cached instances whose predicate matches a touched document's
// pre- or post-mutation snapshot.
func FilteredView(name, kind string, arity int, ttl time.Duration, filter FilterFunc) *Descriptor {
	d := &Descriptor{
		Name:       name,
		Kind:       FilteredQuery,
		EntityKind: kind,
		Arity:      arity,
		TTL:        ttl,
		filter:     filter,
	}
	d.Recompute = func(ctx context.Context, store repository.DocumentStore, params []string) (any, error) {
		f, err := d.Filter(params)
		if err != nil {
			return nil, err
		}
		return findAll(ctx, store, kind, f)
	}
	d.AffectedBy = func(ctx context.Context, scope *Scope, _ model.MutationEvent) ([]Key, error) {
		touched := scope.Touched(kind)
		if len(touched) == 0 {
			return nil, nil
		}

		cached, err := scope.CachedKeys(ctx, d)
		if err != nil {
			return nil, err
		}

		var keys []Key
		for _, key := range cached {
			f, err := d.Filter(key.Params)
			if err != nil {
				continue
			}
			for _, doc := range touched {
				if f.Match(doc) {
					keys = append(keys, key)
					break
				}
			}
		}
		return keys, nil
	}
	return d
}

func findAll(ctx context.Context, store repository.DocumentStore, kind string, filter repository.Filter) ([]model.Document, error) {
	docs, err := store.Find(ctx, kind, filter)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return docs, nil
}

// Relationship declares a child reference field mirrored by a back-reference
// array on the parent (book.authorId -> author.books).
type Relationship struct {
	ChildKind  string
	Field      string
	ParentKind string
	BackRef    string
}
