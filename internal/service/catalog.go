package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookshelf-api/internal/catalog"
	"bookshelf-api/internal/metrics"
	"bookshelf-api/internal/model"
	"bookshelf-api/internal/repository"
	"bookshelf-api/internal/views"

	"go.uber.org/zap"
)

// CatalogService handles authors, books and publishers. Reads go through the
// view cache; writes go to the document store and are then reported to the
// view engine.
//
// Mutating methods may return a non-nil document together with an error
// wrapping views.ErrCacheRefreshFailed: the write committed, only the cache
// refresh did not.
type CatalogService struct {
	store   repository.DocumentStore
	engine  *views.Engine
	reader  *views.Reader
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewCatalogService creates a catalogue service. timeout bounds each
// operation; zero disables the bound.
func NewCatalogService(store repository.DocumentStore, engine *views.Engine, timeout time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		store:   store,
		engine:  engine,
		reader:  engine.Reader(),
		logger:  logger.Named("catalog"),
		timeout: timeout,
		now:     time.Now,
	}
}

// AuthorInput is the body of author create/update requests.
type AuthorInput struct {
	Name        *string `json:"name"`
	Bio         *string `json:"bio"`
	DateOfBirth *string `json:"dateOfBirth"`
}

// PublisherInput is the body of publisher create/update requests.
type PublisherInput struct {
	Name            *string `json:"name"`
	EstablishedYear *int    `json:"establishedYear"`
	Location        *string `json:"location"`
}

// BookInput is the body of book create/update requests.
type BookInput struct {
	Title           *string `json:"title"`
	PublicationDate *string `json:"publicationDate"`
	Genre           *string `json:"genre"`
	AuthorID        *string `json:"authorId"`
	PublisherID     *string `json:"publisherId"`
}

func (in AuthorInput) fields(create bool) (map[string]any, error) {
	set := make(map[string]any)
	if err := stringField(set, model.FieldName, in.Name, create); err != nil {
		return nil, err
	}
	if err := stringField(set, model.FieldBio, in.Bio, false); err != nil {
		return nil, err
	}
	if in.DateOfBirth != nil {
		dob, err := validDate(model.FieldDateOfBirth, *in.DateOfBirth)
		if err != nil {
			return nil, err
		}
		set[model.FieldDateOfBirth] = dob
	} else if create {
		return nil, invalid(model.FieldDateOfBirth, "is required")
	}
	return set, nil
}

func (in PublisherInput) fields(create bool, now time.Time) (map[string]any, error) {
	set := make(map[string]any)
	if err := stringField(set, model.FieldName, in.Name, create); err != nil {
		return nil, err
	}
	if in.EstablishedYear != nil {
		if err := validYear(model.FieldEstablishedYear, *in.EstablishedYear, now); err != nil {
			return nil, err
		}
		set[model.FieldEstablishedYear] = *in.EstablishedYear
	} else if create {
		return nil, invalid(model.FieldEstablishedYear, "is required")
	}
	if err := stringField(set, model.FieldLocation, in.Location, create); err != nil {
		return nil, err
	}
	return set, nil
}

func (in BookInput) fields(create bool) (map[string]any, error) {
	set := make(map[string]any)
	if err := stringField(set, model.FieldTitle, in.Title, create); err != nil {
		return nil, err
	}
	if in.PublicationDate != nil {
		date, err := validDate(model.FieldPublicationDate, *in.PublicationDate)
		if err != nil {
			return nil, err
		}
		set[model.FieldPublicationDate] = date
	} else if create {
		return nil, invalid(model.FieldPublicationDate, "is required")
	}
	if in.Genre != nil {
		genre, err := validGenre(*in.Genre)
		if err != nil {
			return nil, err
		}
		set[model.FieldGenre] = genre
	} else if create {
		return nil, invalid(model.FieldGenre, "is required")
	}
	if err := stringField(set, model.FieldAuthorID, in.AuthorID, create); err != nil {
		return nil, err
	}
	if err := stringField(set, model.FieldPublisherID, in.PublisherID, create); err != nil {
		return nil, err
	}
	return set, nil
}

// stringField validates an optional string input into set.
func stringField(set map[string]any, field string, value *string, required bool) error {
	if value == nil {
		if required {
			return invalid(field, "is required")
		}
		return nil
	}
	v, err := requiredString(field, value)
	if err != nil {
		return err
	}
	set[field] = v
	return nil
}

// ---- Reads ----

// ListAuthors returns every author.
func (s *CatalogService) ListAuthors(ctx context.Context) ([]model.Document, error) {
	return s.list(ctx, model.KindAuthor, catalog.ListKey(model.KindAuthor))
}

// GetAuthor returns one author.
func (s *CatalogService) GetAuthor(ctx context.Context, id string) (model.Document, error) {
	return s.entity(ctx, model.KindAuthor, id)
}

// SearchAuthors returns authors whose name contains term, case-insensitively.
func (s *CatalogService) SearchAuthors(ctx context.Context, term string) ([]model.Document, error) {
	term, err := validSearchTerm(term)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, model.KindAuthor, catalog.AuthorSearchKey(term))
}

// AuthorBooks returns the books written by an author.
func (s *CatalogService) AuthorBooks(ctx context.Context, id string) ([]model.Document, error) {
	if _, err := s.entity(ctx, model.KindAuthor, id); err != nil {
		return nil, err
	}
	return s.list(ctx, model.KindBook, catalog.BooksByAuthorKey(strings.TrimSpace(id)))
}

// ListBooks returns every book.
func (s *CatalogService) ListBooks(ctx context.Context) ([]model.Document, error) {
	return s.list(ctx, model.KindBook, catalog.ListKey(model.KindBook))
}

// GetBook returns one book.
func (s *CatalogService) GetBook(ctx context.Context, id string) (model.Document, error) {
	return s.entity(ctx, model.KindBook, id)
}

// SearchBooks returns books whose title contains term, case-insensitively.
func (s *CatalogService) SearchBooks(ctx context.Context, term string) ([]model.Document, error) {
	term, err := validSearchTerm(term)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, model.KindBook, catalog.BookSearchKey(term))
}

// BooksByGenre returns the books of one genre.
func (s *CatalogService) BooksByGenre(ctx context.Context, genre string) ([]model.Document, error) {
	genre, err := validGenre(genre)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, model.KindBook, catalog.GenreKey(genre))
}

// ListPublishers returns every publisher.
func (s *CatalogService) ListPublishers(ctx context.Context) ([]model.Document, error) {
	return s.list(ctx, model.KindPublisher, catalog.ListKey(model.KindPublisher))
}

// GetPublisher returns one publisher.
func (s *CatalogService) GetPublisher(ctx context.Context, id string) (model.Document, error) {
	return s.entity(ctx, model.KindPublisher, id)
}

// PublishersEstablishedBetween returns publishers with min < establishedYear < max.
func (s *CatalogService) PublishersEstablishedBetween(ctx context.Context, min, max int) ([]model.Document, error) {
	if max < min || min <= 0 || max > s.now().Year()+5 {
		return nil, invalid("min/max", "need 0 < min <= max <= %d", s.now().Year()+5)
	}
	return s.list(ctx, model.KindPublisher, catalog.FoundedYearKey(min, max))
}

// PublisherBooks returns the books of a publisher.
func (s *CatalogService) PublisherBooks(ctx context.Context, id string) ([]model.Document, error) {
	if _, err := s.entity(ctx, model.KindPublisher, id); err != nil {
		return nil, err
	}
	return s.list(ctx, model.KindBook, catalog.BooksByPublisherKey(strings.TrimSpace(id)))
}

func (s *CatalogService) entity(ctx context.Context, kind, id string) (model.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid(model.IDField, "must not be empty")
	}

	doc, err := views.Load[model.Document](ctx, s.reader, catalog.EntityKey(kind, id))
	if errors.Is(err, views.ErrNotFound) {
		return nil, fmt.Errorf("%w: no %s with id %q", ErrNotFound, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}
	return decorate(kind, doc), nil
}

func (s *CatalogService) list(ctx context.Context, kind string, key views.Key) ([]model.Document, error) {
	docs, err := views.Load[[]model.Document](ctx, s.reader, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if docs == nil {
		docs = []model.Document{}
	}
	for _, doc := range docs {
		decorate(kind, doc)
	}
	return docs, nil
}

// decorate adds computed fields to a response document.
func decorate(kind string, doc model.Document) model.Document {
	if kind == model.KindAuthor || kind == model.KindPublisher {
		doc[model.FieldNumOfBooks] = len(doc.IDs(model.FieldBooks))
	}
	return doc
}

// ---- Writes ----

// CreateAuthor validates and inserts an author.
func (s *CatalogService) CreateAuthor(ctx context.Context, in AuthorInput) (model.Document, error) {
	set, err := in.fields(true)
	if err != nil {
		return nil, err
	}
	set[model.FieldBooks] = []any{}
	return s.create(ctx, model.KindAuthor, set)
}

// UpdateAuthor applies the provided fields to an author.
func (s *CatalogService) UpdateAuthor(ctx context.Context, id string, in AuthorInput) (model.Document, error) {
	set, err := in.fields(false)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, model.KindAuthor, id, set)
}

// DeleteAuthor removes an author together with all of their books.
func (s *CatalogService) DeleteAuthor(ctx context.Context, id string) (model.Document, error) {
	return s.delete(ctx, model.KindAuthor, id)
}

// CreatePublisher validates and inserts a publisher.
func (s *CatalogService) CreatePublisher(ctx context.Context, in PublisherInput) (model.Document, error) {
	set, err := in.fields(true, s.now())
	if err != nil {
		return nil, err
	}
	set[model.FieldBooks] = []any{}
	return s.create(ctx, model.KindPublisher, set)
}

// UpdatePublisher applies the provided fields to a publisher.
func (s *CatalogService) UpdatePublisher(ctx context.Context, id string, in PublisherInput) (model.Document, error) {
	set, err := in.fields(false, s.now())
	if err != nil {
		return nil, err
	}
	return s.update(ctx, model.KindPublisher, id, set)
}

// DeletePublisher removes a publisher together with all of its books.
func (s *CatalogService) DeletePublisher(ctx context.Context, id string) (model.Document, error) {
	return s.delete(ctx, model.KindPublisher, id)
}

// CreateBook validates and inserts a book, linking it to its author and publisher.
func (s *CatalogService) CreateBook(ctx context.Context, in BookInput) (model.Document, error) {
	set, err := in.fields(true)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, model.KindBook, set)
}

// UpdateBook applies the provided fields to a book, moving it between
// authors or publishers when those references change.
func (s *CatalogService) UpdateBook(ctx context.Context, id string, in BookInput) (model.Document, error) {
	set, err := in.fields(false)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, model.KindBook, id, set)
}

// DeleteBook removes a book and unlinks it from its parents.
func (s *CatalogService) DeleteBook(ctx context.Context, id string) (model.Document, error) {
	return s.delete(ctx, model.KindBook, id)
}

func (s *CatalogService) create(ctx context.Context, kind string, set map[string]any) (model.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.requireParents(ctx, kind, set); err != nil {
		return nil, err
	}

	doc := model.Document(set)
	id, err := s.store.Insert(ctx, kind, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	doc[model.IDField] = id

	for _, rel := range childRelationships(kind) {
		if err := s.link(ctx, rel, doc.String(rel.Field), id); err != nil {
			return nil, s.interrupted(ctx, model.MutationEvent{Kind: kind, ID: id, Op: model.OpCreate}, err)
		}
	}

	err = s.publish(ctx, model.MutationEvent{Kind: kind, ID: id, Op: model.OpCreate, After: doc.Clone()})
	return decorate(kind, doc), err
}

func (s *CatalogService) update(ctx context.Context, kind, id string, set map[string]any) (model.Document, error) {
	if len(set) == 0 {
		return nil, errNoFields
	}
	id = strings.TrimSpace(id)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	before, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireParents(ctx, kind, set); err != nil {
		return nil, err
	}

	// From here on the store may hold part of the write, so failures are
	// reported to the engine before returning.
	partial := model.MutationEvent{Kind: kind, ID: id, Op: model.OpUpdate, Before: before.Clone()}

	matched, err := s.store.Update(ctx, kind, id, repository.Patch{Set: set})
	if err != nil {
		return nil, s.interrupted(ctx, partial, fmt.Errorf("failed to update %s %s: %w", kind, id, err))
	}
	if !matched {
		return nil, fmt.Errorf("%w: no %s with id %q", ErrNotFound, kind, id)
	}

	for _, rel := range childRelationships(kind) {
		next, changed := set[rel.Field].(string)
		prev := before.String(rel.Field)
		if !changed || next == prev {
			continue
		}
		if err := s.unlink(ctx, rel, prev, id); err != nil {
			return nil, s.interrupted(ctx, partial, err)
		}
		if err := s.link(ctx, rel, next, id); err != nil {
			return nil, s.interrupted(ctx, partial, err)
		}
	}

	after, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, s.interrupted(ctx, partial, err)
	}

	err = s.publish(ctx, model.MutationEvent{Kind: kind, ID: id, Op: model.OpUpdate, Before: before, After: after.Clone()})
	return decorate(kind, after), err
}

// delete removes an entity. Children referencing it are deleted first and
// reported as cascaded events.
func (s *CatalogService) delete(ctx context.Context, kind, id string) (model.Document, error) {
	id = strings.TrimSpace(id)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	before, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	// The entity survives until store.Delete succeeds, so an aborted delete
	// is reported as an update carrying the children already removed.
	partial := model.MutationEvent{Kind: kind, ID: id, Op: model.OpUpdate, Before: before.Clone()}

	for _, rel := range parentRelationships(kind) {
		for _, childID := range before.IDs(rel.BackRef) {
			ev, err := s.removeChild(ctx, rel.ChildKind, childID, kind)
			if ev != nil {
				partial.Cascade = append(partial.Cascade, *ev)
			}
			if err != nil {
				return nil, s.interrupted(ctx, partial, err)
			}
		}
	}

	for _, rel := range childRelationships(kind) {
		if err := s.unlink(ctx, rel, before.String(rel.Field), id); err != nil {
			return nil, s.interrupted(ctx, partial, err)
		}
	}

	removed, err := s.store.Delete(ctx, kind, id)
	if err != nil {
		return nil, s.interrupted(ctx, partial, fmt.Errorf("failed to delete %s %s: %w", kind, id, err))
	}
	if !removed {
		return nil, s.interrupted(ctx, partial, fmt.Errorf("%w: no %s with id %q", ErrNotFound, kind, id))
	}

	err = s.publish(ctx, model.MutationEvent{Kind: kind, ID: id, Op: model.OpDelete, Before: before.Clone(), Cascade: partial.Cascade})
	return decorate(kind, before), err
}

// removeChild deletes one child of a parent being deleted, unlinking it from
// every other parent. A child already gone is skipped. When the removal
// fails after an unlink, the returned event reports the child as interrupted.
func (s *CatalogService) removeChild(ctx context.Context, kind, id, parentKind string) (*model.MutationEvent, error) {
	child, err := s.store.FindByID(ctx, kind, id)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("back-reference points at a missing document",
			zap.String("kind", kind), zap.String("id", id), zap.Error(views.ErrInconsistentRelationship))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}

	unlinked := false
	for _, rel := range childRelationships(kind) {
		if rel.ParentKind == parentKind {
			continue
		}
		if err := s.unlink(ctx, rel, child.String(rel.Field), id); err != nil {
			return stranded(kind, id, child, unlinked), err
		}
		unlinked = true
	}

	if _, err := s.store.Delete(ctx, kind, id); err != nil {
		return stranded(kind, id, child, unlinked), fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	metrics.MutationsTotal.WithLabelValues(kind, string(model.OpDelete)).Inc()
	return &model.MutationEvent{Kind: kind, ID: id, Op: model.OpDelete, Before: child}, nil
}

// stranded describes a child whose removal stopped part-way, or nil when
// nothing about it was written.
func stranded(kind, id string, child model.Document, unlinked bool) *model.MutationEvent {
	if !unlinked {
		return nil
	}
	return &model.MutationEvent{Kind: kind, ID: id, Op: model.OpUpdate, Before: child, Interrupted: true}
}

// interrupted reports the committed part of a failed write to the engine and
// returns cause, joined with the refresh error if there was one. After is
// re-read from the store; a document that is gone leaves it nil.
func (s *CatalogService) interrupted(ctx context.Context, event model.MutationEvent, cause error) error {
	event.Interrupted = true

	readCtx, cancel := s.withTimeout(context.WithoutCancel(ctx))
	current, err := s.store.FindByID(readCtx, event.Kind, event.ID)
	cancel()
	if err == nil {
		event.After = current
	}

	s.logger.Warn("write interrupted, refreshing what committed",
		zap.String("kind", event.Kind), zap.String("id", event.ID),
		zap.Int("cascaded", len(event.Cascade)), zap.Error(cause))

	if err := s.publish(ctx, event); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// requireParents checks that every reference in set points at an existing parent.
func (s *CatalogService) requireParents(ctx context.Context, kind string, set map[string]any) error {
	for _, rel := range childRelationships(kind) {
		ref, ok := set[rel.Field].(string)
		if !ok {
			continue
		}
		if _, err := s.find(ctx, rel.ParentKind, ref); err != nil {
			return err
		}
	}
	return nil
}

// link adds childID to the parent's back-reference array.
func (s *CatalogService) link(ctx context.Context, rel views.Relationship, parentID, childID string) error {
	return s.backRef(ctx, rel, parentID, repository.Patch{Push: map[string]string{rel.BackRef: childID}})
}

// unlink removes childID from the parent's back-reference array.
func (s *CatalogService) unlink(ctx context.Context, rel views.Relationship, parentID, childID string) error {
	return s.backRef(ctx, rel, parentID, repository.Patch{Pull: map[string]string{rel.BackRef: childID}})
}

func (s *CatalogService) backRef(ctx context.Context, rel views.Relationship, parentID string, patch repository.Patch) error {
	if parentID == "" {
		return nil
	}
	matched, err := s.store.Update(ctx, rel.ParentKind, parentID, patch)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", rel.ParentKind, parentID, err)
	}
	if !matched {
		s.logger.Warn("parent missing while updating back-reference",
			zap.String("parent", rel.ParentKind+":"+parentID), zap.Error(views.ErrInconsistentRelationship))
	}
	return nil
}

func (s *CatalogService) find(ctx context.Context, kind, id string) (model.Document, error) {
	doc, err := s.store.FindByID(ctx, kind, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: no %s with id %q", ErrNotFound, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	return doc, nil
}

// publish reports a committed write to the view engine. The refresh runs on
// a context detached from the caller so an abandoned request cannot leave
// half-refreshed views behind.
func (s *CatalogService) publish(ctx context.Context, event model.MutationEvent) error {
	metrics.MutationsTotal.WithLabelValues(event.Kind, string(event.Op)).Inc()

	ctx, cancel := s.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	return s.engine.OnMutation(ctx, event)
}

func (s *CatalogService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// childRelationships returns the references documents of kind hold.
func childRelationships(kind string) []views.Relationship {
	var out []views.Relationship
	for _, rel := range catalog.Relationships {
		if rel.ChildKind == kind {
			out = append(out, rel)
		}
	}
	return out
}

// parentRelationships returns the references pointing at documents of kind.
func parentRelationships(kind string) []views.Relationship {
	var out []views.Relationship
	for _, rel := range catalog.Relationships {
		if rel.ParentKind == kind {
			out = append(out, rel)
		}
	}
	return out
}

// ---- Administration ----

// Stats reports store counts and view engine state.
func (s *CatalogService) Stats(ctx context.Context) (map[string]any, error) {
	storeStats, err := s.store.Stats(ctx, catalog.Kinds)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	return map[string]any{
		"store": storeStats,
		"views": s.engine.Stats(),
	}, nil
}

// EvictView force-evicts one cached view by its raw cache key.
func (s *CatalogService) EvictView(ctx context.Context, raw string) (bool, error) {
	key, _, err := s.engine.Registry().Parse(strings.TrimSpace(raw))
	if err != nil {
		return false, err
	}
	return s.engine.Evict(ctx, key)
}
