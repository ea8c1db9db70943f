// Package catalog declares the cached views of the library catalogue and the
// keys they are stored under.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bookshelf-api/internal/model"
	"bookshelf-api/internal/repository"
	"bookshelf-api/internal/views"
)

// Filtered view names.
const (
	ViewGenre            = "genre"
	ViewFoundedYear      = "foundedYear"
	ViewAuthorSearch     = "search:author"
	ViewBookSearch       = "search:book"
	ViewBooksByAuthor    = "booksByAuthor"
	ViewBooksByPublisher = "booksByPublisher"
)

// Kinds lists every entity kind, in the order their views are registered.
var Kinds = []string{model.KindAuthor, model.KindBook, model.KindPublisher}

// Relationships between books and their parents.
var Relationships = []views.Relationship{
	{ChildKind: model.KindBook, Field: model.FieldAuthorID, ParentKind: model.KindAuthor, BackRef: model.FieldBooks},
	{ChildKind: model.KindBook, Field: model.FieldPublisherID, ParentKind: model.KindPublisher, BackRef: model.FieldBooks},
}

// Options controls view expiry.
type Options struct {
	ListTTL     time.Duration
	FilteredTTL time.Duration
}

// NewRegistry registers every catalogue view.
func NewRegistry(opts Options) (*views.Registry, error) {
	reg := views.NewRegistry()

	for _, kind := range Kinds {
		if err := reg.Register(views.EntityView(kind), views.ListView(kind, opts.ListTTL)); err != nil {
			return nil, err
		}
	}

	err := reg.Register(
		views.FilteredView(ViewGenre, model.KindBook, 1, opts.FilteredTTL, func(p []string) (repository.Filter, error) {
			return repository.Filter{repository.Eq(model.FieldGenre, p[0])}, nil
		}),
		views.FilteredView(ViewFoundedYear, model.KindPublisher, 2, opts.FilteredTTL, foundedYearFilter),
		views.FilteredView(ViewAuthorSearch, model.KindAuthor, 1, opts.FilteredTTL, func(p []string) (repository.Filter, error) {
			return repository.Filter{repository.Contains(model.FieldName, p[0])}, nil
		}),
		views.FilteredView(ViewBookSearch, model.KindBook, 1, opts.FilteredTTL, func(p []string) (repository.Filter, error) {
			return repository.Filter{repository.Contains(model.FieldTitle, p[0])}, nil
		}),
		views.FilteredView(ViewBooksByAuthor, model.KindBook, 1, opts.FilteredTTL, func(p []string) (repository.Filter, error) {
			return repository.Filter{repository.Eq(model.FieldAuthorID, p[0])}, nil
		}),
		views.FilteredView(ViewBooksByPublisher, model.KindBook, 1, opts.FilteredTTL, func(p []string) (repository.Filter, error) {
			return repository.Filter{repository.Eq(model.FieldPublisherID, p[0])}, nil
		}),
	)
	if err != nil {
		return nil, err
	}

	reg.Relate(Relationships...)
	return reg, nil
}

func foundedYearFilter(p []string) (repository.Filter, error) {
	lo, err := strconv.Atoi(p[0])
	if err != nil {
		return nil, fmt.Errorf("invalid min year %q: %w", p[0], err)
	}
	hi, err := strconv.Atoi(p[1])
	if err != nil {
		return nil, fmt.Errorf("invalid max year %q: %w", p[1], err)
	}
	return repository.Filter{repository.Between(model.FieldEstablishedYear, lo, hi)}, nil
}

// EntityKey addresses one cached document.
func EntityKey(kind, id string) views.Key { return views.NewKey(kind, id) }

// ListKey addresses the full list of a kind.
func ListKey(kind string) views.Key { return views.NewKey(model.Collection(kind)) }

// GenreKey addresses the books of one genre.
func GenreKey(genre string) views.Key { return views.NewKey(ViewGenre, genre) }

// FoundedYearKey addresses publishers established strictly between min and max.
func FoundedYearKey(min, max int) views.Key {
	return views.NewKey(ViewFoundedYear, strconv.Itoa(min), strconv.Itoa(max))
}

// AuthorSearchKey addresses authors whose name contains term.
func AuthorSearchKey(term string) views.Key {
	return views.NewKey(ViewAuthorSearch, NormalizeTerm(term))
}

// BookSearchKey addresses books whose title contains term.
func BookSearchKey(term string) views.Key {
	return views.NewKey(ViewBookSearch, NormalizeTerm(term))
}

// BooksByAuthorKey addresses the books written by an author.
func BooksByAuthorKey(authorID string) views.Key { return views.NewKey(ViewBooksByAuthor, authorID) }

// BooksByPublisherKey addresses the books of a publisher.
func BooksByPublisherKey(publisherID string) views.Key {
	return views.NewKey(ViewBooksByPublisher, publisherID)
}

// NormalizeTerm folds search terms so that "Tolkien " and "tolkien" share one
// cached view.
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
