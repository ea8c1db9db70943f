package views

import (
	"errors"
	"fmt"
	"strings"

	"bookshelf-api/internal/cache"
)

var (
	// ErrCacheUnavailable is re-exported so callers need only this package.
	ErrCacheUnavailable = cache.ErrCacheUnavailable

	// ErrCacheRefreshFailed means the store write committed but one or more
	// cached views could not be refreshed afterwards.
	ErrCacheRefreshFailed = errors.New("cache refresh failed")

	// ErrNotFound means the entity behind an entity view does not exist.
	ErrNotFound = errors.New("view source not found")

	// ErrInconsistentRelationship means a referenced parent is missing from the store.
	ErrInconsistentRelationship = errors.New("inconsistent relationship")

	// ErrUnknownView is returned for keys no descriptor is registered for.
	ErrUnknownView = errors.New("unknown view")
)

// RefreshError lists the view keys that failed to refresh. It matches
// ErrCacheRefreshFailed with errors.Is.
type RefreshError struct {
	Keys   []string
	Causes []error
}

func (e *RefreshError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrCacheRefreshFailed, strings.Join(e.Keys, ", "))
	if len(e.Causes) > 0 {
		msg += fmt.Sprintf(" (%v)", e.Causes[0])
	}
	return msg
}

func (e *RefreshError) Unwrap() []error {
	return append([]error{ErrCacheRefreshFailed}, e.Causes...)
}
