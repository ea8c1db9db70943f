// Package uid mints the ids given to documents by stores that cannot assign
// their own, and to requests that arrive without a usable X-Request-ID.
package uid

import "github.com/google/uuid"

// New returns a random (version 4) UUID in canonical form.
func New() string {
	return uuid.NewString()
}

// IsValid reports whether id is a UUID in the canonical 36-character form.
// The braced and urn: spellings uuid.Parse also accepts are rejected so an
// echoed header always matches what New produces.
func IsValid(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
