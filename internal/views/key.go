package views

import (
	"fmt"
	"strings"
)

// Key addresses one cached view: the view name followed by its parameters,
// joined with ':' ("author:42", "authors", "foundedYear:1900:2000").
type Key struct {
	Name   string
	Params []string
}

// NewKey builds a key for the named view.
func NewKey(name string, params ...string) Key {
	return Key{Name: name, Params: params}
}

// String returns the cache key.
func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Name
	}
	return k.Name + ":" + strings.Join(k.Params, ":")
}

// parseKey splits raw into the parameters of a view with the given name and
// arity. The last parameter absorbs any remaining ':' characters.
func parseKey(name string, arity int, raw string) (Key, error) {
	if arity == 0 {
		if raw != name {
			return Key{}, fmt.Errorf("key %q does not belong to view %q", raw, name)
		}
		return Key{Name: name}, nil
	}

	prefix := name + ":"
	if !strings.HasPrefix(raw, prefix) {
		return Key{}, fmt.Errorf("key %q does not belong to view %q", raw, name)
	}
	params := strings.SplitN(strings.TrimPrefix(raw, prefix), ":", arity)
	if len(params) != arity {
		return Key{}, fmt.Errorf("key %q: want %d params, got %d", raw, arity, len(params))
	}
	return Key{Name: name, Params: params}, nil
}
