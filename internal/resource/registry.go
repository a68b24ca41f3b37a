package resource

import (
	"errors"
	"fmt"
	"sort"
)

// ContentFormatTextPlain is the CoAP Content-Format for text/plain;charset=utf-8.
const ContentFormatTextPlain uint16 = 0

// DiscoveryPath is answered by resource discovery (RFC 6690) and is never
// registered as a file resource.
const DiscoveryPath = ".well-known/core"

// ErrDuplicateResource is returned when a path is registered twice.
var ErrDuplicateResource = errors.New("resource already registered")

// Entry is a registered resource and its content-format hint.
type Entry struct {
	Handler       Handler
	ContentFormat uint16
}

// Registry maps relative paths to resources.
//
// It is filled once by Build and only read afterwards, so it carries no
// lock; the handlers' dirty flags are the only state that changes.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds handler under path with the given content-format hint.
func (r *Registry) Register(path string, handler Handler, contentFormat uint16) error {
	if path == "" {
		return fmt.Errorf("resource path cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("resource %q: handler cannot be nil", path)
	}
	if _, exists := r.entries[path]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, path)
	}

	r.entries[path] = Entry{Handler: handler, ContentFormat: contentFormat}
	return nil
}

// Lookup returns the entry registered under path.
func (r *Registry) Lookup(path string) (Entry, bool) {
	e, ok := r.entries[path]
	return e, ok
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Paths returns all registered paths in lexical order.
func (r *Registry) Paths() []string {
	paths := make([]string, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
