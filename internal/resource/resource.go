// Package resource maps a directory tree onto addressable resources.
//
// A Resource stands for exactly one file below the served root. The
// namespace builder (Build) walks the root once at startup and registers a
// Resource per non-directory entry in a Registry; the protocol engine then
// looks resources up by their root-relative path and calls Read or Write.
package resource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/marmos91/coapfs/internal/logger"
)

// DefaultMaxReadSize is the per-response read cap.
const DefaultMaxReadSize = 255

// Status is the outcome of a handler call, independent of protocol codes.
type Status int

const (
	// StatusContent is a successful read carrying content.
	StatusContent Status = iota

	// StatusChanged is a successful write with no content.
	StatusChanged

	// StatusServerError covers every local failure. Callers never learn
	// whether the file was missing, unreadable or failed mid-I/O.
	StatusServerError
)

func (s Status) String() string {
	switch s {
	case StatusContent:
		return "Content"
	case StatusChanged:
		return "Changed"
	case StatusServerError:
		return "ServerError"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Handler is the capability the protocol engine invokes for a resource.
type Handler interface {
	// Path returns the root-relative resource path.
	Path() string

	// Read returns at most the configured cap of file content.
	Read() (Status, []byte)

	// Write replaces the file content with payload.
	Write(payload []byte) Status

	// TakeDirty reports whether a write was attempted (or an outside
	// change seen) since the last call, and clears the flag.
	TakeDirty() bool
}

// Resource is one file exposed for read and replace.
//
// The absolute path is never stored; it is derived from root and the
// relative path on each request.
type Resource struct {
	root        string
	path        string
	maxReadSize int
	dirty       atomic.Bool
}

// NewResource creates a resource for relPath (slash separated, no leading
// slash) under root. maxReadSize <= 0 selects DefaultMaxReadSize.
func NewResource(root, relPath string, maxReadSize int) *Resource {
	if maxReadSize <= 0 {
		maxReadSize = DefaultMaxReadSize
	}
	return &Resource{
		root:        root,
		path:        relPath,
		maxReadSize: maxReadSize,
	}
}

func (r *Resource) Path() string {
	return r.path
}

// AbsolutePath returns the backing file path.
func (r *Resource) AbsolutePath() string {
	return filepath.Join(r.root, filepath.FromSlash(r.path))
}

// Dirty reports the flag without clearing it.
func (r *Resource) Dirty() bool {
	return r.dirty.Load()
}

// MarkDirty flags a change made outside the server.
func (r *Resource) MarkDirty() {
	r.dirty.Store(true)
}

func (r *Resource) TakeDirty() bool {
	return r.dirty.Swap(false)
}

// Read opens the backing file and performs a single read of up to the
// resource's cap. Larger files are truncated to the cap; an empty file is
// a successful zero-length read.
func (r *Resource) Read() (Status, []byte) {
	name := r.AbsolutePath()

	f, err := os.Open(name)
	if err != nil {
		logger.Warn("read %s: open failed: %v", r.path, err)
		return StatusServerError, nil
	}
	defer f.Close()

	buf := make([]byte, r.maxReadSize)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("read %s: %v", r.path, err)
		return StatusServerError, nil
	}

	logger.Debug("file %s, read %d bytes", r.path, n)
	return StatusContent, buf[:n]
}

// Write replaces the content of an existing file with payload using a
// single write call. The file is never created.
//
// The resource is marked dirty before the file is touched, so observers
// may be told about a change that then failed.
func (r *Resource) Write(payload []byte) Status {
	r.dirty.Store(true)

	name := r.AbsolutePath()

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		logger.Warn("write %s: open failed: %v", r.path, err)
		return StatusServerError
	}
	defer f.Close()

	n, err := f.Write(payload)
	if err != nil {
		logger.Warn("write %s: %v", r.path, err)
		return StatusServerError
	}
	if n != len(payload) {
		logger.Warn("write %s: short write %d of %d bytes", r.path, n, len(payload))
		return StatusServerError
	}

	logger.Debug("file %s, write %d bytes", r.path, n)
	return StatusChanged
}
