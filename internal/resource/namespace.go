package resource

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/marmos91/coapfs/internal/logger"
)

// ErrNotAbsolute is returned when the root directory is a relative path.
var ErrNotAbsolute = errors.New("root directory must be an absolute path")

// ScanError reports a root directory that could not be opened.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("can't open %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Options configures the namespace builder.
type Options struct {
	// Root is the absolute directory to serve.
	Root string

	// MaxReadSize caps every read response (0 selects DefaultMaxReadSize).
	MaxReadSize int

	// ContentFormat is the hint registered with every resource.
	ContentFormat uint16

	// Exclude lists glob patterns matched against relative paths. A
	// matching directory is not descended into.
	Exclude []string
}

type builder struct {
	opts     Options
	registry *Registry
	exclude  []glob.Glob
}

// Build walks opts.Root depth-first and registers one Resource for every
// entry that is not a directory. Symlinks and special files are registered
// like regular files; symlinks are never followed during the walk.
//
// A file at DiscoveryPath is skipped with a warning, since discovery
// answers that path.
//
// Only a root that cannot be opened fails the build. Entries that cannot
// be stat'ed and nested directories that cannot be opened are logged and
// skipped.
func Build(opts Options) (*Registry, error) {
	if !filepath.IsAbs(opts.Root) {
		return nil, fmt.Errorf("%w: %q", ErrNotAbsolute, opts.Root)
	}

	b := &builder{
		opts:     opts,
		registry: NewRegistry(),
	}

	for _, pattern := range opts.Exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		b.exclude = append(b.exclude, g)
	}

	root := filepath.Clean(opts.Root)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	if err := b.walkEntries(root, "", entries); err != nil {
		return nil, err
	}

	logger.Info("Registered %d resource(s) under %s", b.registry.Len(), root)
	return b.registry, nil
}

// walkDir lists a nested directory; failure to open it skips the subtree.
func (b *builder) walkDir(dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("Can't open directory %s: %v", dir, err)
		if len(entries) == 0 {
			return nil
		}
	}
	return b.walkEntries(dir, prefix, entries)
}

func (b *builder) walkEntries(dir, prefix string, entries []os.DirEntry) error {
	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}

		full := filepath.Join(dir, name)
		rel := path.Join(prefix, name)

		st, err := os.Lstat(full)
		if err != nil {
			logger.Error("Can't stat %s: %v", full, err)
			continue
		}

		if b.excluded(rel) {
			logger.Debug("Excluded %s", rel)
			continue
		}

		if st.IsDir() {
			if err := b.walkDir(full, rel); err != nil {
				return err
			}
			continue
		}

		if err := b.register(rel); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) excluded(rel string) bool {
	for _, g := range b.exclude {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (b *builder) register(rel string) error {
	if rel == DiscoveryPath {
		logger.Warn("Skipping %s: path is reserved for resource discovery", filepath.Join(b.opts.Root, rel))
		return nil
	}
	logger.Debug("%s %d", rel, len(rel))

	r := NewResource(b.opts.Root, rel, b.opts.MaxReadSize)
	if err := b.registry.Register(rel, r, b.opts.ContentFormat); err != nil {
		return fmt.Errorf("register %s: %w", rel, err)
	}
	return nil
}
