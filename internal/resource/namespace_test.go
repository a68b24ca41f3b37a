package resource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	t.Run("RegistersNestedFiles", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "a.txt", "hello")
		writeFile(t, root, "sub/b.txt", "world")
		writeFile(t, root, "sub/deeper/c.bin", "!")
		require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0755))

		reg, err := Build(Options{Root: root})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "sub/b.txt", "sub/deeper/c.bin"}, reg.Paths())

		e, ok := reg.Lookup("a.txt")
		require.True(t, ok)
		assert.Equal(t, ContentFormatTextPlain, e.ContentFormat)
		status, data := e.Handler.Read()
		assert.Equal(t, StatusContent, status)
		assert.Equal(t, "hello", string(data))

		e, ok = reg.Lookup("sub/b.txt")
		require.True(t, ok)
		require.Equal(t, StatusChanged, e.Handler.Write([]byte("bye")))
		_, data = e.Handler.Read()
		assert.Equal(t, "bye", string(data))
	})

	t.Run("SkipsDiscoveryPath", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, ".well-known/core", "shadowed")
		writeFile(t, root, ".well-known/other", "kept")

		reg, err := Build(Options{Root: root})
		require.NoError(t, err)
		assert.Equal(t, []string{".well-known/other"}, reg.Paths())

		_, ok := reg.Lookup(DiscoveryPath)
		assert.False(t, ok)
	})

	t.Run("MatchesWalkedFiles", func(t *testing.T) {
		root := t.TempDir()
		files := []string{"x", "d1/y", "d1/d2/z", "d3/w.json"}
		for _, f := range files {
			writeFile(t, root, f, f)
		}

		reg, err := Build(Options{Root: root})
		require.NoError(t, err)

		var walked []string
		err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
			require.NoError(t, err)
			if !d.IsDir() {
				rel, err := filepath.Rel(root, p)
				require.NoError(t, err)
				walked = append(walked, filepath.ToSlash(rel))
			}
			return nil
		})
		require.NoError(t, err)

		assert.ElementsMatch(t, walked, reg.Paths())
		for _, p := range walked {
			e, ok := reg.Lookup(p)
			require.True(t, ok, p)
			assert.Equal(t, p, e.Handler.Path())
		}
	})

	t.Run("RegistersSymlinksWithoutFollowing", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "target/file", "t")
		require.NoError(t, os.Symlink(filepath.Join(root, "target"), filepath.Join(root, "dirlink")))
		require.NoError(t, os.Symlink(filepath.Join(root, "target", "file"), filepath.Join(root, "filelink")))

		reg, err := Build(Options{Root: root})
		require.NoError(t, err)
		assert.Equal(t, []string{"dirlink", "filelink", "target/file"}, reg.Paths())

		e, _ := reg.Lookup("filelink")
		status, data := e.Handler.Read()
		assert.Equal(t, StatusContent, status)
		assert.Equal(t, "t", string(data))
	})

	t.Run("UnreadableEntryIsRegisteredAndFailsOnRead", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "ok.txt", "fine")
		require.NoError(t, os.Symlink(filepath.Join(root, "nowhere"), filepath.Join(root, "dangling")))

		reg, err := Build(Options{Root: root})
		require.NoError(t, err)

		e, ok := reg.Lookup("dangling")
		require.True(t, ok)
		status, _ := e.Handler.Read()
		assert.Equal(t, StatusServerError, status)

		e, _ = reg.Lookup("ok.txt")
		status, data := e.Handler.Read()
		assert.Equal(t, StatusContent, status)
		assert.Equal(t, "fine", string(data))
	})

	t.Run("PermissionDeniedFile", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		root := t.TempDir()
		writeFile(t, root, "secret", "s")
		require.NoError(t, os.Chmod(filepath.Join(root, "secret"), 0))

		reg, err := Build(Options{Root: root})
		require.NoError(t, err)

		e, ok := reg.Lookup("secret")
		require.True(t, ok)
		status, _ := e.Handler.Read()
		assert.Equal(t, StatusServerError, status)
	})

	t.Run("UnopenableSubdirectoryIsSkipped", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		root := t.TempDir()
		writeFile(t, root, "a", "a")
		writeFile(t, root, "locked/b", "b")
		locked := filepath.Join(root, "locked")
		require.NoError(t, os.Chmod(locked, 0))
		t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

		reg, err := Build(Options{Root: root})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, reg.Paths())
	})

	t.Run("Exclude", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "keep.txt", "k")
		writeFile(t, root, "drop.tmp", "d")
		writeFile(t, root, ".git/config", "c")
		writeFile(t, root, "sub/also.tmp", "d")

		reg, err := Build(Options{Root: root, Exclude: []string{"*.tmp", "**.tmp", ".git"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"keep.txt"}, reg.Paths())
	})

	t.Run("CustomOptions", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "data.json", `{"k":"0123456789"}`)

		reg, err := Build(Options{Root: root, MaxReadSize: 4, ContentFormat: 50})
		require.NoError(t, err)

		e, ok := reg.Lookup("data.json")
		require.True(t, ok)
		assert.Equal(t, uint16(50), e.ContentFormat)
		_, data := e.Handler.Read()
		assert.Equal(t, `{"k"`, string(data))
	})
}

func TestBuild_Errors(t *testing.T) {
	t.Run("RelativeRoot", func(t *testing.T) {
		_, err := Build(Options{Root: "relative/dir"})
		assert.ErrorIs(t, err, ErrNotAbsolute)
	})

	t.Run("MissingRoot", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing")
		_, err := Build(Options{Root: missing})

		var scanErr *ScanError
		require.True(t, errors.As(err, &scanErr))
		assert.Equal(t, missing, scanErr.Root)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("RootIsAFile", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "file", "x")

		_, err := Build(Options{Root: filepath.Join(root, "file")})
		var scanErr *ScanError
		assert.True(t, errors.As(err, &scanErr))
	})

	t.Run("BadExcludePattern", func(t *testing.T) {
		_, err := Build(Options{Root: t.TempDir(), Exclude: []string{"[unterminated"}})
		assert.Error(t, err)
	})
}
