package resource

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// ============================================================================
// Read Tests
// ============================================================================

func TestResourceRead(t *testing.T) {
	t.Run("ReturnsContent", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "a.txt", "hello")

		status, data := NewResource(root, "a.txt", 0).Read()
		assert.Equal(t, StatusContent, status)
		assert.Equal(t, []byte("hello"), data)
	})

	t.Run("EmptyFileIsSuccess", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "empty", "")

		status, data := NewResource(root, "empty", 0).Read()
		assert.Equal(t, StatusContent, status)
		assert.Empty(t, data)
	})

	t.Run("TruncatesToCap", func(t *testing.T) {
		root := t.TempDir()
		big := bytes.Repeat([]byte("x"), 1000)
		writeFile(t, root, "big", string(big))

		status, data := NewResource(root, "big", 0).Read()
		assert.Equal(t, StatusContent, status)
		assert.Len(t, data, DefaultMaxReadSize)

		status, data = NewResource(root, "big", 64).Read()
		assert.Equal(t, StatusContent, status)
		assert.Len(t, data, 64)
	})

	t.Run("ExactlyCapIsNotTruncated", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "cap", string(bytes.Repeat([]byte("y"), 16)))

		status, data := NewResource(root, "cap", 16).Read()
		assert.Equal(t, StatusContent, status)
		assert.Len(t, data, 16)
	})

	t.Run("DeletedFileIsServerError", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "gone", "x")
		r := NewResource(root, "gone", 0)
		require.NoError(t, os.Remove(filepath.Join(root, "gone")))

		status, data := r.Read()
		assert.Equal(t, StatusServerError, status)
		assert.Nil(t, data)
	})

	t.Run("DirectoryIsServerError", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0755))

		status, _ := NewResource(root, "dir", 0).Read()
		assert.Equal(t, StatusServerError, status)
	})
}

// ============================================================================
// Write Tests
// ============================================================================

func TestResourceWrite(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "sub/b.txt", "world")
		r := NewResource(root, "sub/b.txt", 0)

		require.Equal(t, StatusChanged, r.Write([]byte("bye")))

		status, data := r.Read()
		assert.Equal(t, StatusContent, status)
		assert.Equal(t, []byte("bye"), data)
	})

	t.Run("Idempotent", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "f", "old")
		r := NewResource(root, "f", 0)

		assert.Equal(t, StatusChanged, r.Write([]byte("same")))
		assert.Equal(t, StatusChanged, r.Write([]byte("same")))

		content, err := os.ReadFile(filepath.Join(root, "f"))
		require.NoError(t, err)
		assert.Equal(t, "same", string(content))
	})

	t.Run("EmptyPayloadTruncates", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "f", "content")
		r := NewResource(root, "f", 0)

		assert.Equal(t, StatusChanged, r.Write(nil))
		status, data := r.Read()
		assert.Equal(t, StatusContent, status)
		assert.Empty(t, data)
	})

	t.Run("NeverCreates", func(t *testing.T) {
		root := t.TempDir()
		r := NewResource(root, "missing.txt", 0)

		assert.Equal(t, StatusServerError, r.Write([]byte("data")))
		_, err := os.Stat(filepath.Join(root, "missing.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("MarksDirtyEvenOnFailure", func(t *testing.T) {
		root := t.TempDir()
		r := NewResource(root, "missing.txt", 0)
		require.False(t, r.Dirty())

		r.Write([]byte("data"))
		assert.True(t, r.Dirty())
		assert.True(t, r.TakeDirty())
		assert.False(t, r.Dirty())
		assert.False(t, r.TakeDirty())
	})
}

func TestResourcePaths(t *testing.T) {
	r := NewResource("/srv/data", "sub/dir/file.txt", 0)
	assert.Equal(t, "sub/dir/file.txt", r.Path())
	assert.Equal(t, filepath.Join("/srv/data", "sub", "dir", "file.txt"), r.AbsolutePath())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Content", StatusContent.String())
	assert.Equal(t, "Changed", StatusChanged.String())
	assert.Equal(t, "ServerError", StatusServerError.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
