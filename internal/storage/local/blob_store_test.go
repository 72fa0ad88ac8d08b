package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmsevents/event-ingestor/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive", "raw")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: "  "})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: f})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("NestedPath", func(t *testing.T) {
		p := "raw/cycle-1/service-3000/abc.json"
		data := []byte(`[{"title":"a"}]`)
		uri, err := store.PutObject(context.Background(), p, "application/json", data)
		require.NoError(t, err)
		abs, err := filepath.Abs(filepath.Join(dir, p))
		require.NoError(t, err)
		assert.Equal(t, "file://"+abs, uri)

		// #nosec G304 -- test reads from its own temp directory.
		got, err := os.ReadFile(filepath.Join(dir, p))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "application/json", []byte("[]"))
		assert.Error(t, err)
	})

	t.Run("TraversalStaysInside", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../../escape.json", "application/json", []byte("[]"))
		require.NoError(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "escape.json"))
		assert.NoError(t, statErr)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.PutObject(ctx, "x.json", "application/json", []byte("[]"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
