package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testFile.txt")

	NewFileStore().Save(context.Background(), "Hello, World!", path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(b))
}

func TestFileStoreCreatesMissingDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "directory", "testFile.txt")

	NewFileStore().Save(context.Background(), "Test", path)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Test", string(b))
}

func TestFileStoreOverwrites(t *testing.T) {
	var (
		s    = NewFileStore()
		path = filepath.Join(t.TempDir(), "secrets.json")
	)

	s.Save(context.Background(), "a much longer first payload", path)
	s.Save(context.Background(), "second", path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))
}

func TestFileStoreUnwritablePathIsLogged(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	path := filepath.Join(blocker, "nested", "secrets.json")

	assert.NotPanics(t, func() {
		NewFileStore().Save(context.Background(), "Test", path)
	})

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, path, hook.LastEntry().Data["path"])

	_, err := os.Stat(path)
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Get("/opt/secrets.json")
	assert.False(t, ok)

	s.Save(context.Background(), "one", "/opt/secrets.json")
	s.Save(context.Background(), "two", "/opt/secrets.json")

	v, ok := s.Get("/opt/secrets.json")
	require.True(t, ok)
	assert.Equal(t, "two", v)
	assert.Equal(t, 2, s.Saves())
}
