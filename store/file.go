package store

import (
	"context"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// FileStore overwrites the file at path in place. Readers racing with a
// write may observe a truncated file.
type FileStore struct{}

const (
	dirMode  = 0o755
	fileMode = 0o600
)

var _ Saver = (*FileStore)(nil)

func NewFileStore() *FileStore { return &FileStore{} }

func (s *FileStore) Save(_ context.Context, content, path string) {
	entry := log.WithField("path", path)

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		entry.Errorf("failed to create directory for secrets: %v", err)
		return
	}

	if err := os.WriteFile(path, []byte(content), fileMode); err != nil {
		entry.Errorf("failed to save secrets: %v", err)
		return
	}

	entry.WithField("size", len(content)).Debug("saved secrets")
}
