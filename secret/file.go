package secret

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileSource treats the target as a path on the local filesystem.
type FileSource struct{}

var _ Source = (*FileSource)(nil)

func NewFileSource() *FileSource { return &FileSource{} }

func (s *FileSource) Get(_ context.Context, target string) (Secret, error) {
	b, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, target)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	return b, nil
}
