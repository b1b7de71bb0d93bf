package secret

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
)

// EnvSource treats the target as the name of an environment variable.
type EnvSource struct{}

func NewEnvSource() *EnvSource { return &EnvSource{} }

var _ Source = (*EnvSource)(nil)

func (s *EnvSource) Get(_ context.Context, target string) (Secret, error) {
	if v := os.Getenv(target); v != "" {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return []byte(v), nil
		}

		return b, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, target)
}
