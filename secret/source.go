package secret

import (
	"context"
	"errors"
)

type (
	Secret = []byte

	// Source retrieves the current secret bundle identified by target.
	Source interface {
		Get(ctx context.Context, target string) (Secret, error)
	}
)

var ErrSecretNotFound = errors.New("secret not found")
