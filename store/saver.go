package store

import "context"

// Saver persists content at path. Failures are logged by the implementation
// and never reported to the caller.
type Saver interface {
	Save(ctx context.Context, content, path string)
}
