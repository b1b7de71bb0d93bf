package task

import (
	"context"
	"sync"

	"github.com/mpraski/secret-sidecar/secret"
)

type (
	// Result is the outcome of a single attempt: either a payload or the
	// cause of the failure, never both.
	Result struct {
		Payload secret.Secret
		Err     error
	}

	// Pending resolves once the attempt it was handed out for completes.
	Pending struct {
		once    sync.Once
		done    chan struct{}
		payload secret.Secret
	}
)

func success(payload secret.Secret) Result { return Result{Payload: payload} }

func failure(err error) Result { return Result{Err: err} }

func (r Result) OK() bool { return r.Err == nil }

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(r Result) {
	p.once.Do(func() {
		if r.OK() {
			p.payload = r.Payload
		}

		close(p.done)
	})
}

func (p *Pending) Done() <-chan struct{} { return p.done }

// Get blocks until the attempt completes and returns its payload. A failed
// attempt yields nil; the cause is only logged. The error is non-nil only if
// ctx ends first.
func (p *Pending) Get(ctx context.Context) (secret.Secret, error) {
	select {
	case <-p.done:
		return p.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
