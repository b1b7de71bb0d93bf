package secret

import (
	"context"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

type (
	// ClientProvider hands out an HTTP client for a single request. The
	// release func is called once the response has been consumed.
	ClientProvider interface {
		Client(context.Context) (*http.Client, func(), error)
	}

	// HTTPSource performs one GET against the target URI per call.
	HTTPSource struct {
		provider ClientProvider
	}

	StatusError struct {
		Code int
	}

	// StaticProvider always returns the same client.
	StaticProvider struct {
		client *http.Client
	}
)

var (
	_ Source         = (*HTTPSource)(nil)
	_ ClientProvider = (*StaticProvider)(nil)
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status: %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrSecretNotFound && e.Code == http.StatusNotFound
}

func NewStaticProvider(client *http.Client) *StaticProvider {
	return &StaticProvider{client: client}
}

func (p *StaticProvider) Client(context.Context) (*http.Client, func(), error) {
	return p.client, func() {}, nil
}

func NewHTTPSource(provider ClientProvider) *HTTPSource {
	return &HTTPSource{provider: provider}
}

// Fetch returns the status code and body of a GET against uri.
func (s *HTTPSource) Fetch(ctx context.Context, uri string) (int, []byte, error) {
	c, release, err := s.provider.Client(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to obtain client: %w", err)
	}

	defer release()

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create new request: %w", err)
	}

	p, err := c.Do(r)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to perform request: %w", err)
	}

	defer p.Body.Close()

	b, err := io.ReadAll(p.Body)
	if err != nil {
		return p.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	log.WithFields(log.Fields{
		"uri":  uri,
		"code": p.StatusCode,
		"size": len(b),
	}).Debug("received secrets response")

	return p.StatusCode, b, nil
}

func (s *HTTPSource) Get(ctx context.Context, uri string) (Secret, error) {
	code, b, err := s.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}

	if code != http.StatusOK {
		return nil, &StatusError{Code: code}
	}

	return b, nil
}
