// Package identity builds HTTP clients that authenticate with an X.509 SVID
// obtained from the SPIFFE Workload API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
	"golang.org/x/net/http2"
)

type (
	// X509Source is satisfied by *workloadapi.X509Source.
	X509Source interface {
		x509svid.Source
		x509bundle.Source
		Close() error
	}

	SourceFunc func(ctx context.Context, address string) (X509Source, error)

	SPIFFEProvider struct {
		address   string
		newSource SourceFunc
		timeout   time.Duration
	}

	Option func(*SPIFFEProvider)
)

const (
	DefaultSocket = "unix:///spire-agent-socket/spire-agent.sock"

	DefaultDialTimeout           = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultSourceTimeout         = 30 * time.Second
)

var (
	ErrEndpointUnreachable = errors.New("workload api endpoint is unreachable")
	ErrIdentityFetch       = errors.New("failed to fetch x509 svid")
	ErrTransport           = errors.New("failed to construct mtls transport")
)

func WithSourceFunc(f SourceFunc) Option {
	return func(p *SPIFFEProvider) {
		if f != nil {
			p.newSource = f
		}
	}
}

// WithSourceTimeout bounds how long Client waits for the first SVID update.
func WithSourceTimeout(d time.Duration) Option {
	return func(p *SPIFFEProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewSPIFFEProvider(address string, opts ...Option) *SPIFFEProvider {
	if address == "" {
		address = DefaultSocket
	}

	p := &SPIFFEProvider{
		address:   address,
		newSource: workloadSource,
		timeout:   DefaultSourceTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Client returns a client whose transport performs mutual TLS with the
// current SVID and accepts any peer SPIFFE ID. The release func closes the
// underlying X509 source and must be called once the client is done.
func (p *SPIFFEProvider) Client(ctx context.Context) (*http.Client, func(), error) {
	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	source, err := p.newSource(sctx, p.address)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (%s): %w", ErrEndpointUnreachable, p.address, err)
	}

	release := func() {
		if err := source.Close(); err != nil {
			log.WithField("address", p.address).Warnf("failed to close x509 source: %v", err)
		}
	}

	svid, err := source.GetX509SVID()
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %w", ErrIdentityFetch, err)
	}

	log.WithField("spiffe_id", svid.ID.String()).Debug("obtained x509 svid")

	t, err := newTransport(source)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return &http.Client{Transport: t}, release, nil
}

func workloadSource(ctx context.Context, address string) (X509Source, error) {
	return workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(address)))
}

// newTransport serves a single request per connection; the agent polls far
// too rarely for pooled connections to pay off.
func newTransport(source X509Source) (*http.Transport, error) {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: DefaultDialTimeout,
		}).DialContext,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		TLSClientConfig:       tlsconfig.MTLSClientConfig(source, source, tlsconfig.AuthorizeAny()),
	}

	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}

	return t, nil
}
