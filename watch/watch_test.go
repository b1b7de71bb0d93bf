package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mpraski/secret-sidecar/secret"
	"github.com/mpraski/secret-sidecar/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource struct {
	mu      sync.Mutex
	secrets map[string]string
	calls   map[string]*int32
}

func newMapSource(secrets map[string]string) *mapSource {
	calls := make(map[string]*int32)
	for k := range secrets {
		calls[k] = new(int32)
	}

	return &mapSource{secrets: secrets, calls: calls}
}

func (s *mapSource) Get(_ context.Context, uri string) (secret.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.calls[uri]; ok {
		atomic.AddInt32(c, 1)
	}

	v, ok := s.secrets[uri]
	if !ok {
		return nil, secret.ErrSecretNotFound
	}

	return []byte(v), nil
}

func TestParseTargets(t *testing.T) {
	config := `
targets:
  - uri: https://safe.local/a
    path: /opt/a.json
    interval: 5s
  - uri: https://safe.local/b
`

	targets, err := ParseTargets(strings.NewReader(config), Target{Path: "/opt/default.json", Interval: 20 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, []Target{
		{URI: "https://safe.local/a", Path: "/opt/a.json", Interval: 5 * time.Second},
		{URI: "https://safe.local/b", Path: "/opt/default.json", Interval: 20 * time.Second},
	}, targets)
}

func TestParseTargetsErrors(t *testing.T) {
	_, err := ParseTargets(strings.NewReader("targets: []"), Target{})
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = ParseTargets(strings.NewReader("targets:\n  - uri: x\n    interval: soon\n"), Target{})
	assert.Error(t, err)

	_, err = ParseTargets(strings.NewReader("targets: ["), Target{})
	assert.Error(t, err)
}

func TestWatchPersistsEveryTarget(t *testing.T) {
	var (
		src = newMapSource(map[string]string{
			"https://safe.local/a": "secret-a",
			"https://safe.local/b": "secret-b",
		})
		saver = store.NewMemoryStore()
		svc   = New(src, saver)
	)

	defer func() { require.NoError(t, svc.Stop(context.Background())) }()

	pa, err := svc.Watch(Target{URI: "https://safe.local/a", Path: "/opt/a.json", Interval: time.Millisecond})
	require.NoError(t, err)

	pb, err := svc.Watch(Target{URI: "https://safe.local/b", Path: "/opt/b.json", Interval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := pa.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret-a", string(a))

	b, err := pb.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret-b", string(b))

	v, ok := saver.Get("/opt/a.json")
	require.True(t, ok)
	assert.Equal(t, "secret-a", v)

	v, ok = saver.Get("/opt/b.json")
	require.True(t, ok)
	assert.Equal(t, "secret-b", v)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(src.calls["https://safe.local/a"]) >= 5
	}, 5*time.Second, time.Millisecond)
}

func TestWatchRejectsDuplicates(t *testing.T) {
	svc := New(newMapSource(nil), store.NewMemoryStore())
	defer func() { _ = svc.Stop(context.Background()) }()

	target := Target{URI: "https://safe.local/a", Path: "/opt/a.json", Interval: time.Hour}

	_, err := svc.Watch(target)
	require.NoError(t, err)

	_, err = svc.Watch(target)
	assert.ErrorIs(t, err, ErrAlreadyWatched)
}

func TestWatchInvalidTarget(t *testing.T) {
	svc := New(newMapSource(nil), store.NewMemoryStore())

	_, err := svc.Watch(Target{URI: "https://safe.local/a", Path: "/opt/a.json"})
	assert.Error(t, err)
	assert.Empty(t, svc.Stats())
}

func TestStopEndsAllLoops(t *testing.T) {
	var (
		src = newMapSource(map[string]string{"https://safe.local/a": "a"})
		svc = New(src, store.NewMemoryStore())
	)

	_, err := svc.Watch(Target{URI: "https://safe.local/a", Path: "/opt/a.json", Interval: time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(src.calls["https://safe.local/a"]) >= 2
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, svc.Stop(context.Background()))

	calls := atomic.LoadInt32(src.calls["https://safe.local/a"])
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(src.calls["https://safe.local/a"]))

	for _, st := range svc.Stats() {
		assert.True(t, st.Stopped)
	}

	_, err = svc.Watch(Target{URI: "https://safe.local/b", Path: "/opt/b.json", Interval: time.Millisecond})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCheck(t *testing.T) {
	svc := New(newMapSource(nil), store.NewMemoryStore(), WithFailureThreshold(3))
	defer func() { _ = svc.Stop(context.Background()) }()

	require.NoError(t, svc.Check(context.Background()))

	_, err := svc.Watch(Target{URI: "https://safe.local/missing", Path: "/opt/a.json", Interval: time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return errors.Is(svc.Check(context.Background()), ErrUnhealthy)
	}, 5*time.Second, time.Millisecond)
}
