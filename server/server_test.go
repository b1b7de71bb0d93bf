package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveness(t *testing.T) {
	srv := httptest.NewServer(NewLiveness(Config{}).Handler)
	defer srv.Close()

	for _, path := range []string{"/", "/anything"} {
		r, err := http.Get(srv.URL + path)
		require.NoError(t, err)

		b, err := io.ReadAll(r.Body)
		_ = r.Body.Close()

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, r.StatusCode)
		assert.Equal(t, "OK", string(b))
	}
}

func TestObservability(t *testing.T) {
	healthz, err := NewHealth("secret-sidecar", "test", Check{
		Name:  "secrets",
		Check: func(context.Context) error { return nil },
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewObservability(Config{}, healthz).Handler)
	defer srv.Close()

	r, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)

	r, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
}

func TestHealthReportsFailingCheck(t *testing.T) {
	healthz, err := NewHealth("secret-sidecar", "test", Check{
		Name:  "secrets",
		Check: func(context.Context) error { return errors.New("never fetched") },
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	healthz.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "never fetched")
}

func TestListenAndLogBindFailure(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer l.Close()

	assert.NotPanics(t, func() {
		ListenAndLog(NewLiveness(Config{Address: l.Addr().String()}), "liveness")
	})

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
}

func TestNewServerAppliesConfig(t *testing.T) {
	srv := NewLiveness(Config{
		Address:      ":18080",
		ReadTimeout:  time.Second,
		WriteTimeout: 2 * time.Second,
		IdleTimeout:  3 * time.Second,
	})

	assert.Equal(t, ":18080", srv.Addr)
	assert.Equal(t, time.Second, srv.ReadTimeout)
	assert.Equal(t, time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 2*time.Second, srv.WriteTimeout)
	assert.Equal(t, 3*time.Second, srv.IdleTimeout)
	assert.NotNil(t, srv.ErrorLog)
}
