package server

import (
	"errors"
	stdlog "log"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// newServer builds an endpoint whose internal errors go through logrus at
// warn level, tagged with the endpoint name.
func newServer(name string, config Config, handler http.Handler) *http.Server {
	entry := log.WithField("server", name)

	return &http.Server{
		Addr:              config.Address,
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ErrorLog:          stdlog.New(entry.WriterLevel(log.WarnLevel), "", 0),
	}
}

// ListenAndLog serves until srv is shut down. A failure to bind is logged and
// swallowed so the fetch loop keeps running without the endpoint.
func ListenAndLog(srv *http.Server, name string) {
	log.Println("starting", name, "server at", srv.Addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("failed to start %s server on %s: %v", name, srv.Addr, err)
	}
}
