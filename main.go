package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mpraski/secret-sidecar/backoff"
	"github.com/mpraski/secret-sidecar/identity"
	"github.com/mpraski/secret-sidecar/secret"
	"github.com/mpraski/secret-sidecar/server"
	"github.com/mpraski/secret-sidecar/store"
	"github.com/mpraski/secret-sidecar/task"
	"github.com/mpraski/secret-sidecar/watch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type input struct {
	SpiffeSocket string        `split_words:"true" default:"unix:///spire-agent-socket/spire-agent.sock"`
	SecretURI    string        `split_words:"true" default:"https://vsecm-safe.vsecm-system.svc.cluster.local:8443/sentinel/v1/secrets?reveal=true"`
	SecretsPath  string        `split_words:"true" default:"/opt/vsecm/secrets.json"`
	PollInterval time.Duration `split_words:"true" default:"20000ms"`
	Targets      string
	Source       string `default:"spiffe"`
	Sink         string `default:"file"`
	LogLevel     string `split_words:"true" default:"info"`
	Backoff      struct {
		Strategy string        `default:"exponential"`
		Step     time.Duration `default:"20s"`
		Max      time.Duration `default:"0s"`
	}
	Health struct {
		FailureThreshold uint64 `split_words:"true" default:"5"`
	}
	Liveness struct {
		Address string `default:":8080"`
	}
	Observability struct {
		Address string `default:":9090"`
	}
	Server struct {
		ReadTimeout     time.Duration `split_words:"true" default:"5s"`
		WriteTimeout    time.Duration `split_words:"true" default:"10s"`
		IdleTimeout     time.Duration `split_words:"true" default:"15s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
	Redis struct {
		Host string `default:"localhost"`
		Port int    `default:"6379"`
	}
	GSM struct {
		ProjectID       string `split_words:"true"`
		CredentialsFile string `split_words:"true"`
	}
}

const (
	sourceSPIFFE = "spiffe"
	sourceGSM    = "gsm"
	sourceFile   = "file"
	sourceEnv    = "env"

	sinkFile   = "file"
	sinkRedis  = "redis"
	sinkMemory = "memory"
)

var (
	app     = "sidecar"
	version = "dev"

	errUnknownSource = errors.New("unknown secret source")
	errUnknownSink   = errors.New("unknown secret sink")

	fetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidecar_fetch_attempts_total",
		Help: "The total number of secret fetch attempts",
	}, []string{"target", "outcome"})
	fetchInterval = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sidecar_fetch_interval_seconds",
		Help: "The current delay before the next secret fetch attempt",
	}, []string{"target"})
)

func init() {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

func main() {
	var i input
	if err := envconfig.Process(app, &i); err != nil {
		log.Fatalf("failed to load input: %v\n", err)
	}

	level, err := log.ParseLevel(i.LogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v\n", err)
	}

	log.SetLevel(level)

	ctx := context.Background()

	source, closeSource, err := makeSource(ctx, &i)
	if err != nil {
		log.Fatalf("failed to initialize secret source: %v\n", err)
	}

	saver, saverChecks, closeSaver, err := makeSaver(&i)
	if err != nil {
		log.Fatalf("failed to initialize secret sink: %v\n", err)
	}

	strategy, err := backoff.Parse(i.Backoff.Strategy, i.Backoff.Step, i.Backoff.Max)
	if err != nil {
		log.Fatalf("failed to initialize backoff strategy: %v\n", err)
	}

	targets, err := makeTargets(&i)
	if err != nil {
		log.Fatalf("failed to load targets: %v\n", err)
	}

	watcher := watch.New(source, saver,
		watch.WithStrategy(strategy),
		watch.WithMetrics(&task.Metrics{Attempts: fetchAttemptsTotal, Interval: fetchInterval}),
		watch.WithFailureThreshold(i.Health.FailureThreshold),
	)

	healthz, err := server.NewHealth(app, version, append(saverChecks, server.Check{
		Name:  "secrets",
		Check: watcher.Check,
	})...)
	if err != nil {
		log.Fatalf("failed to initialize health checks: %v\n", err)
	}

	var (
		liveness      = server.NewLiveness(serverConfig(&i, i.Liveness.Address))
		observability = server.NewObservability(serverConfig(&i, i.Observability.Address), healthz)
		quit          = make(chan os.Signal, 1)
	)

	go server.ListenAndLog(liveness, "liveness")
	go server.ListenAndLog(observability, "observability")

	for _, t := range targets {
		if _, err := watcher.Watch(t); err != nil {
			log.Fatalf("failed to watch %s: %v\n", t.URI, err)
		}
	}

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("sidecar is shutting down...")

	sctx, cancel := context.WithTimeout(ctx, i.Server.ShutdownTimeout)
	defer cancel()

	liveness.SetKeepAlivesEnabled(false)
	observability.SetKeepAlivesEnabled(false)

	group, gctx := errgroup.WithContext(sctx)
	group.Go(func() error { return watcher.Stop(gctx) })
	group.Go(func() error { return shutdown(gctx, liveness) })
	group.Go(func() error { return shutdown(gctx, observability) })

	if err := group.Wait(); err != nil {
		log.Errorf("failed to gracefully shutdown: %v\n", err)
	}

	closeSource()
	closeSaver()

	log.Println("sidecar stopped")
}

func makeSource(ctx context.Context, i *input) (secret.Source, func(), error) {
	switch i.Source {
	case sourceSPIFFE:
		return secret.NewHTTPSource(identity.NewSPIFFEProvider(i.SpiffeSocket)), func() {}, nil

	case sourceGSM:
		gsm, err := secret.NewGoogleSecretManager(ctx, i.GSM.ProjectID, i.GSM.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}

		return gsm, gsm.Close, nil

	case sourceFile:
		return secret.NewFileSource(), func() {}, nil

	case sourceEnv:
		return secret.NewEnvSource(), func() {}, nil
	}

	return nil, nil, errUnknownSource
}

func makeSaver(i *input) (store.Saver, []server.Check, func(), error) {
	switch i.Sink {
	case sinkFile:
		return store.NewFileStore(), nil, func() {}, nil

	case sinkRedis:
		r := store.NewRedisStore(store.RedisConfig{Host: i.Redis.Host, Port: i.Redis.Port})

		return r, []server.Check{{Name: "redis", Check: r.Ping}}, r.Close, nil

	case sinkMemory:
		return store.NewMemoryStore(), nil, func() {}, nil
	}

	return nil, nil, nil, errUnknownSink
}

func makeTargets(i *input) ([]watch.Target, error) {
	defaults := watch.Target{
		URI:      i.SecretURI,
		Path:     i.SecretsPath,
		Interval: i.PollInterval,
	}

	if i.Targets == "" {
		return []watch.Target{defaults}, nil
	}

	return watch.ParseTargets(strings.NewReader(i.Targets), defaults)
}

func serverConfig(i *input, address string) server.Config {
	return server.Config{
		Address:         address,
		ReadTimeout:     i.Server.ReadTimeout,
		WriteTimeout:    i.Server.WriteTimeout,
		IdleTimeout:     i.Server.IdleTimeout,
		ShutdownTimeout: i.Server.ShutdownTimeout,
	}
}

func shutdown(ctx context.Context, srv *http.Server) error {
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
