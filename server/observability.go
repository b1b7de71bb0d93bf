package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hellofresh/health-go/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Check struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

const defaultCheckTimeout = 5 * time.Second

func NewObservability(config Config, healthz http.Handler) *http.Server {
	router := http.NewServeMux()
	router.Handle("/healthz", healthz)
	router.Handle("/metrics", promhttp.Handler())

	return newServer("observability", config, router)
}

// NewHealth builds the /healthz handler reporting on checks.
func NewHealth(name, version string, checks ...Check) (http.Handler, error) {
	configs := make([]health.Config, 0, len(checks))

	for _, c := range checks {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultCheckTimeout
		}

		configs = append(configs, health.Config{
			Name:    c.Name,
			Timeout: timeout,
			Check:   c.Check,
		})
	}

	h, err := health.New(
		health.WithComponent(health.Component{Name: name, Version: version}),
		health.WithChecks(configs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize health checks: %w", err)
	}

	return h.Handler(), nil
}
