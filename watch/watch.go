// Package watch runs one fetch loop per target. Each target owns its
// scheduler, so targets never wait on each other while attempts for a single
// target stay strictly sequential.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mpraski/secret-sidecar/backoff"
	"github.com/mpraski/secret-sidecar/scheduler"
	"github.com/mpraski/secret-sidecar/secret"
	"github.com/mpraski/secret-sidecar/store"
	"github.com/mpraski/secret-sidecar/task"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type (
	Service struct {
		source           secret.Source
		saver            store.Saver
		strategy         backoff.Strategy
		metrics          *task.Metrics
		failureThreshold uint64

		mu       sync.Mutex
		stopped  bool
		watchers map[string]*watcher
	}

	Option func(*Service)

	watcher struct {
		task      *task.Task
		scheduler *scheduler.Scheduler
	}
)

const DefaultFailureThreshold = 5

var (
	ErrAlreadyWatched = errors.New("target is already watched")
	ErrStopped        = errors.New("watch service is stopped")
	ErrUnhealthy      = errors.New("secrets have never been fetched")
)

func WithStrategy(s backoff.Strategy) Option {
	return func(w *Service) { w.strategy = s }
}

func WithMetrics(m *task.Metrics) Option {
	return func(w *Service) { w.metrics = m }
}

// WithFailureThreshold sets how many failures a target that has never
// succeeded may accumulate before Check reports it.
func WithFailureThreshold(n uint64) Option {
	return func(w *Service) {
		if n > 0 {
			w.failureThreshold = n
		}
	}
}

func New(source secret.Source, saver store.Saver, opts ...Option) *Service {
	s := &Service{
		source:           source,
		saver:            saver,
		strategy:         backoff.Exponential{},
		failureThreshold: DefaultFailureThreshold,
		watchers:         make(map[string]*watcher),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Watch starts the fetch loop for target and returns the handle for its
// first attempt.
func (s *Service) Watch(target Target) (*task.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStopped
	}

	if _, ok := s.watchers[target.URI]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWatched, target.URI)
	}

	entry := log.WithFields(log.Fields{"target": target.URI, "path": target.Path})

	sched := scheduler.New(scheduler.WithLogger(entry))

	t, err := task.New(
		task.Config{Target: target.URI, Path: target.Path, Interval: target.Interval},
		s.source,
		s.saver,
		sched,
		task.WithStrategy(s.strategy),
		task.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch task: %w", err)
	}

	sched.Start()

	p := t.Next()
	t.Execute()

	s.watchers[target.URI] = &watcher{task: t, scheduler: sched}

	entry.WithField("interval", target.Interval).Info("watching secrets")

	return p, nil
}

// Stats returns a snapshot of every watched target, keyed by URI.
func (s *Service) Stats() map[string]task.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]task.Stats, len(s.watchers))
	for uri, w := range s.watchers {
		stats[uri] = w.task.Stats()
	}

	return stats
}

// Check fails while any target has failed failureThreshold times without a
// single success.
func (s *Service) Check(context.Context) error {
	stats := s.Stats()

	uris := make([]string, 0, len(stats))
	for uri := range stats {
		uris = append(uris, uri)
	}

	sort.Strings(uris)

	for _, uri := range uris {
		if st := stats[uri]; st.Successes == 0 && st.Failures >= s.failureThreshold {
			return fmt.Errorf("%w: %s failed %d times", ErrUnhealthy, uri, st.Failures)
		}
	}

	return nil
}

// Stop ends every loop and waits for attempts in flight.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}

	s.stopped = true
	watchers := make([]*watcher, 0, len(s.watchers))

	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)

	for _, w := range watchers {
		w := w

		w.task.Stop()

		group.Go(func() error {
			if err := w.scheduler.Stop(ctx); err != nil {
				return fmt.Errorf("failed to stop scheduler for %s: %w", w.task.Target(), err)
			}

			return nil
		})
	}

	return group.Wait()
}
