// Package task implements the self-rescheduling secret fetch loop.
//
// A Task alternates between waiting on its scheduler and running a single
// fetch attempt. Every attempt, successful or not, schedules the next one
// after the current interval; failures grow the interval through a
// backoff.Strategy. Errors never leave the loop. The only ways to end it are
// Stop and shutting the scheduler down.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mpraski/secret-sidecar/backoff"
	"github.com/mpraski/secret-sidecar/secret"
	"github.com/mpraski/secret-sidecar/store"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

type (
	Scheduler interface {
		Schedule(delay time.Duration, fn func()) error
	}

	Config struct {
		Target   string
		Path     string
		Interval time.Duration
	}

	Metrics struct {
		Attempts *prometheus.CounterVec
		Interval *prometheus.GaugeVec
	}

	Stats struct {
		Interval  time.Duration
		Successes uint64
		Failures  uint64
		Started   bool
		Stopped   bool
	}

	Option func(*Task)

	Task struct {
		target    string
		path      string
		source    secret.Source
		saver     store.Saver
		scheduler Scheduler
		strategy  backoff.Strategy
		metrics   *Metrics
		logger    *log.Entry
		ctx       context.Context

		mu        sync.Mutex
		interval  time.Duration
		successes uint64
		failures  uint64
		started   bool
		stopped   bool
		running   bool
		waiters   []*Pending
	}
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrMissingTarget   = errors.New("target is required")
	ErrMissingPath     = errors.New("output path is required")
	ErrNilDependency   = errors.New("source, saver and scheduler are required")

	errStopped = errors.New("task stopped")
)

func WithStrategy(s backoff.Strategy) Option {
	return func(t *Task) {
		if s != nil {
			t.strategy = s
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Task) { t.metrics = m }
}

// WithContext sets the context attempts run under. Stop does not cancel it:
// an attempt in flight always runs to completion.
func WithContext(ctx context.Context) Option {
	return func(t *Task) {
		if ctx != nil {
			t.ctx = ctx
		}
	}
}

func New(cfg Config, source secret.Source, saver store.Saver, scheduler Scheduler, opts ...Option) (*Task, error) {
	switch {
	case cfg.Interval <= 0:
		return nil, fmt.Errorf("%w, got %s", ErrInvalidInterval, cfg.Interval)
	case cfg.Target == "":
		return nil, ErrMissingTarget
	case cfg.Path == "":
		return nil, ErrMissingPath
	case source == nil || saver == nil || scheduler == nil:
		return nil, ErrNilDependency
	}

	t := &Task{
		target:    cfg.Target,
		path:      cfg.Path,
		interval:  cfg.Interval,
		source:    source,
		saver:     saver,
		scheduler: scheduler,
		strategy:  backoff.Exponential{},
		logger:    log.WithField("target", cfg.Target),
		ctx:       context.Background(),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.observeInterval(cfg.Interval)

	return t, nil
}

func (t *Task) Target() string { return t.target }

func (t *Task) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		Interval:  t.interval,
		Successes: t.successes,
		Failures:  t.failures,
		Started:   t.started,
		Stopped:   t.stopped,
	}
}

// Execute starts the perpetual loop: the first attempt runs after the
// initial interval. Subsequent calls have no effect.
func (t *Task) Execute() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}

	t.started = true
	interval := t.interval
	t.mu.Unlock()

	t.schedule(interval)
}

// Next returns a handle for the next attempt to complete.
func (t *Task) Next() *Pending {
	p := newPending()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped && !t.running {
		p.resolve(failure(errStopped))
		return p
	}

	t.waiters = append(t.waiters, p)

	return p
}

// Stop prevents any further attempt from being scheduled. An attempt in
// flight completes normally and resolves the outstanding Pending handles with
// its own result. With no attempt in flight they resolve to nil.
func (t *Task) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	t.stopped = true

	var waiters []*Pending
	if !t.running {
		waiters, t.waiters = t.waiters, nil
	}
	t.mu.Unlock()

	for _, w := range waiters {
		w.resolve(failure(errStopped))
	}

	t.logger.Info("stopped watching secrets")
}

// run performs a single attempt and settles counters, interval and
// persistence before returning. It never fails; the outcome is in the Result.
// Only the scheduled loop calls it, so attempts never overlap.
func (t *Task) run(ctx context.Context) Result {
	entry := t.logger.WithField("cid", uuid.NewString())

	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	res := t.fetch(ctx)

	t.mu.Lock()
	t.running = false

	if res.OK() {
		t.successes++
	} else {
		t.failures++

		if next := t.strategy.Backoff(t.interval, t.successes, t.failures); next > 0 {
			t.interval = next
		}
	}

	interval := t.interval
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	if res.OK() {
		t.save(ctx, entry, res.Payload)
		entry.WithField("size", len(res.Payload)).Info("fetched secrets")
		t.observe(outcomeSuccess, interval)
	} else {
		entry.WithError(res.Err).Warnf("could not fetch secrets, will retry in %s", interval)
		t.observe(outcomeFailure, interval)
	}

	for _, w := range waiters {
		w.resolve(res)
	}

	return res
}

func (t *Task) tick() {
	if t.isStopped() {
		return
	}

	t.run(t.ctx)

	t.mu.Lock()
	stopped, interval := t.stopped, t.interval
	t.mu.Unlock()

	if stopped {
		return
	}

	t.schedule(interval)
}

func (t *Task) schedule(delay time.Duration) {
	if err := t.scheduler.Schedule(delay, t.tick); err != nil {
		t.logger.WithError(err).Error("failed to schedule next attempt, watch loop ends")
		t.Stop()
	}
}

func (t *Task) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stopped
}

func (t *Task) fetch(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithField("stack", string(debug.Stack())).Errorf("secret source panicked: %v", r)
			res = failure(fmt.Errorf("secret source panicked: %v", r))
		}
	}()

	payload, err := t.source.Get(ctx, t.target)
	if err != nil {
		return failure(err)
	}

	return success(payload)
}

func (t *Task) save(ctx context.Context, entry *log.Entry, payload secret.Secret) {
	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("saving secrets panicked: %v", r)
		}
	}()

	t.saver.Save(ctx, string(payload), t.path)
}

func (t *Task) observe(outcome string, interval time.Duration) {
	if t.metrics != nil && t.metrics.Attempts != nil {
		t.metrics.Attempts.WithLabelValues(t.target, outcome).Inc()
	}

	t.observeInterval(interval)
}

func (t *Task) observeInterval(interval time.Duration) {
	if t.metrics != nil && t.metrics.Interval != nil {
		t.metrics.Interval.WithLabelValues(t.target).Set(interval.Seconds())
	}
}
