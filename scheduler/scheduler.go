// Package scheduler provides a delayed-execution queue drained by a single
// worker goroutine. Jobs never overlap: each one runs to completion before the
// next due job is picked up.
package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type (
	Scheduler struct {
		mu      sync.Mutex
		queue   jobHeap
		seq     uint64
		started bool
		closed  bool

		wakeCh chan struct{}
		stopCh chan struct{}
		doneCh chan struct{}

		logger *log.Entry
	}

	Option func(*Scheduler)
)

var (
	ErrSchedulerClosed = errors.New("scheduler is closed")
	ErrNilJob          = errors.New("job is nil")
)

func WithLogger(l *log.Entry) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:  jobHeap{},
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: log.NewEntry(log.StandardLogger()),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the worker. Calling it more than once has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return
	}

	s.started = true

	go s.run()
}

// Schedule arranges for fn to run on the worker once delay has elapsed.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) error {
	if fn == nil {
		return ErrNilJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	s.seq++
	s.queue.push(&job{
		runAt: time.Now().Add(delay),
		seq:   s.seq,
		fn:    fn,
	})

	select {
	case s.wakeCh <- struct{}{}:
	default:
	}

	return nil
}

// Pending returns the number of jobs waiting to run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Len()
}

// Stop discards queued jobs and waits for a running job to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	s.queue = jobHeap{}
	started := s.started
	close(s.stopCh)
	s.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	for {
		next := s.next()
		if next == nil {
			select {
			case <-s.stopCh:
				return
			case <-s.wakeCh:
				continue
			}
		}

		if wait := time.Until(next.runAt); wait > 0 {
			timer := time.NewTimer(wait)

			select {
			case <-timer.C:
			case <-s.wakeCh:
				timer.Stop()
				continue
			case <-s.stopCh:
				timer.Stop()
				return
			}
		}

		if j := s.popDue(); j != nil {
			s.execute(j)
		}
	}
}

func (s *Scheduler) next() *job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	return s.queue.peek()
}

func (s *Scheduler) popDue() *job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	return s.queue.popDue(time.Now())
}

func (s *Scheduler) execute(j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("stack", string(debug.Stack())).Errorf("scheduled job panicked: %v", r)
		}
	}()

	j.fn()
}
