package backoff

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type (
	// Strategy maps the current interval and the cumulative outcome
	// counters of a task to the interval of its next attempt.
	// Implementations must be pure.
	Strategy interface {
		Backoff(interval time.Duration, successes, failures uint64) time.Duration
	}

	Func func(interval time.Duration, successes, failures uint64) time.Duration

	// Exponential doubles the interval while the distance between successes
	// and failures exceeds the success count. It never shrinks the interval.
	Exponential struct{}

	// Linear grows the interval by Step under the same condition as Exponential.
	Linear struct {
		Step time.Duration
	}

	// Capped bounds the interval returned by the wrapped Strategy. The bound
	// only limits growth: an interval already above Max is kept.
	Capped struct {
		Strategy Strategy
		Max      time.Duration
	}
)

const (
	NameExponential = "exponential"
	NameLinear      = "linear"

	maxInterval = time.Duration(math.MaxInt64)
)

var ErrUnknownStrategy = errors.New("unknown backoff strategy")

var (
	_ Strategy = Func(nil)
	_ Strategy = Exponential{}
	_ Strategy = Linear{}
	_ Strategy = Capped{}
)

func (f Func) Backoff(interval time.Duration, successes, failures uint64) time.Duration {
	return f(interval, successes, failures)
}

func (Exponential) Backoff(interval time.Duration, successes, failures uint64) time.Duration {
	if !escalate(successes, failures) {
		return interval
	}

	if interval > maxInterval/2 {
		return maxInterval
	}

	return interval * 2
}

func (l Linear) Backoff(interval time.Duration, successes, failures uint64) time.Duration {
	if !escalate(successes, failures) {
		return interval
	}

	if l.Step > maxInterval-interval {
		return maxInterval
	}

	return interval + l.Step
}

func (c Capped) Backoff(interval time.Duration, successes, failures uint64) time.Duration {
	next := c.Strategy.Backoff(interval, successes, failures)
	if c.Max > 0 && next > c.Max {
		next = c.Max
	}

	if next < interval {
		return interval
	}

	return next
}

// Parse builds the named strategy. A positive max wraps it in Capped.
func Parse(name string, step, max time.Duration) (Strategy, error) {
	var s Strategy

	switch name {
	case NameExponential, "":
		s = Exponential{}
	case NameLinear:
		if step <= 0 {
			return nil, fmt.Errorf("linear backoff step must be positive, got %s", step)
		}

		s = Linear{Step: step}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}

	if max > 0 {
		s = Capped{Strategy: s, Max: max}
	}

	return s, nil
}

// escalate compares |successes-failures| against successes. Once successes
// catch up with failures the condition can never fire again for the same
// distance, so intervals ratchet up but never decay.
func escalate(successes, failures uint64) bool {
	var delta uint64
	if successes > failures {
		delta = successes - failures
	} else {
		delta = failures - successes
	}

	return delta > successes
}
