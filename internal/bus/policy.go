package bus

import (
	"errors"
	"time"
)

// Policy is the delivery retry budget of the bus.
type Policy struct {
	// MaxRetries is the number of redeliveries after the first attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles for each further retry.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// AttemptTimeout bounds a single handler invocation. Zero means no bound.
	AttemptTimeout time.Duration
}

// DefaultPolicy gives a subscriber 3 attempts in total, each within 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Attempts is the total number of deliveries the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay returns the wait before retry n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying; the dispatcher dead-letters it
// after the current attempt.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err, or anything it wraps, was marked by Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
