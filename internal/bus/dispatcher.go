package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Failure describes an event the bus gave up on.
type Failure struct {
	Event    Event
	Reason   error
	Attempts int
	Terminal bool
	At       time.Time
}

// FailureSink receives events whose retry budget is exhausted.
type FailureSink interface {
	Capture(ctx context.Context, f Failure) error
}

// Outcome reports what happened to one delivery.
type Outcome struct {
	Attempts     int
	DeadLettered bool
	// Err is the last handler error; nil when the handler succeeded.
	Err error
}

// Dispatcher delivers an event to a handler under a retry policy and routes
// exhausted events to the failure sink.
type Dispatcher struct {
	policy  Policy
	sink    FailureSink
	logger  *zap.SugaredLogger
	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(policy Policy, sink FailureSink, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		policy:  policy,
		sink:    sink,
		logger:  logger,
		nowFunc: func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
}

// Policy returns the dispatcher's retry policy.
func (d *Dispatcher) Policy() Policy { return d.policy }

// Deliver runs h until it succeeds, returns a terminal error, or the policy
// is exhausted. A returned error means the event could not be contained: the
// parent context ended or the failure sink rejected it.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event, h Handler) (Outcome, error) {
	var out Outcome
	max := d.policy.Attempts()

	for attempt := 1; attempt <= max; attempt++ {
		out.Attempts = attempt
		err := d.attempt(ctx, ev, h)
		if err == nil {
			out.Err = nil
			return out, nil
		}
		out.Err = err

		d.logger.Warnw("delivery attempt failed",
			"event_id", ev.ID,
			"order_id", ev.OrderID(),
			"attempt", attempt,
			"max_attempts", max,
			"terminal", IsTerminal(err),
			"error", err)

		if IsTerminal(err) {
			break
		}
		if ctx.Err() != nil {
			return out, fmt.Errorf("delivery interrupted after %d attempts: %w", attempt, ctx.Err())
		}
		if attempt < max {
			if err := d.sleep(ctx, d.policy.Delay(attempt)); err != nil {
				return out, fmt.Errorf("delivery interrupted after %d attempts: %w", attempt, err)
			}
		}
	}

	f := Failure{
		Event:    ev,
		Reason:   out.Err,
		Attempts: out.Attempts,
		Terminal: IsTerminal(out.Err),
		At:       d.nowFunc(),
	}
	if d.sink == nil {
		return out, fmt.Errorf("no dead-letter sink for event %q: %w", ev.ID, out.Err)
	}
	if err := d.sink.Capture(ctx, f); err != nil {
		d.logger.Errorw("dead-letter write failed", "event_id", ev.ID, "order_id", ev.OrderID(), "error", err)
		return out, fmt.Errorf("dead-letter event %q: %w", ev.ID, err)
	}
	out.DeadLettered = true
	d.logger.Errorw("event dead-lettered",
		"event_id", ev.ID,
		"order_id", ev.OrderID(),
		"attempts", out.Attempts,
		"reason", out.Err)
	return out, nil
}

// attempt runs h once inside the per-attempt time budget. A handler that
// overruns the budget counts as a transient failure even if it returned nil.
func (d *Dispatcher) attempt(ctx context.Context, ev Event, h Handler) (err error) {
	actx := ctx
	if d.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, d.policy.AttemptTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = h(actx, ev)
	if err == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("attempt exceeded %s: %w", d.policy.AttemptTimeout, context.DeadlineExceeded)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
