// Package replay is the operator tooling for the dead-letter channel.
// Nothing in here runs automatically.
package replay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/deadletter"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

// Actions reported in a Result.
const (
	ActionReplayed   = "replayed"
	ActionReconciled = "reconciled"
	ActionSkipped    = "skipped"
)

// Result describes what happened to one dead-letter entry. Entries with a
// non-nil Err are left on the channel.
type Result struct {
	MessageID string
	OrderID   string
	Action    string
	Err       error
}

type Replayer struct {
	channel   deadletter.Channel
	publisher bus.Publisher
	store     orders.Store
	logger    *zap.SugaredLogger
}

func New(ch deadletter.Channel, pub bus.Publisher, store orders.Store, logger *zap.SugaredLogger) *Replayer {
	return &Replayer{channel: ch, publisher: pub, store: store, logger: logger}
}

// List returns up to max entries without removing them.
func (r *Replayer) List(ctx context.Context, max int) ([]deadletter.Message, error) {
	var out []deadletter.Message
	err := r.each(ctx, max, func(m deadletter.Message) error {
		out = append(out, m)
		return nil
	})
	return out, err
}

// Replay publishes the original event of up to max entries again and
// removes each entry once its event is back on the bus.
func (r *Replayer) Replay(ctx context.Context, max int) ([]Result, error) {
	var results []Result
	err := r.each(ctx, max, func(m deadletter.Message) error {
		res := Result{MessageID: m.MessageID, OrderID: m.Entry.OrderID, Action: ActionReplayed}
		res.Err = r.replayOne(ctx, m)
		results = append(results, res)
		return nil
	})
	return results, err
}

func (r *Replayer) replayOne(ctx context.Context, m deadletter.Message) error {
	ev, err := m.Entry.Event()
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := r.channel.Delete(ctx, m); err != nil {
		// the event is already republished; processing it twice is harmless
		return fmt.Errorf("delete after replay: %w", err)
	}
	r.logger.Infow("dead-letter entry replayed", "message_id", m.MessageID, "order_id", m.Entry.OrderID)
	return nil
}

// Reconcile marks the orders of up to max entries FAILED with the recorded
// failure reason and removes the entries. An order that already reached a
// terminal state is left as it is.
func (r *Replayer) Reconcile(ctx context.Context, max int) ([]Result, error) {
	var results []Result
	err := r.each(ctx, max, func(m deadletter.Message) error {
		res := Result{MessageID: m.MessageID, OrderID: m.Entry.OrderID, Action: ActionReconciled}
		skipped, err := r.reconcileOne(ctx, m)
		if skipped {
			res.Action = ActionSkipped
		}
		res.Err = err
		results = append(results, res)
		return nil
	})
	return results, err
}

func (r *Replayer) reconcileOne(ctx context.Context, m deadletter.Message) (skipped bool, err error) {
	id := m.Entry.OrderID
	if id == "" {
		return false, errors.New("entry has no orderId")
	}
	err = r.store.MarkFailed(ctx, id, m.Entry.FailureReason)
	switch {
	case errors.Is(err, orders.ErrStatusMismatch):
		skipped = true
		r.logger.Infow("order not NEW, left unchanged", "order_id", id)
	case err != nil:
		return false, fmt.Errorf("mark order %s failed: %w", id, err)
	default:
		r.logger.Infow("order marked FAILED", "order_id", id, "reason", m.Entry.FailureReason)
	}
	if err := r.channel.Delete(ctx, m); err != nil {
		return skipped, fmt.Errorf("delete after reconcile: %w", err)
	}
	return skipped, nil
}

// Scan lists orders in status, for finding records stuck in NEW.
func (r *Replayer) Scan(ctx context.Context, status orders.Status) ([]orders.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return r.store.ListByStatus(ctx, status)
}

// idlePolls is how many batches in a row may bring nothing new before each
// decides the channel is drained. A single empty short poll proves nothing
// on SQS.
const idlePolls = 2

// each feeds up to max distinct messages to fn, receiving in batches until
// the channel has had nothing new to offer for idlePolls batches in a row.
// max <= 0 means no limit.
func (r *Replayer) each(ctx context.Context, max int, fn func(deadletter.Message) error) error {
	seen := make(map[string]bool)
	n, idle := 0, 0
	for max <= 0 || n < max {
		batch, err := r.channel.Receive(ctx, remaining(max, n))
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		fresh := 0
		for _, m := range batch {
			if seen[m.MessageID] {
				continue
			}
			seen[m.MessageID] = true
			fresh++
			if err := fn(m); err != nil {
				return err
			}
			n++
			if max > 0 && n >= max {
				return nil
			}
		}
		if fresh > 0 {
			idle = 0
			continue
		}
		if idle++; idle >= idlePolls {
			return nil
		}
	}
	return nil
}

func remaining(max, n int) int {
	if max <= 0 {
		return 0
	}
	return max - n
}
