package fulfillment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

//go:generate mockgen -destination=mock/fulfiller.go . Fulfiller

// Fulfiller performs the business side effects of processing an order.
// It may run more than once for the same order if a delivery is retried
// before the status transition lands.
type Fulfiller interface {
	Fulfill(ctx context.Context, order *orders.Order) error
}

// SimulatedFulfiller logs the fulfillment steps instead of calling real
// inventory, payment and warehouse systems.
type SimulatedFulfiller struct {
	Logger *zap.SugaredLogger
	// StepDelay is slept after each step.
	StepDelay time.Duration
}

func (f *SimulatedFulfiller) Fulfill(ctx context.Context, order *orders.Order) error {
	steps := []string{"checking inventory", "verifying payment", "notifying fulfillment centre"}
	for _, step := range steps {
		f.Logger.Infow(step, "order_id", order.OrderID, "items", len(order.SnackItems))
		if f.StepDelay <= 0 {
			continue
		}
		t := time.NewTimer(f.StepDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
