// Package fulfillment consumes "Order Created" events and moves orders from
// NEW to PROCESSED exactly once, however many times an event is delivered.
package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/metrics"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

var (
	ErrMalformedEvent = errors.New("event carries no usable orderId")
	ErrOrderNotFound  = errors.New("order not found")
)

// Processor is the bus handler for "Order Created".
type Processor struct {
	store     orders.Store
	fulfiller Fulfiller
	metrics   metrics.Recorder
	logger    *zap.SugaredLogger
}

// NewProcessor returns a Processor that runs fulfiller for each NEW order in store.
func NewProcessor(store orders.Store, fulfiller Fulfiller, rec metrics.Recorder, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		store:     store,
		fulfiller: fulfiller,
		metrics:   rec,
		logger:    logger,
	}
}

// Handle processes one delivery of ev. Redeliveries of an already processed
// order succeed without side effects. Errors for a malformed event or a
// missing record are terminal; everything else is retried by the dispatcher.
func (p *Processor) Handle(ctx context.Context, ev bus.Event) error {
	detail, err := ev.OrderCreated()
	if err != nil {
		return bus.Terminal(fmt.Errorf("%w: %v", ErrMalformedEvent, err))
	}
	if detail.OrderID == "" {
		return bus.Terminal(ErrMalformedEvent)
	}
	id := detail.OrderID
	log := p.logger.With("order_id", id, "event_id", ev.ID)

	order, err := p.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("read order %s: %w", id, err)
	}
	if order == nil {
		log.Errorw("no record for order event")
		return bus.Terminal(fmt.Errorf("%w: %s", ErrOrderNotFound, id))
	}
	if order.Status != orders.StatusNew {
		p.metrics.Count(ctx, metrics.DuplicateDeliveries, 1)
		log.Infow("order already handled, skipping", "status", order.Status)
		return nil
	}

	log.Infow("processing order", "customer", order.CustomerName, "total_amount", order.TotalAmount.String())
	if err := p.fulfiller.Fulfill(ctx, order); err != nil {
		return fmt.Errorf("fulfill order %s: %w", id, err)
	}

	err = p.store.MarkProcessed(ctx, id)
	if errors.Is(err, orders.ErrStatusMismatch) {
		// a concurrent delivery won the transition
		p.metrics.Count(ctx, metrics.DuplicateDeliveries, 1)
		log.Infow("order transitioned by another delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark order %s processed: %w", id, err)
	}

	p.metrics.Count(ctx, metrics.OrdersProcessed, 1)
	log.Infow("order processed")
	return nil
}
