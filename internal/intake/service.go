// Package intake validates order submissions, records them and announces
// their creation on the bus.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/metrics"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
	"github.com/imrishuroy/serverless-snacks/internal/validation"
)

// Service is the order creator.
type Service struct {
	store     orders.Store
	publisher bus.Publisher
	validator *validation.Validator
	metrics   metrics.Recorder
	logger    *zap.SugaredLogger
	nowFunc   func() time.Time
	newID     func() string
}

// NewService returns a Service that stores orders in store and announces
// them on publisher.
func NewService(store orders.Store, publisher bus.Publisher, rec metrics.Recorder, logger *zap.SugaredLogger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		validator: validation.New(),
		metrics:   rec,
		logger:    logger,
		nowFunc:   func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// CreateFromJSON decodes a raw submission and creates the order.
func (s *Service) CreateFromJSON(ctx context.Context, raw []byte) (*orders.Order, error) {
	sub, errs := validation.Decode(raw)
	if errs != nil {
		return nil, &ValidationError{Fields: errs}
	}
	return s.Create(ctx, sub)
}

// Create validates sub, stores a NEW order and then publishes "Order Created".
// It returns *ValidationError when nothing was written and
// *PartialWriteError when the order was stored but not announced.
func (s *Service) Create(ctx context.Context, sub validation.Submission) (*orders.Order, error) {
	if errs := s.validator.Check(sub); errs != nil {
		s.logger.Infow("submission rejected", "fields", errs)
		return nil, &ValidationError{Fields: errs}
	}

	order := s.buildOrder(sub)
	if sum := order.ItemsTotal(); !sum.Equal(order.TotalAmount) {
		s.logger.Warnw("total amount does not match items",
			"order_id", order.OrderID,
			"total_amount", order.TotalAmount.String(),
			"items_total", sum.String())
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}
	s.logger.Infow("order written with status NEW", "order_id", order.OrderID)

	if err := s.announce(ctx, order); err != nil {
		s.metrics.Count(ctx, metrics.PartialWrites, 1)
		s.logger.Errorw("order stored but creation event not published; reconcile manually",
			"order_id", order.OrderID,
			"error", err)
		return order, &PartialWriteError{Order: order, Err: err}
	}

	s.metrics.Count(ctx, metrics.OrdersCreated, 1)
	s.logger.Infow("order created event published", "order_id", order.OrderID)
	return order, nil
}

func (s *Service) announce(ctx context.Context, order *orders.Order) error {
	ev, err := bus.NewOrderCreated(order)
	if err != nil {
		return err
	}
	ev.ID = s.newID()
	return s.publisher.Publish(ctx, ev)
}

func (s *Service) buildOrder(sub validation.Submission) *orders.Order {
	now := s.nowFunc()
	items := make([]orders.SnackItem, 0, len(sub.SnackItems))
	for _, it := range sub.SnackItems {
		items = append(items, orders.SnackItem{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    *it.Price,
		})
	}
	return &orders.Order{
		OrderID:      s.newID(),
		Status:       orders.StatusNew,
		CustomerName: sub.CustomerName,
		SnackItems:   items,
		TotalAmount:  *sub.TotalAmount,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
