// Package bus routes order lifecycle events between the intake and
// fulfillment services. Events are matched by source and detail-type, the
// same way an EventBridge rule matches them.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

const (
	// SourceSnacks is the source of every event the intake service emits.
	SourceSnacks = "serverless.snacks"
	// DetailTypeOrderCreated marks a freshly recorded order.
	DetailTypeOrderCreated = "Order Created"
)

// Event uses the EventBridge envelope field names so a delivered event and a
// replayed dead-letter payload decode the same way.
type Event struct {
	ID         string          `json:"id,omitempty"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

//go:generate mockgen -destination=mock/publisher.go . Publisher

// Publisher sends an event to the bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Handler consumes one delivered event. A non-nil error is retried by the
// dispatcher unless it is marked Terminal.
type Handler func(ctx context.Context, ev Event) error

// OrderCreatedDetail is the detail of an "Order Created" event. Only OrderID
// is needed by consumers; the rest is a snapshot for observers.
type OrderCreatedDetail struct {
	OrderID      string        `json:"orderId"`
	CustomerName string        `json:"customerName,omitempty"`
	TotalAmount  *orders.Money `json:"totalAmount,omitempty"`
	Status       orders.Status `json:"status,omitempty"`
	CreatedAt    *time.Time    `json:"createdAt,omitempty"`
}

// NewOrderCreated builds the creation event for o.
func NewOrderCreated(o *orders.Order) (Event, error) {
	total := o.TotalAmount
	created := o.CreatedAt
	detail, err := json.Marshal(OrderCreatedDetail{
		OrderID:      o.OrderID,
		CustomerName: o.CustomerName,
		TotalAmount:  &total,
		Status:       o.Status,
		CreatedAt:    &created,
	})
	if err != nil {
		return Event{}, fmt.Errorf("marshal detail: %w", err)
	}
	return Event{
		Source:     SourceSnacks,
		DetailType: DetailTypeOrderCreated,
		Time:       o.CreatedAt,
		Detail:     detail,
	}, nil
}

// OrderCreated decodes the event detail.
func (e Event) OrderCreated() (OrderCreatedDetail, error) {
	var d OrderCreatedDetail
	if len(e.Detail) == 0 {
		return d, fmt.Errorf("event %q has no detail", e.ID)
	}
	if err := json.Unmarshal(e.Detail, &d); err != nil {
		return d, fmt.Errorf("decode detail: %w", err)
	}
	return d, nil
}

// OrderID returns the orderId carried in the detail, or "" when there is none.
func (e Event) OrderID() string {
	var d struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(e.Detail, &d); err != nil {
		return ""
	}
	return d.OrderID
}

func (e Event) clone() Event {
	c := e
	c.Detail = append(json.RawMessage(nil), e.Detail...)
	return c
}
