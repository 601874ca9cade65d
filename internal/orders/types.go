package orders

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses
const (
	StatusNew       Status = "NEW"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

func (s Status) Valid() bool {
	return s == StatusNew || s.Terminal()
}

var (
	// ErrStatusMismatch is returned when a conditional transition finds the order in another state.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrOrderExists is returned when creating an order whose id is already stored.
	ErrOrderExists = errors.New("order already exists")
)

// SnackItem is one line of an order.
type SnackItem struct {
	Name     string `json:"name" dynamodbav:"name"`
	Quantity int    `json:"quantity" dynamodbav:"quantity"`
	Price    Money  `json:"price" dynamodbav:"price"`
}

// Order represents the item stored in the Orders table.
type Order struct {
	OrderID       string      `json:"orderId" dynamodbav:"orderId"` // PK
	Status        Status      `json:"status" dynamodbav:"status"`
	CustomerName  string      `json:"customerName" dynamodbav:"customerName"`
	SnackItems    []SnackItem `json:"snackItems" dynamodbav:"snackItems"`
	TotalAmount   Money       `json:"totalAmount" dynamodbav:"totalAmount"`
	CreatedAt     time.Time   `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt" dynamodbav:"updatedAt"`
	ProcessedAt   *time.Time  `json:"processedAt,omitempty" dynamodbav:"processedAt,omitempty"`
	FailureReason string      `json:"failureReason,omitempty" dynamodbav:"failureReason,omitempty"`
}

// ItemsTotal sums quantity × price over the snack items.
func (o *Order) ItemsTotal() Money {
	var sum Money
	for _, it := range o.SnackItems {
		sum = sum.Add(it.Price.Mul(it.Quantity))
	}
	return sum
}

// Store is the order record store. Implementations must make Create fail
// with ErrOrderExists for a duplicate id and make the Mark* transitions
// conditional on the order still being NEW, failing with ErrStatusMismatch
// otherwise.
type Store interface {
	Create(ctx context.Context, o *Order) error
	// Get returns (nil, nil) when the order does not exist.
	Get(ctx context.Context, orderID string) (*Order, error)
	MarkProcessed(ctx context.Context, orderID string) error
	MarkFailed(ctx context.Context, orderID, reason string) error
	// ListByStatus scans the whole store; it is meant for operator tooling.
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
}
