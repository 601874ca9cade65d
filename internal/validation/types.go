package validation

import "github.com/imrishuroy/serverless-snacks/internal/orders"

// SnackItem represents a single order line item.
type SnackItem struct {
	Name     string        `json:"name" validate:"required"`           // snack name
	Quantity int           `json:"quantity" validate:"required,min=1"` // must be >= 1
	Price    *orders.Money `json:"price" validate:"required"`          // unit price, >= 0
}

// Submission is the payload accepted by the intake service.
type Submission struct {
	CustomerName string        `json:"customerName" validate:"required"`
	SnackItems   []SnackItem   `json:"snackItems" validate:"required,min=1,dive"` // at least one item
	TotalAmount  *orders.Money `json:"totalAmount" validate:"required"`           // total the client claims, >= 0
}
