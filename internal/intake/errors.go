package intake

import (
	"fmt"
	"sort"
	"strings"

	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

// ValidationError rejects a submission before anything is written.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// PartialWriteError means the order was stored but its creation event was
// not published. The record is kept and needs manual reconciliation.
type PartialWriteError struct {
	Order *orders.Order
	Err   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("order %s stored but not published: %v", e.Order.OrderID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }
