// Package deadletter holds events whose processing permanently failed until
// an operator inspects or replays them.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imrishuroy/serverless-snacks/internal/bus"
)

// RetentionPeriod is how long an entry stays available for replay.
const RetentionPeriod = 14 * 24 * time.Hour

// Entry is one dead-lettered event.
type Entry struct {
	OrderID         string          `json:"orderId"`
	OriginalPayload json.RawMessage `json:"originalPayload"`
	FailureReason   string          `json:"failureReason"`
	Attempts        int             `json:"attempts,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// FromFailure builds the entry for an event the bus gave up on.
func FromFailure(f bus.Failure) (Entry, error) {
	payload, err := json.Marshal(f.Event)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal original event: %w", err)
	}
	reason := "unknown"
	if f.Reason != nil {
		reason = f.Reason.Error()
	}
	at := f.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Entry{
		OrderID:         f.Event.OrderID(),
		OriginalPayload: payload,
		FailureReason:   reason,
		Attempts:        f.Attempts,
		Timestamp:       at,
	}, nil
}

// Event decodes the original event so it can be published again.
func (e Entry) Event() (bus.Event, error) {
	var ev bus.Event
	if err := json.Unmarshal(e.OriginalPayload, &ev); err != nil {
		return ev, fmt.Errorf("decode original payload: %w", err)
	}
	if ev.Source == "" || ev.DetailType == "" {
		return ev, fmt.Errorf("original payload of order %q is not a bus event", e.OrderID)
	}
	return ev, nil
}

// Expired reports whether the entry has outlived the retention window at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > RetentionPeriod
}

// Message is an entry as received from a channel.
type Message struct {
	Entry         Entry
	MessageID     string
	ReceiptHandle string
}

// Channel is a durable dead-letter queue. It is a bus.FailureSink.
type Channel interface {
	Capture(ctx context.Context, f bus.Failure) error
	Send(ctx context.Context, e Entry) error
	// Receive returns up to max entries without removing them.
	Receive(ctx context.Context, max int) ([]Message, error)
	Delete(ctx context.Context, m Message) error
}
