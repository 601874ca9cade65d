package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/bus"
)

// Invoker adapts the processor to a Lambda entry point. It accepts either an
// EventBridge event delivered directly or an SQS batch whose bodies are
// EventBridge events or bare order details, and runs each one through the
// dispatcher.
type Invoker struct {
	dispatcher *bus.Dispatcher
	processor  *Processor
	logger     *zap.SugaredLogger
}

func NewInvoker(d *bus.Dispatcher, p *Processor, logger *zap.SugaredLogger) *Invoker {
	return &Invoker{dispatcher: d, processor: p, logger: logger}
}

// Invoke handles one Lambda invocation. Failed events are dead-lettered by
// the dispatcher and do not fail the invocation; an error is returned only
// when an event could not be contained. For SQS batches those records are
// reported back as batch item failures.
func (i *Invoker) Invoke(ctx context.Context, payload json.RawMessage) (*events.SQSEventResponse, error) {
	var probe struct {
		Records []events.SQSMessage `json:"Records"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && len(probe.Records) > 0 {
		return i.invokeBatch(ctx, probe.Records)
	}

	if _, err := i.deliver(ctx, decodeBody("", payload)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (i *Invoker) invokeBatch(ctx context.Context, records []events.SQSMessage) (*events.SQSEventResponse, error) {
	i.logger.Infow("received SQS batch", "records", len(records))
	resp := &events.SQSEventResponse{}
	for _, rec := range records {
		ev := decodeBody(rec.MessageId, []byte(rec.Body))
		if _, err := i.deliver(ctx, ev); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (i *Invoker) deliver(ctx context.Context, ev bus.Event) (bus.Outcome, error) {
	out, err := i.dispatcher.Deliver(ctx, ev, i.processor.Handle)
	if err != nil {
		i.logger.Errorw("event not contained", "event_id", ev.ID, "attempts", out.Attempts, "error", err)
		return out, fmt.Errorf("deliver event %q: %w", ev.ID, err)
	}
	return out, nil
}

// decodeBody turns a delivered body into a bus event. The body is either an
// EventBridge envelope or, when a rule forwards only the detail, the
// "Order Created" detail itself.
func decodeBody(id string, body []byte) bus.Event {
	var ebe events.CloudWatchEvent
	if err := json.Unmarshal(body, &ebe); err != nil {
		return bus.Event{ID: id, Detail: quote(body)}
	}
	if len(ebe.Detail) == 0 || string(ebe.Detail) == "null" {
		var d struct {
			OrderID string `json:"orderId"`
		}
		if err := json.Unmarshal(body, &d); err == nil && d.OrderID != "" {
			return bus.Event{
				ID:         id,
				Source:     bus.SourceSnacks,
				DetailType: bus.DetailTypeOrderCreated,
				Detail:     append(json.RawMessage(nil), body...),
			}
		}
	}
	ev := fromEventBridge(ebe)
	if ev.ID == "" {
		ev.ID = id
	}
	return ev
}

func fromEventBridge(e events.CloudWatchEvent) bus.Event {
	return bus.Event{
		ID:         e.ID,
		Source:     e.Source,
		DetailType: e.DetailType,
		Time:       e.Time,
		Detail:     e.Detail,
	}
}

// quote wraps an undecodable payload as a JSON string so it survives into
// the dead-letter entry intact.
func quote(raw []byte) json.RawMessage {
	b, _ := json.Marshal(string(raw))
	return b
}
