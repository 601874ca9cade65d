package bus

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/imrishuroy/serverless-snacks/internal/aws"
)

// EventBridgePublisher puts events on an EventBridge bus. Retries toward the
// subscriber and dead-lettering are configured on the bus target.
type EventBridgePublisher struct {
	client  aws.EventBridgeAPI
	busName string
}

// NewEventBridgePublisher returns a publisher bound to busName.
func NewEventBridgePublisher(client aws.EventBridgeAPI, busName string) *EventBridgePublisher {
	return &EventBridgePublisher{client: client, busName: busName}
}

func (p *EventBridgePublisher) Publish(ctx context.Context, ev Event) error {
	detail := string(ev.Detail)
	entry := ebtypes.PutEventsRequestEntry{
		EventBusName: &p.busName,
		Source:       &ev.Source,
		DetailType:   &ev.DetailType,
		Detail:       &detail,
	}
	if !ev.Time.IsZero() {
		t := ev.Time
		entry.Time = &t
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}
	// PutEvents reports per-entry failures with a nil error.
	if out.FailedEntryCount > 0 {
		code, msg := "unknown", ""
		if len(out.Entries) > 0 {
			if out.Entries[0].ErrorCode != nil {
				code = *out.Entries[0].ErrorCode
			}
			if out.Entries[0].ErrorMessage != nil {
				msg = *out.Entries[0].ErrorMessage
			}
		}
		return fmt.Errorf("put events: entry rejected: %s %s", code, msg)
	}
	return nil
}
