package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/serverless-snacks/internal/aws"
	"github.com/imrishuroy/serverless-snacks/internal/bus"
)

// maxReceive is the SQS per-call limit.
const maxReceive = 10

// SQSChannel is a dead-letter channel backed by an SQS queue. The queue's
// MessageRetentionPeriod is expected to be RetentionPeriod.
type SQSChannel struct {
	SQS      aws.SQSAPI
	QueueURL string
	// WaitTime enables long polling on Receive.
	WaitTime time.Duration
}

// NewSQSChannel returns a channel bound to a queue URL.
func NewSQSChannel(sqsClient aws.SQSAPI, queueURL string) *SQSChannel {
	return &SQSChannel{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

func (c *SQSChannel) Capture(ctx context.Context, f bus.Failure) error {
	e, err := FromFailure(f)
	if err != nil {
		return err
	}
	return c.Send(ctx, e)
}

// Send writes an entry. orderId and failureReason are also sent as message
// attributes so the queue can be browsed without decoding bodies.
func (c *SQSChannel) Send(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    &c.QueueURL,
		MessageBody: awsString(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"failureReason": stringAttr(e.FailureReason),
		},
	}
	if e.OrderID != "" {
		input.MessageAttributes["orderId"] = stringAttr(e.OrderID)
	}

	if _, err := c.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *SQSChannel) Receive(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 || max > maxReceive {
		max = maxReceive
	}
	out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              &c.QueueURL,
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       int32(c.WaitTime / time.Second),
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			Entry:         parseEntry(m),
			MessageID:     deref(m.MessageId),
			ReceiptHandle: deref(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (c *SQSChannel) Delete(ctx context.Context, m Message) error {
	_, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: &m.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// parseEntry accepts our own entries and messages dead-lettered by the AWS
// runtime, whose body is the original event and whose failure reason is in
// a message attribute.
func parseEntry(m sqstypes.Message) Entry {
	body := deref(m.Body)

	var e Entry
	if err := json.Unmarshal([]byte(body), &e); err == nil && len(e.OriginalPayload) > 0 {
		return e
	}

	e = Entry{OriginalPayload: json.RawMessage(body)}
	if !json.Valid(e.OriginalPayload) {
		e.OriginalPayload, _ = json.Marshal(body)
	}
	var ev bus.Event
	if err := json.Unmarshal([]byte(body), &ev); err == nil {
		e.OrderID = ev.OrderID()
	}
	for _, k := range []string{"ErrorMessage", "ERROR_MESSAGE", "failureReason"} {
		if v, ok := m.MessageAttributes[k]; ok && v.StringValue != nil {
			e.FailureReason = *v.StringValue
			break
		}
	}
	if ms, err := strconv.ParseInt(m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
		e.Timestamp = time.UnixMilli(ms).UTC()
	}
	return e
}

func stringAttr(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{
		DataType:    awsString("String"),
		StringValue: awsString(v),
	}
}

// awsString helper
func awsString(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
