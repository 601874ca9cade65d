package awstest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// EventBridge records PutEvents entries.
type EventBridge struct {
	mu      sync.Mutex
	Entries []ebtypes.PutEventsRequestEntry
	// Err is returned from PutEvents when set.
	Err error
	// Reject makes PutEvents report every entry as failed without an API error.
	Reject bool
}

func (f *EventBridge) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := &eventbridge.PutEventsOutput{}
	for i, e := range in.Entries {
		if f.Reject {
			out.FailedEntryCount++
			out.Entries = append(out.Entries, ebtypes.PutEventsResultEntry{
				ErrorCode:    strPtr("InternalFailure"),
				ErrorMessage: strPtr("rejected by fake"),
			})
			continue
		}
		f.Entries = append(f.Entries, e)
		out.Entries = append(out.Entries, ebtypes.PutEventsResultEntry{EventId: strPtr(fmt.Sprintf("event-%d", i))})
	}
	return out, nil
}

// Published returns a copy of the accepted entries.
func (f *EventBridge) Published() []ebtypes.PutEventsRequestEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ebtypes.PutEventsRequestEntry(nil), f.Entries...)
}

// SQS is a single-queue fake; visibility timeouts are not modelled, so a
// message is returned by every receive until it is deleted.
type SQS struct {
	mu       sync.Mutex
	seq      int
	messages []sqstypes.Message
	Err      error
	// Now stamps SentTimestamp; defaults to time.Now.
	Now func() time.Time
}

func (f *SQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if in.MessageBody == nil {
		return nil, errors.New("empty message body")
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	f.seq++
	id := fmt.Sprintf("msg-%d", f.seq)
	f.messages = append(f.messages, sqstypes.Message{
		MessageId:         strPtr(id),
		ReceiptHandle:     strPtr("rh-" + id),
		Body:              strPtr(*in.MessageBody),
		MessageAttributes: in.MessageAttributes,
		Attributes: map[string]string{
			string(sqstypes.MessageSystemAttributeNameSentTimestamp): strconv.FormatInt(now().UnixMilli(), 10),
		},
	})
	return &sqs.SendMessageOutput{MessageId: strPtr(id)}, nil
}

// Inject appends a raw message, e.g. one written by the Lambda runtime.
func (f *SQS) Inject(msg sqstypes.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("msg-%d", f.seq)
	if msg.MessageId == nil {
		msg.MessageId = strPtr(id)
	}
	if msg.ReceiptHandle == nil {
		msg.ReceiptHandle = strPtr("rh-" + id)
	}
	f.messages = append(f.messages, msg)
}

func (f *SQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	max := int(in.MaxNumberOfMessages)
	if max <= 0 {
		max = 1
	}
	out := &sqs.ReceiveMessageOutput{}
	for i := 0; i < len(f.messages) && i < max; i++ {
		out.Messages = append(out.Messages, f.messages[i])
	}
	return out, nil
}

func (f *SQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for i, m := range f.messages {
		if in.ReceiptHandle != nil && *m.ReceiptHandle == *in.ReceiptHandle {
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
			return &sqs.DeleteMessageOutput{}, nil
		}
	}
	return nil, &sqstypes.ReceiptHandleIsInvalid{Message: strPtr("unknown receipt handle")}
}

// Len reports the number of undeleted messages.
func (f *SQS) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// Messages returns a copy of the undeleted messages.
func (f *SQS) Messages() []sqstypes.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sqstypes.Message(nil), f.messages...)
}

// CloudWatch records PutMetricData calls.
type CloudWatch struct {
	mu     sync.Mutex
	Inputs []*cloudwatch.PutMetricDataInput
	Err    error
}

func (f *CloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Inputs = append(f.Inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Calls returns the recorded inputs.
func (f *CloudWatch) Calls() []*cloudwatch.PutMetricDataInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*cloudwatch.PutMetricDataInput(nil), f.Inputs...)
}
