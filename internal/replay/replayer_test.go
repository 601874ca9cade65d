package replay_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/aws/awstest"
	"github.com/imrishuroy/serverless-snacks/internal/bus"
	mock_bus "github.com/imrishuroy/serverless-snacks/internal/bus/mock"
	"github.com/imrishuroy/serverless-snacks/internal/deadletter"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
	"github.com/imrishuroy/serverless-snacks/internal/replay"
)

func newOrder(id string) *orders.Order {
	now := time.Now().UTC()
	return &orders.Order{
		OrderID:      id,
		Status:       orders.StatusNew,
		CustomerName: "John Doe",
		SnackItems:   []orders.SnackItem{{Name: "Chips", Quantity: 1, Price: orders.MustMoney("3.99")}},
		TotalAmount:  orders.MustMoney("3.99"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func failureFor(o *orders.Order, reason string) bus.Failure {
	ev, err := bus.NewOrderCreated(o)
	Expect(err).ShouldNot(HaveOccurred())
	ev.ID = "ev-" + o.OrderID
	return bus.Failure{Event: ev, Reason: errors.New(reason), Attempts: 3, At: time.Now().UTC()}
}

// emptyFirstChannel answers its first Receive with nothing, the way an SQS
// short poll can while messages are still queued.
type emptyFirstChannel struct {
	deadletter.Channel
	polls int
}

func (c *emptyFirstChannel) Receive(ctx context.Context, max int) ([]deadletter.Message, error) {
	c.polls++
	if c.polls == 1 {
		return nil, nil
	}
	return c.Channel.Receive(ctx, max)
}

var _ = Describe("Replayer", func() {
	var (
		ctx      context.Context
		ctrl     *gomock.Controller
		pub      *mock_bus.MockPublisher
		store    *orders.DynamoStore
		channel  *deadletter.SQSChannel
		queue    *awstest.SQS
		replayer *replay.Replayer
	)
	BeforeEach(func() {
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		pub = mock_bus.NewMockPublisher(ctrl)
		store = orders.NewDynamoStore(awstest.NewDynamoDB().CreateTable("orders", "orderId"), "orders")
		queue = &awstest.SQS{}
		channel = deadletter.NewSQSChannel(queue, "https://sqs.local/dlq")
		replayer = replay.New(channel, pub, store, zap.NewNop().Sugar())
	})
	AfterEach(func() {
		ctrl.Finish()
	})

	Context("List", func() {
		It("returns entries without removing them", func() {
			Expect(channel.Capture(ctx, failureFor(newOrder("o1"), "inventory timeout"))).Should(Succeed())
			Expect(channel.Capture(ctx, failureFor(newOrder("o2"), "inventory timeout"))).Should(Succeed())

			msgs, err := replayer.List(ctx, 0)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(msgs).Should(HaveLen(2))
			Expect(queue.Len()).Should(Equal(2))
		})
		It("keeps polling past a single empty batch", func() {
			Expect(channel.Capture(ctx, failureFor(newOrder("o1"), "boom"))).Should(Succeed())
			Expect(channel.Capture(ctx, failureFor(newOrder("o2"), "boom"))).Should(Succeed())
			flaky := &emptyFirstChannel{Channel: channel}

			msgs, err := replay.New(flaky, pub, store, zap.NewNop().Sugar()).List(ctx, 0)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(msgs).Should(HaveLen(2))
		})
		It("stops after two empty batches in a row", func() {
			flaky := &emptyFirstChannel{Channel: channel}

			msgs, err := replay.New(flaky, pub, store, zap.NewNop().Sugar()).List(ctx, 0)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(msgs).Should(BeEmpty())
			Expect(flaky.polls).Should(Equal(2))
		})
		It("honours max", func() {
			for _, id := range []string{"o1", "o2", "o3"} {
				Expect(channel.Capture(ctx, failureFor(newOrder(id), "boom"))).Should(Succeed())
			}

			msgs, err := replayer.List(ctx, 2)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(msgs).Should(HaveLen(2))
		})
	})

	Context("Replay", func() {
		It("republishes the original event and deletes the entry", func() {
			o := newOrder("o1")
			Expect(channel.Capture(ctx, failureFor(o, "inventory timeout"))).Should(Succeed())
			pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev bus.Event) error {
				Expect(ev.Source).Should(Equal(bus.SourceSnacks))
				Expect(ev.DetailType).Should(Equal(bus.DetailTypeOrderCreated))
				Expect(ev.OrderID()).Should(Equal("o1"))
				return nil
			})

			results, err := replayer.Replay(ctx, 0)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(results).Should(HaveLen(1))
			Expect(results[0].Err).ShouldNot(HaveOccurred())
			Expect(results[0].Action).Should(Equal(replay.ActionReplayed))
			Expect(queue.Len()).Should(Equal(0))
		})
		It("keeps the entry when publishing fails", func() {
			Expect(channel.Capture(ctx, failureFor(newOrder("o1"), "boom"))).Should(Succeed())
			pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("bus down"))

			results, err := replayer.Replay(ctx, 0)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(results[0].Err).Should(HaveOccurred())
			Expect(queue.Len()).Should(Equal(1))
		})
		It("replays a platform dead-letter message carrying the raw event", func() {
			ev, err := bus.NewOrderCreated(newOrder("o9"))
			Expect(err).ShouldNot(HaveOccurred())
			body, err := json.Marshal(ev)
			Expect(err).ShouldNot(HaveOccurred())
			msgID, handle, errMsg := "m-native", "rh-native", "Task timed out"
			queue.Inject(sqstypes.Message{
				MessageId:     &msgID,
				ReceiptHandle: &handle,
				Body:          awsString(string(body)),
				MessageAttributes: map[string]sqstypes.MessageAttributeValue{
					"ErrorMessage": {DataType: awsString("String"), StringValue: &errMsg},
				},
			})
			pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

			results, err := replayer.Replay(ctx, 0)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(results).Should(HaveLen(1))
			Expect(results[0].OrderID).Should(Equal("o9"))
			Expect(results[0].Err).ShouldNot(HaveOccurred())
		})
	})

	Context("Reconcile", func() {
		It("marks a NEW order FAILED with the recorded reason", func() {
			o := newOrder("o1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			Expect(channel.Capture(ctx, failureFor(o, "payment declined"))).Should(Succeed())

			results, err := replayer.Reconcile(ctx, 0)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(results[0].Action).Should(Equal(replay.ActionReconciled))
			got, _ := store.Get(ctx, "o1")
			Expect(got.Status).Should(Equal(orders.StatusFailed))
			Expect(got.FailureReason).Should(Equal("payment declined"))
			Expect(queue.Len()).Should(Equal(0))
		})
		It("leaves a processed order alone", func() {
			o := newOrder("o1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			Expect(store.MarkProcessed(ctx, "o1")).Should(Succeed())
			Expect(channel.Capture(ctx, failureFor(o, "late failure"))).Should(Succeed())

			results, err := replayer.Reconcile(ctx, 0)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(results[0].Action).Should(Equal(replay.ActionSkipped))
			got, _ := store.Get(ctx, "o1")
			Expect(got.Status).Should(Equal(orders.StatusProcessed))
			Expect(queue.Len()).Should(Equal(0))
		})
	})

	Context("Scan", func() {
		It("lists orders by status", func() {
			Expect(store.Create(ctx, newOrder("o1"))).Should(Succeed())
			Expect(store.Create(ctx, newOrder("o2"))).Should(Succeed())
			Expect(store.MarkProcessed(ctx, "o2")).Should(Succeed())

			stuck, err := replayer.Scan(ctx, orders.StatusNew)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(stuck).Should(HaveLen(1))
			Expect(stuck[0].OrderID).Should(Equal("o1"))
		})
		It("rejects an unknown status", func() {
			_, err := replayer.Scan(ctx, orders.Status("SHIPPED"))
			Expect(err).Should(HaveOccurred())
		})
	})
})

func awsString(s string) *string { return &s }
