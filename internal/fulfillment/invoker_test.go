package fulfillment_test

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/aws/awstest"
	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/deadletter"
	"github.com/imrishuroy/serverless-snacks/internal/fulfillment"
	"github.com/imrishuroy/serverless-snacks/internal/metrics"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

var _ = Describe("Invoker", func() {
	var (
		ctx     context.Context
		store   *orders.DynamoStore
		dlq     *deadletter.Memory
		invoker *fulfillment.Invoker
		logger  *zap.SugaredLogger
	)
	BeforeEach(func() {
		ctx = context.Background()
		logger = zap.NewNop().Sugar()
		store = orders.NewDynamoStore(awstest.NewDynamoDB().CreateTable(tbl, "orderId"), tbl)
		dlq = deadletter.NewMemory()
		processor := fulfillment.NewProcessor(store, &fulfillment.SimulatedFulfiller{Logger: logger}, metrics.Nop{}, logger)
		invoker = fulfillment.NewInvoker(bus.NewDispatcher(testPolicy(), dlq, logger), processor, logger)
	})

	eventJSON := func(o *orders.Order) []byte {
		b, err := json.Marshal(createdEvent(o))
		Expect(err).ShouldNot(HaveOccurred())
		return b
	}

	It("processes a directly delivered EventBridge event", func() {
		o := newOrder("order-1")
		Expect(store.Create(ctx, o)).Should(Succeed())

		resp, err := invoker.Invoke(ctx, eventJSON(o))

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resp).Should(BeNil())
		got, _ := store.Get(ctx, "order-1")
		Expect(got.Status).Should(Equal(orders.StatusProcessed))
	})

	It("processes every record of an SQS batch", func() {
		a, b := newOrder("order-a"), newOrder("order-b")
		Expect(store.Create(ctx, a)).Should(Succeed())
		Expect(store.Create(ctx, b)).Should(Succeed())
		payload, err := json.Marshal(events.SQSEvent{Records: []events.SQSMessage{
			{MessageId: "m1", Body: string(eventJSON(a))},
			{MessageId: "m2", Body: string(eventJSON(b))},
		}})
		Expect(err).ShouldNot(HaveOccurred())

		resp, err := invoker.Invoke(ctx, payload)

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resp.BatchItemFailures).Should(BeEmpty())
		for _, id := range []string{"order-a", "order-b"} {
			got, _ := store.Get(ctx, id)
			Expect(got.Status).Should(Equal(orders.StatusProcessed))
		}
	})

	It("processes an SQS record whose body is only the order detail", func() {
		Expect(store.Create(ctx, newOrder("order-x"))).Should(Succeed())
		payload, err := json.Marshal(events.SQSEvent{Records: []events.SQSMessage{
			{MessageId: "m1", Body: `{"orderId":"order-x"}`},
		}})
		Expect(err).ShouldNot(HaveOccurred())

		resp, err := invoker.Invoke(ctx, payload)

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resp.BatchItemFailures).Should(BeEmpty())
		got, _ := store.Get(ctx, "order-x")
		Expect(got.Status).Should(Equal(orders.StatusProcessed))
		Expect(dlq.Len()).Should(Equal(0))
	})

	It("dead-letters an undecodable record without failing the batch", func() {
		payload, err := json.Marshal(events.SQSEvent{Records: []events.SQSMessage{
			{MessageId: "m1", Body: "not json at all"},
		}})
		Expect(err).ShouldNot(HaveOccurred())

		resp, err := invoker.Invoke(ctx, payload)

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resp.BatchItemFailures).Should(BeEmpty())
		msgs, _ := dlq.Receive(ctx, 10)
		Expect(msgs).Should(HaveLen(1))
		Expect(string(msgs[0].Entry.OriginalPayload)).Should(ContainSubstring("not json at all"))
	})

	It("reports records it could not contain as batch item failures", func() {
		processor := fulfillment.NewProcessor(store, &fulfillment.SimulatedFulfiller{Logger: logger}, metrics.Nop{}, logger)
		noSink := fulfillment.NewInvoker(bus.NewDispatcher(testPolicy(), nil, logger), processor, logger)
		payload, err := json.Marshal(events.SQSEvent{Records: []events.SQSMessage{
			{MessageId: "m1", Body: string(eventJSON(newOrder("ghost")))},
		}})
		Expect(err).ShouldNot(HaveOccurred())

		resp, err := noSink.Invoke(ctx, payload)

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resp.BatchItemFailures).Should(ConsistOf(events.SQSBatchItemFailure{ItemIdentifier: "m1"}))
	})
})
