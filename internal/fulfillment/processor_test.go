package fulfillment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/aws/awstest"
	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/deadletter"
	"github.com/imrishuroy/serverless-snacks/internal/fulfillment"
	mock_fulfillment "github.com/imrishuroy/serverless-snacks/internal/fulfillment/mock"
	"github.com/imrishuroy/serverless-snacks/internal/intake"
	"github.com/imrishuroy/serverless-snacks/internal/metrics"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
	"github.com/imrishuroy/serverless-snacks/internal/validation"
)

const tbl = "orders"

func testPolicy() bus.Policy {
	return bus.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, AttemptTimeout: time.Second}
}

func newOrder(id string) *orders.Order {
	now := time.Now().UTC()
	return &orders.Order{
		OrderID:      id,
		Status:       orders.StatusNew,
		CustomerName: "John Doe",
		SnackItems:   []orders.SnackItem{{Name: "Chips", Quantity: 2, Price: orders.MustMoney("3.99")}},
		TotalAmount:  orders.MustMoney("7.98"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// raceStore reports that another delivery already moved the order out of NEW
// between the read and the conditional update.
type raceStore struct {
	orders.Store
}

func (raceStore) MarkProcessed(context.Context, string) error {
	return orders.ErrStatusMismatch
}

type countRecorder struct {
	mu     sync.Mutex
	counts map[string]float64
}

func (r *countRecorder) Count(_ context.Context, name string, n float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]float64{}
	}
	r.counts[name] += n
}

func (r *countRecorder) get(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func createdEvent(o *orders.Order) bus.Event {
	ev, err := bus.NewOrderCreated(o)
	Expect(err).ShouldNot(HaveOccurred())
	ev.ID = "ev-" + o.OrderID
	return ev
}

var _ = Describe("Processor", func() {
	var (
		ctx        context.Context
		ctrl       *gomock.Controller
		fulfiller  *mock_fulfillment.MockFulfiller
		store      *orders.DynamoStore
		dlq        *deadletter.Memory
		dispatcher *bus.Dispatcher
		processor  *fulfillment.Processor
	)
	BeforeEach(func() {
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		fulfiller = mock_fulfillment.NewMockFulfiller(ctrl)

		logger := zap.NewNop().Sugar()
		store = orders.NewDynamoStore(awstest.NewDynamoDB().CreateTable(tbl, "orderId"), tbl)
		dlq = deadletter.NewMemory()
		dispatcher = bus.NewDispatcher(testPolicy(), dlq, logger)
		processor = fulfillment.NewProcessor(store, fulfiller, metrics.Nop{}, logger)
	})
	AfterEach(func() {
		ctrl.Finish()
	})

	Context("Handle", func() {
		It("moves a NEW order to PROCESSED", func() {
			o := newOrder("order-1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			fulfiller.EXPECT().Fulfill(gomock.Any(), gomock.Any()).Return(nil)

			Expect(processor.Handle(ctx, createdEvent(o))).Should(Succeed())

			got, err := store.Get(ctx, "order-1")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(got.Status).Should(Equal(orders.StatusProcessed))
			Expect(got.ProcessedAt).ShouldNot(BeNil())
		})
		It("runs side effects once when the event is delivered twice", func() {
			o := newOrder("order-1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			fulfiller.EXPECT().Fulfill(gomock.Any(), gomock.Any()).Return(nil).Times(1)

			ev := createdEvent(o)
			Expect(processor.Handle(ctx, ev)).Should(Succeed())
			Expect(processor.Handle(ctx, ev)).Should(Succeed())

			got, _ := store.Get(ctx, "order-1")
			Expect(got.Status).Should(Equal(orders.StatusProcessed))
		})
		It("skips an order that was already marked failed", func() {
			o := newOrder("order-1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			Expect(store.MarkFailed(ctx, "order-1", "reconciled")).Should(Succeed())

			Expect(processor.Handle(ctx, createdEvent(o))).Should(Succeed())

			got, _ := store.Get(ctx, "order-1")
			Expect(got.Status).Should(Equal(orders.StatusFailed))
		})
		It("treats a lost conditional update as a duplicate delivery", func() {
			o := newOrder("order-1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			fulfiller.EXPECT().Fulfill(gomock.Any(), gomock.Any()).Return(nil).Times(1)
			rec := &countRecorder{}
			racing := fulfillment.NewProcessor(raceStore{store}, fulfiller, rec, zap.NewNop().Sugar())

			Expect(racing.Handle(ctx, createdEvent(o))).Should(Succeed())

			Expect(rec.get(metrics.DuplicateDeliveries)).Should(Equal(1.0))
			Expect(rec.get(metrics.OrdersProcessed)).Should(Equal(0.0))
			got, _ := store.Get(ctx, "order-1")
			Expect(got.Status).Should(Equal(orders.StatusNew))
		})
		It("returns a terminal error when the record is missing", func() {
			err := processor.Handle(ctx, createdEvent(newOrder("ghost")))

			Expect(errors.Is(err, fulfillment.ErrOrderNotFound)).Should(BeTrue())
			Expect(bus.IsTerminal(err)).Should(BeTrue())
		})
		It("returns a terminal error for an event without orderId", func() {
			ev := bus.Event{ID: "ev-1", Source: bus.SourceSnacks, DetailType: bus.DetailTypeOrderCreated, Detail: json.RawMessage(`{"customerName":"x"}`)}

			err := processor.Handle(ctx, ev)

			Expect(errors.Is(err, fulfillment.ErrMalformedEvent)).Should(BeTrue())
			Expect(bus.IsTerminal(err)).Should(BeTrue())
		})
		It("returns a retryable error when fulfillment fails", func() {
			o := newOrder("order-1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			fulfiller.EXPECT().Fulfill(gomock.Any(), gomock.Any()).Return(errors.New("payment gateway down"))

			err := processor.Handle(ctx, createdEvent(o))

			Expect(err).Should(HaveOccurred())
			Expect(bus.IsTerminal(err)).Should(BeFalse())
			got, _ := store.Get(ctx, "order-1")
			Expect(got.Status).Should(Equal(orders.StatusNew))
		})
	})

	Context("Delivered through the dispatcher", func() {
		It("dead-letters a missing record after one attempt", func() {
			out, err := dispatcher.Deliver(ctx, createdEvent(newOrder("ghost")), processor.Handle)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(out.Attempts).Should(Equal(1))
			Expect(out.DeadLettered).Should(BeTrue())

			msgs, err := dlq.Receive(ctx, 10)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(msgs).Should(HaveLen(1))
			Expect(msgs[0].Entry.OrderID).Should(Equal("ghost"))
			Expect(msgs[0].Entry.FailureReason).Should(ContainSubstring("order not found"))
		})
		It("dead-letters once after three failed attempts and leaves the order NEW", func() {
			o := newOrder("order-1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			fulfiller.EXPECT().Fulfill(gomock.Any(), gomock.Any()).Return(errors.New("inventory timeout")).Times(3)

			out, err := dispatcher.Deliver(ctx, createdEvent(o), processor.Handle)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(out.Attempts).Should(Equal(3))
			Expect(dlq.Len()).Should(Equal(1))
			got, _ := store.Get(ctx, "order-1")
			Expect(got.Status).Should(Equal(orders.StatusNew))
		})
		It("recovers when a retry succeeds", func() {
			o := newOrder("order-1")
			Expect(store.Create(ctx, o)).Should(Succeed())
			gomock.InOrder(
				fulfiller.EXPECT().Fulfill(gomock.Any(), gomock.Any()).Return(errors.New("blip")),
				fulfiller.EXPECT().Fulfill(gomock.Any(), gomock.Any()).Return(nil),
			)

			out, err := dispatcher.Deliver(ctx, createdEvent(o), processor.Handle)

			Expect(err).ShouldNot(HaveOccurred())
			Expect(out.Attempts).Should(Equal(2))
			Expect(dlq.Len()).Should(Equal(0))
			got, _ := store.Get(ctx, "order-1")
			Expect(got.Status).Should(Equal(orders.StatusProcessed))
		})
	})
})

var _ = Describe("Pipeline", func() {
	It("creates and processes an order over the local bus", func() {
		ctx := context.Background()
		logger := zap.NewNop().Sugar()
		store := orders.NewDynamoStore(awstest.NewDynamoDB().CreateTable(tbl, "orderId"), tbl)
		dlq := deadletter.NewMemory()
		local := bus.NewLocal(bus.NewDispatcher(testPolicy(), dlq, logger), logger)

		processor := fulfillment.NewProcessor(store, &fulfillment.SimulatedFulfiller{Logger: logger}, metrics.Nop{}, logger)
		local.Subscribe("fulfillment", bus.OrderCreatedPattern, processor.Handle)
		creator := intake.NewService(store, local, metrics.Nop{}, logger)

		price := orders.MustMoney("3.99")
		soda := orders.MustMoney("1.99")
		total := orders.MustMoney("9.97")
		order, err := creator.Create(ctx, validation.Submission{
			CustomerName: "John Doe",
			SnackItems: []validation.SnackItem{
				{Name: "Chips", Quantity: 2, Price: &price},
				{Name: "Soda", Quantity: 1, Price: &soda},
			},
			TotalAmount: &total,
		})
		Expect(err).ShouldNot(HaveOccurred())

		local.Wait()

		got, err := store.Get(ctx, order.OrderID)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(got.Status).Should(Equal(orders.StatusProcessed))
		Expect(got.CustomerName).Should(Equal("John Doe"))
		Expect(got.TotalAmount.Equal(total)).Should(BeTrue())
		Expect(got.SnackItems).Should(HaveLen(2))
		Expect(got.SnackItems[0].Name).Should(Equal("Chips"))
		Expect(got.SnackItems[0].Quantity).Should(Equal(2))
		Expect(got.SnackItems[0].Price.Equal(price)).Should(BeTrue())
		Expect(got.SnackItems[1].Name).Should(Equal("Soda"))
		Expect(got.SnackItems[1].Quantity).Should(Equal(1))
		Expect(got.SnackItems[1].Price.Equal(soda)).Should(BeTrue())
		Expect(got.ProcessedAt).ShouldNot(BeNil())
		Expect(got.UpdatedAt.Equal(*got.ProcessedAt)).Should(BeTrue())
		Expect(dlq.Len()).Should(Equal(0))
	})
})
