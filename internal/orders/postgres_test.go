package orders_test

import (
	"context"
	"errors"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

var _ = Describe("PostgresStore", func() {
	var (
		repo *orders.PostgresStore
		mock sqlmock.Sqlmock
	)
	columns := []string{"order_id", "status", "customer_name", "snack_items", "total_amount", "created_at", "updated_at", "processed_at", "failure_reason"}
	items := []byte(`[{"name":"Chips","quantity":2,"price":3.99},{"name":"Soda","quantity":1,"price":1.99}]`)

	BeforeEach(func() {
		db, m, err := sqlmock.New()
		Expect(err).ShouldNot(HaveOccurred())
		mock = m

		repo = orders.NewPostgresStore(db, zap.NewNop().Sugar())
	})
	AfterEach(func() {
		err := mock.ExpectationsWereMet()
		Expect(err).ShouldNot(HaveOccurred())
	})

	Context("Create", func() {
		It("inserts a new order", func() {
			now := time.Now().UTC()
			o := &orders.Order{
				OrderID:      "order-1",
				Status:       orders.StatusNew,
				CustomerName: "John Doe",
				SnackItems:   []orders.SnackItem{{Name: "Chips", Quantity: 2, Price: orders.MustMoney("3.99")}},
				TotalAmount:  orders.MustMoney("7.98"),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			mock.ExpectExec("INSERT INTO orders \\(order_id, status, customer_name, snack_items, total_amount, created_at, updated_at\\) VALUES (.+) ON CONFLICT \\(order_id\\) DO NOTHING").
				WithArgs("order-1", "NEW", "John Doe", sqlmock.AnyArg(), sqlmock.AnyArg(), now, now).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.Create(context.Background(), o)).To(Succeed())
		})
		It("reports a duplicate id", func() {
			mock.ExpectExec("INSERT INTO orders").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := repo.Create(context.Background(), &orders.Order{OrderID: "order-1", Status: orders.StatusNew})
			Expect(errors.Is(err, orders.ErrOrderExists)).To(BeTrue())
		})
		It("wraps driver errors", func() {
			mock.ExpectExec("INSERT INTO orders").
				WillReturnError(errors.New("connection reset"))

			err := repo.Create(context.Background(), &orders.Order{OrderID: "order-1", Status: orders.StatusNew})
			Expect(err).Should(HaveOccurred())
			Expect(errors.Is(err, orders.ErrOrderExists)).To(BeFalse())
		})
	})

	Context("Get", func() {
		It("scans a stored order", func() {
			created := time.Date(2023, 10, 26, 12, 0, 0, 0, time.UTC)
			rows := sqlmock.NewRows(columns).
				AddRow("order-1", "NEW", "John Doe", items, "9.97", created, created, nil, nil)
			mock.ExpectQuery("SELECT (.+) FROM orders WHERE order_id = \\$1").
				WithArgs("order-1").WillReturnRows(rows)

			o, err := repo.Get(context.Background(), "order-1")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o).NotTo(BeNil())
			Expect(o.Status).To(Equal(orders.StatusNew))
			Expect(o.SnackItems).To(HaveLen(2))
			Expect(o.SnackItems[1].Price.Equal(orders.MustMoney("1.99"))).To(BeTrue())
			Expect(o.TotalAmount.Equal(orders.MustMoney("9.97"))).To(BeTrue())
			Expect(o.ProcessedAt).To(BeNil())
		})
		It("returns nil for a missing order", func() {
			mock.ExpectQuery("SELECT (.+) FROM orders WHERE order_id = \\$1").
				WithArgs("missing").WillReturnRows(sqlmock.NewRows(columns))

			o, err := repo.Get(context.Background(), "missing")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o).To(BeNil())
		})
	})

	Context("transitions", func() {
		It("marks a NEW order processed", func() {
			mock.ExpectExec("UPDATE orders SET status = \\$1, updated_at = \\$2, processed_at = \\$2 WHERE order_id = \\$3 AND status = \\$4").
				WithArgs("PROCESSED", sqlmock.AnyArg(), "order-1", "NEW").
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.MarkProcessed(context.Background(), "order-1")).To(Succeed())
		})
		It("reports a status mismatch when no NEW row matched", func() {
			mock.ExpectExec("UPDATE orders SET status = \\$1").
				WithArgs("PROCESSED", sqlmock.AnyArg(), "order-1", "NEW").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := repo.MarkProcessed(context.Background(), "order-1")
			Expect(errors.Is(err, orders.ErrStatusMismatch)).To(BeTrue())
		})
		It("marks a NEW order failed with a reason", func() {
			mock.ExpectExec("UPDATE orders SET status = \\$1, updated_at = \\$2, failure_reason = \\$3 WHERE order_id = \\$4 AND status = \\$5").
				WithArgs("FAILED", sqlmock.AnyArg(), "retries exhausted", "order-1", "NEW").
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.MarkFailed(context.Background(), "order-1", "retries exhausted")).To(Succeed())
		})
	})

	Context("ListByStatus", func() {
		It("returns matching orders", func() {
			created := time.Date(2023, 10, 26, 12, 0, 0, 0, time.UTC)
			processed := created.Add(time.Minute)
			rows := sqlmock.NewRows(columns).
				AddRow("order-1", "PROCESSED", "John Doe", items, "9.97", created, processed, processed, nil).
				AddRow("order-2", "PROCESSED", "Jane Doe", items, "9.97", created, processed, processed, nil)
			mock.ExpectQuery("SELECT (.+) FROM orders WHERE status = \\$1 ORDER BY created_at").
				WithArgs("PROCESSED").WillReturnRows(rows)

			list, err := repo.ListByStatus(context.Background(), orders.StatusProcessed)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].ProcessedAt).NotTo(BeNil())
			Expect(list[0].ProcessedAt.Equal(processed)).To(BeTrue())
		})
	})
})
