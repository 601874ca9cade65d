package orders

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

const orderFields = "order_id, status, customer_name, snack_items, total_amount, created_at, updated_at, processed_at, failure_reason"

// PostgresStore keeps orders in a Postgres table for self-hosted deployments.
type PostgresStore struct {
	Conn    *sql.DB
	Logger  *zap.SugaredLogger
	nowFunc func() time.Time
}

// OpenPostgres connects through the pgx driver and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.SugaredLogger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStore(db, logger), nil
}

// Migrate runs the embedded goose migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// NewPostgresStore returns a Store backed by the orders table of db.
func NewPostgresStore(db *sql.DB, logger *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{
		Conn:    db,
		Logger:  logger,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (r *PostgresStore) Create(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.SnackItems)
	if err != nil {
		return fmt.Errorf("marshal snack items: %w", err)
	}

	res, err := r.Conn.ExecContext(ctx,
		"INSERT INTO orders (order_id, status, customer_name, snack_items, total_amount, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (order_id) DO NOTHING",
		o.OrderID, string(o.Status), o.CustomerName, items, o.TotalAmount, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if n == 0 {
		return ErrOrderExists
	}
	return nil
}

func (r *PostgresStore) Get(ctx context.Context, orderID string) (*Order, error) {
	row := r.Conn.QueryRowContext(ctx, "SELECT "+orderFields+" FROM orders WHERE order_id = $1", orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresStore) MarkProcessed(ctx context.Context, orderID string) error {
	now := r.nowFunc()
	res, err := r.Conn.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = $2, processed_at = $2 WHERE order_id = $3 AND status = $4",
		string(StatusProcessed), now, orderID, string(StatusNew))
	return r.checkTransition(orderID, res, err)
}

func (r *PostgresStore) MarkFailed(ctx context.Context, orderID, reason string) error {
	now := r.nowFunc()
	res, err := r.Conn.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = $2, failure_reason = $3 WHERE order_id = $4 AND status = $5",
		string(StatusFailed), now, reason, orderID, string(StatusNew))
	return r.checkTransition(orderID, res, err)
}

func (r *PostgresStore) checkTransition(orderID string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n == 0 {
		r.Logger.Debugw("conditional transition matched no row", "order_id", orderID)
		return ErrStatusMismatch
	}
	return nil
}

func (r *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	rows, err := r.Conn.QueryContext(ctx, "SELECT "+orderFields+" FROM orders WHERE status = $1 ORDER BY created_at", string(status))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o           Order
		status      string
		items       []byte
		processedAt sql.NullTime
		reason      sql.NullString
	)
	err := row.Scan(&o.OrderID, &status, &o.CustomerName, &items, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt, &processedAt, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if err := json.Unmarshal(items, &o.SnackItems); err != nil {
		return nil, fmt.Errorf("unmarshal snack items: %w", err)
	}
	o.Status = Status(status)
	if processedAt.Valid {
		t := processedAt.Time
		o.ProcessedAt = &t
	}
	o.FailureReason = reason.String
	return &o, nil
}
