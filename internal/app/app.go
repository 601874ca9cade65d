// Package app assembles the components shared by the entry points from
// configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/aws"
	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/config"
	"github.com/imrishuroy/serverless-snacks/internal/deadletter"
	"github.com/imrishuroy/serverless-snacks/internal/idempotency"
	"github.com/imrishuroy/serverless-snacks/internal/metrics"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

type Deps struct {
	Config  config.Config
	Logger  *zap.SugaredLogger
	Clients *aws.AWSClients
	Store   orders.Store
	Metrics metrics.Recorder

	closers []func() error
}

// New builds the AWS clients, the configured order store and the metrics recorder.
func New(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*Deps, error) {
	clients, err := aws.NewAWSClients(ctx, aws.ConfigOptions{
		Region:           cfg.Region,
		EndpointOverride: cfg.EndpointOverride,
	})
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}

	d := &Deps{Config: cfg, Logger: logger, Clients: clients, Metrics: metrics.Nop{}}
	if cfg.MetricsNamespace != "" {
		d.Metrics = metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, logger)
	}

	switch cfg.OrderStore {
	case config.StorePostgres:
		pg, err := orders.OpenPostgres(ctx, cfg.DatabaseURI, logger)
		if err != nil {
			return nil, err
		}
		d.Store = pg
		d.closers = append(d.closers, pg.Conn.Close)
	default:
		d.Store = orders.NewDynamoStore(clients.DynamoDB, cfg.OrdersTable)
	}
	logger.Infow("order store ready", "backend", cfg.OrderStore)
	return d, nil
}

// Close releases the store connection, if any.
func (d *Deps) Close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			d.Logger.Warnw("close failed", "error", err)
		}
	}
}

// Policy is the bus retry policy with the configured attempt budget.
func (d *Deps) Policy() bus.Policy {
	p := bus.DefaultPolicy()
	p.AttemptTimeout = d.Config.AttemptTimeout
	return p
}

// Publisher puts events on the configured EventBridge bus.
func (d *Deps) Publisher() bus.Publisher {
	return bus.NewEventBridgePublisher(d.Clients.EventBridge, d.Config.EventBusName)
}

// DeadLetter is the SQS channel when DLQ_URL is set, otherwise an in-process
// channel that only lives as long as the process.
func (d *Deps) DeadLetter() deadletter.Channel {
	if d.Config.DeadLetterURL == "" {
		d.Logger.Warnw("DLQ_URL not set, dead letters are kept in memory")
		return deadletter.NewMemory()
	}
	return deadletter.NewSQSChannel(d.Clients.SQS, d.Config.DeadLetterURL)
}

// FailureSink wraps ch so captured failures are counted.
func (d *Deps) FailureSink(ch deadletter.Channel) bus.FailureSink {
	return deadletter.Metered{Channel: ch, Recorder: d.Metrics}
}

// Idempotency returns nil when no idempotency table is configured.
func (d *Deps) Idempotency() *idempotency.Store {
	if d.Config.IdempotencyTable == "" {
		return nil
	}
	return idempotency.NewStore(d.Clients.DynamoDB, d.Config.IdempotencyTable, d.Config.IdempotencyTTL)
}
