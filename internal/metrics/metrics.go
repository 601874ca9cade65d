// Package metrics counts lifecycle events in CloudWatch.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/aws"
)

// Metric names
const (
	OrdersCreated       = "OrdersCreated"
	OrdersProcessed     = "OrdersProcessed"
	DuplicateDeliveries = "DuplicateDeliveries"
	PartialWrites       = "PartialWrites"
	EventsDeadLettered  = "EventsDeadLettered"
)

// Recorder counts occurrences. Implementations never fail the caller.
type Recorder interface {
	Count(ctx context.Context, name string, n float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Count(context.Context, string, float64) {}

// CloudWatch publishes one datum per call.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *zap.SugaredLogger
	nowFunc   func() time.Time
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string, logger *zap.SugaredLogger) *CloudWatch {
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

func (c *CloudWatch) Count(ctx context.Context, name string, n float64) {
	now := c.nowFunc()
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &c.namespace,
		MetricData: []cwtypes.MetricDatum{{
			MetricName: &name,
			Value:      &n,
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &now,
		}},
	})
	if err != nil {
		c.logger.Warnw("put metric failed", "metric", name, "error", err)
	}
}
