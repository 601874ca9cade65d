package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/serverless-snacks/internal/app"
	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/config"
	"github.com/imrishuroy/serverless-snacks/internal/fulfillment"
	"github.com/imrishuroy/serverless-snacks/internal/logging"
)

// The Lambda event source must be configured with zero platform retries:
// the dispatcher already applies the retry policy and dead-letters in-process.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateProcessor(); err != nil {
		logger.Fatalw("invalid configuration", "error", err)
	}

	deps, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalw("failed to init dependencies", "error", err)
	}
	defer deps.Close()

	dispatcher := bus.NewDispatcher(deps.Policy(), deps.FailureSink(deps.DeadLetter()), logger)
	processor := fulfillment.NewProcessor(deps.Store, &fulfillment.SimulatedFulfiller{Logger: logger}, deps.Metrics, logger)
	invoker := fulfillment.NewInvoker(dispatcher, processor, logger)

	// If RUN_LOCAL=true, handle a single event from LOCAL_EVENT for local testing.
	if cfg.RunLocal {
		payload := os.Getenv("LOCAL_EVENT")
		if payload == "" {
			logger.Fatalw("LOCAL_EVENT must hold an EventBridge event or SQS batch")
		}
		resp, err := invoker.Invoke(context.Background(), json.RawMessage(payload))
		if err != nil {
			logger.Fatalw("local handler error", "error", err)
		}
		if resp != nil {
			logger.Infow("batch handled", "failed_records", len(resp.BatchItemFailures))
		}
		return
	}

	lambda.Start(invoker.Invoke)
}
