// Command replay inspects and drains the dead-letter queue.
//
//	replay list      [-max N]
//	replay replay    [-max N]
//	replay reconcile [-max N]
//	replay scan      -status NEW
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/imrishuroy/serverless-snacks/internal/app"
	"github.com/imrishuroy/serverless-snacks/internal/config"
	"github.com/imrishuroy/serverless-snacks/internal/deadletter"
	"github.com/imrishuroy/serverless-snacks/internal/logging"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
	"github.com/imrishuroy/serverless-snacks/internal/replay"
)

// receiveWait is the SQS long-poll wait used while draining.
const receiveWait = 2 * time.Second

func usage() {
	fmt.Fprintln(os.Stderr, "usage: replay <list|replay|reconcile|scan> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	limit := fs.Int("max", 10, "maximum number of entries to handle; 0 means all")
	status := fs.String("status", string(orders.StatusNew), "order status to scan for")
	_ = fs.Parse(os.Args[2:])

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateStore(); err != nil {
		logger.Fatalw("invalid configuration", "error", err)
	}
	if cmd != "scan" && cfg.DeadLetterURL == "" {
		logger.Fatalw("invalid configuration", "error", config.ErrMissingDeadLetter)
	}

	ctx := context.Background()
	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("failed to init dependencies", "error", err)
	}
	defer deps.Close()

	ch := deps.DeadLetter()
	if q, ok := ch.(*deadletter.SQSChannel); ok {
		q.WaitTime = receiveWait
	}
	r := replay.New(ch, deps.Publisher(), deps.Store, logger)
	out := json.NewEncoder(os.Stdout)

	switch cmd {
	case "list":
		msgs, err := r.List(ctx, *limit)
		if err != nil {
			logger.Fatalw("list failed", "error", err)
		}
		for _, m := range msgs {
			_ = out.Encode(m)
		}
	case "replay", "reconcile":
		run := r.Replay
		if cmd == "reconcile" {
			run = r.Reconcile
		}
		results, err := run(ctx, *limit)
		failed := 0
		for _, res := range results {
			line := map[string]string{"messageId": res.MessageID, "orderId": res.OrderID, "action": res.Action}
			if res.Err != nil {
				failed++
				line["error"] = res.Err.Error()
			}
			_ = out.Encode(line)
		}
		if err != nil {
			logger.Fatalw(cmd+" failed", "error", err)
		}
		if failed > 0 {
			logger.Warnw("some entries were left on the queue", "failed", failed)
			os.Exit(1)
		}
	case "scan":
		list, err := r.Scan(ctx, orders.Status(*status))
		if err != nil {
			logger.Fatalw("scan failed", "error", err)
		}
		for _, o := range list {
			_ = out.Encode(o)
		}
	default:
		usage()
	}
}
