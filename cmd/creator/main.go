package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/app"
	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/config"
	"github.com/imrishuroy/serverless-snacks/internal/fulfillment"
	"github.com/imrishuroy/serverless-snacks/internal/handlers"
	"github.com/imrishuroy/serverless-snacks/internal/intake"
	"github.com/imrishuroy/serverless-snacks/internal/logging"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateCreator(); err != nil {
		logger.Fatalw("invalid configuration", "error", err)
	}

	deps, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalw("failed to init dependencies", "error", err)
	}
	defer deps.Close()

	// if RUN_LOCAL=true, run an HTTP server with the processor subscribed to an in-process bus.
	if cfg.RunLocal {
		if err := runLocal(deps, logger); err != nil {
			logger.Fatalw("local server failed", "error", err)
		}
		return
	}

	creator := intake.NewService(deps.Store, deps.Publisher(), deps.Metrics, logger)
	r := handlers.NewRouter(handlers.HandlerConfig{
		Creator:     creator,
		Orders:      deps.Store,
		Idempotency: deps.Idempotency(),
		Logger:      logger,
	})

	lambda.Start(handlers.NewLambdaInvoker(r).Invoke)
}

func runLocal(deps *app.Deps, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := bus.NewDispatcher(deps.Policy(), deps.FailureSink(deps.DeadLetter()), logger)
	local := bus.NewLocal(dispatcher, logger)

	processor := fulfillment.NewProcessor(deps.Store, &fulfillment.SimulatedFulfiller{
		Logger:    logger,
		StepDelay: 100 * time.Millisecond,
	}, deps.Metrics, logger)
	local.Subscribe("order-processor", bus.OrderCreatedPattern, processor.Handle)

	creator := intake.NewService(deps.Store, local, deps.Metrics, logger)
	r := handlers.NewRouter(handlers.HandlerConfig{
		Creator:     creator,
		Orders:      deps.Store,
		Idempotency: deps.Idempotency(),
		Logger:      logger,
	})

	srv := &http.Server{Addr: deps.Config.ListenAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("running local server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// let in-flight deliveries finish before exiting
	local.Wait()
	logger.Infow("local server stopped")
	return nil
}
