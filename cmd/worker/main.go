package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crospyder/ocr-core/internal/bootstrap"
	"github.com/crospyder/ocr-core/internal/config"
	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/observability/logging"
	"github.com/crospyder/ocr-core/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, logger, workerMetrics.Registerer())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSReprocessSubject)
	err = app.Queue.SubscribeReprocess(ctx, func(handlerCtx context.Context, req domain.ReprocessRequest) error {
		if !req.RequestedAt.IsZero() {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(req.RequestedAt))
		}
		workerMetrics.StartDocument()
		started := time.Now()

		processCtx, cancel := context.WithTimeout(handlerCtx, cfg.WorkerItemTimeout)
		defer cancel()
		err := app.Reprocess.ReprocessByID(processCtx, req.DocumentID)
		workerMetrics.FinishDocument(serviceName, time.Since(started), err)
		if err != nil {
			return err
		}
		logger.Info("reprocess_done", "document_id", req.DocumentID, "request_id", req.RequestID)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
