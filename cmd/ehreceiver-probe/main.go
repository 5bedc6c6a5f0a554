// Command ehreceiver-probe is a diagnostic harness for the ehreceiver core:
// it wires a Receiver to an in-process simulated link (no real broker
// needed), logs batches as they arrive, and exposes Prometheus metrics and a
// health endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	eh "github.com/Harsh-BH/Sentinel/ehreceiver"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting ehreceiver probe")

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	clientID := uuid.NewString()
	factory := newDemoFactory(logger, cfg, clientID)
	defer factory.Shutdown()

	receiverCfg := eh.ReceiverConfig{
		Host:             factory.HostName(),
		EntityPath:       cfg.EntityPath,
		LinkName:         cfg.LinkName,
		Prefetch:         cfg.Prefetch,
		OperationTimeout: cfg.OperationTimeout(),
		TokenAudience:    cfg.TokenAudience,
		Hooks: eh.Hooks{
			OnOpenRetry: func() {
				logger.Warn("probe: scheduling link recreate after open failure")
			},
			OnLinkStateChange: func(from, to string) {
				logger.Info("probe: link state transition", zap.String("from", from), zap.String("to", to))
			},
		},
	}

	createCtx, createCancel := context.WithTimeout(ctx, receiverCfg.OperationTimeout+5*time.Second)
	receiver, err := eh.Create(createCtx, factory, receiverCfg, logger, reg)
	createCancel()
	if err != nil {
		logger.Fatal("failed to open receiver link", zap.Error(err))
	}
	logger.Info("receiver link open", zap.String("entity_path", cfg.EntityPath))

	go pollLoop(ctx, receiver, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics/health server listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down probe...")
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := receiver.Close(closeCtx); err != nil {
		logger.Error("error closing receiver", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	logger.Info("probe stopped")
}

// pollLoop repeatedly calls Receive and logs whatever arrives, until ctx is
// cancelled. A nil batch with a nil error is a plain timeout, not a failure.
func pollLoop(ctx context.Context, r *eh.Receiver, logger *zap.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := r.Receive(ctx, 10)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("receive failed", zap.Error(err))
			continue
		}
		if len(batch) == 0 {
			continue
		}
		logger.Info("received batch",
			zap.Int("count", len(batch)),
			zap.String("first_message_id", batch[0].MessageID))
	}
}
