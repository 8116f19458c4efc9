package main

import (
	"NoteDetClient/logger"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadReceiverConfig("receiver.yaml")
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Named("receiver")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := newReceiverMetrics()
	if cfg.MetricsPort > 0 {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler: promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{Registry: metrics.registry}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Fatal("listen", zap.Int("port", cfg.Port), zap.Error(err))
	}
	log.Info("UDP server listening", zap.Int("port", cfg.Port))

	r := &receiver{cam: cfg.Camera.camera(), torus: cfg.Torus, log: log, metrics: metrics}
	if err := r.serve(ctx, conn); err != nil {
		log.Error("receiver stopped", zap.Error(err))
		return
	}
	log.Info("receiver stopped")
}
