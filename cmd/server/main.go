package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402http "github.com/blip-x402/x402-demo/http"
	"github.com/blip-x402/x402-demo/internal/config"
	"github.com/blip-x402/x402-demo/internal/logging"
	"github.com/blip-x402/x402-demo/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(cfg.GinMode)

	facilitator := x402http.NewFacilitatorClient(&x402http.FacilitatorConfig{
		URL:      cfg.FacilitatorURL,
		APIKey:   cfg.FacilitatorAPIKey,
		Timeout:  cfg.FacilitatorTimeout,
		Logger:   logger,
		Observer: metrics.ObserveFacilitatorCall,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := newRouter(ctx, cfg, facilitator, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("network", cfg.Network),
			zap.String("price", cfg.PaymentAmount),
			zap.String("facilitator", cfg.FacilitatorURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
